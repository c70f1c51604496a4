package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"storyforge-api/pkg/metrics"
)

// Metrics Prometheus 指标采集中间件。
// 未匹配路由统一记为 "unmatched"，防止任意路径撑爆标签基数；skip 中的路径（如 /metrics 本身）不计数。
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if _, ok := skipped[path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		// SSE 请求的时长包含整个生成过程
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
