package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyforge-api/pkg/logger"
)

const (
	// RequestIDHeader 请求 ID 头
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	// 超长的外部 ID 会被替换，避免污染日志
	maxRequestIDLen = 64
)

// RequestID 请求 ID 注入中间件：沿用上游传入的 ID，缺失或不合法时生成新的
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), logger.RequestIDKey, requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}
