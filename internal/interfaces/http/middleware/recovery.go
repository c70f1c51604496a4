// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

// Recovery Panic 恢复中间件。
// SSE 响应头已发出时无法再改写状态码，只能中断连接。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				fmt.Errorf("%v", rec),
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":       errors.CodeInternalError,
				"message":    "internal server error",
				"request_id": c.GetString(requestIDKey),
				"trace_id":   c.GetString("trace_id"),
			})
		}()

		c.Next()
	}
}
