package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由；generateLimit 只作用于会调用生成服务的端点
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers, generateLimit gin.HandlerFunc) {
	// 模板目录
	v1.GET("/templates", h.Template.List)
	v1.GET("/providers", h.Provider.List)

	// 章节缓存
	v1.DELETE("/stories/:story_id/chapters/cache", h.ChapterCache.Invalidate)

	// 起草
	drafts := v1.Group("/drafts")
	{
		drafts.POST("/preview", h.Draft.Preview)
		drafts.POST("/generate", generateLimit, h.Draft.Generate)
		drafts.POST("/complete", generateLimit, h.Draft.Complete)
	}

	// 生成会话
	sessions := v1.Group("/sessions")
	{
		sessions.GET("/:sid", h.Session.Get)
		sessions.DELETE("/:sid", h.Session.Delete)
		sessions.POST("/:sid/abort", h.Session.Abort)
		sessions.POST("/:sid/reset", h.Session.Reset)
	}
}
