package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/interfaces/http/dto"
	"storyforge-api/pkg/logger"
)

// ChapterCacheHandler 章节读缓存失效。编辑器保存章节后调用，使下一次起草读取到最新内容
type ChapterCacheHandler struct {
	chapters repository.ChapterRepository
}

func NewChapterCacheHandler(chapters repository.ChapterRepository) *ChapterCacheHandler {
	return &ChapterCacheHandler{chapters: chapters}
}

// Invalidate 清除故事章节列表及指定章节的缓存；未启用缓存时为空操作
// @Summary 章节缓存失效
// @Tags Stories
// @Accept json
// @Param story_id path string true "故事 ID"
// @Param body body dto.InvalidateChaptersRequest false "章节 ID"
// @Success 204
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/stories/{story_id}/chapters/cache [delete]
func (h *ChapterCacheHandler) Invalidate(c *gin.Context) {
	storyID := strings.TrimSpace(c.Param("story_id"))

	var req dto.InvalidateChaptersRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			dto.BadRequest(c, err.Error())
			return
		}
	}

	invalidator, ok := h.chapters.(repository.ChapterCacheInvalidator)
	if !ok {
		dto.NoContent(c)
		return
	}
	if err := invalidator.Invalidate(c.Request.Context(), storyID, req.ChapterIDs...); err != nil {
		logger.Warn(c.Request.Context(), "chapter cache invalidation failed", "story_id", storyID, "error", err)
		dto.Error(c, http.StatusServiceUnavailable, "chapter cache unavailable")
		return
	}
	dto.NoContent(c)
}
