package handler

import (
	"github.com/gin-gonic/gin"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/interfaces/http/dto"
)

// SessionHandler 生成会话的查询与控制
type SessionHandler struct {
	sessions *generation.Manager
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *generation.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Get 查询会话状态
// @Summary 查询会话
// @Tags Sessions
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/sessions/{sid} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("sid"))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.NewSessionResponse(s, s.State()))
}

// Abort 取消进行中的生成；已累积的文本保留
// @Summary 取消生成
// @Tags Sessions
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/sessions/{sid}/abort [post]
func (h *SessionHandler) Abort(c *gin.Context) {
	h.control(c, h.sessions.Abort)
}

// Reset 清空会话状态
// @Summary 重置会话
// @Tags Sessions
// @Produce json
// @Param sid path string true "会话 ID"
// @Success 200 {object} dto.Response[dto.SessionResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/sessions/{sid}/reset [post]
func (h *SessionHandler) Reset(c *gin.Context) {
	h.control(c, h.sessions.Reset)
}

// Delete 取消并移除会话
// @Summary 删除会话
// @Tags Sessions
// @Param sid path string true "会话 ID"
// @Success 204
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/sessions/{sid} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("sid")
	if _, err := h.sessions.Abort(id); err != nil {
		dto.AppError(c, err)
		return
	}
	h.sessions.Remove(id)
	dto.NoContent(c)
}

func (h *SessionHandler) control(c *gin.Context, op func(id string) (generation.StreamingState, error)) {
	id := c.Param("sid")
	state, err := op(id)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.NewSessionResponse(s, state))
}
