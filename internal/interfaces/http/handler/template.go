package handler

import (
	"github.com/gin-gonic/gin"

	"storyforge-api/internal/interfaces/http/dto"
	prompttpl "storyforge-api/internal/workflow/prompt"
)

// TemplateHandler 模板目录
type TemplateHandler struct {
	templates *prompttpl.Registry
}

func NewTemplateHandler(templates *prompttpl.Registry) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// List 列出可用模板及其必需变量
// @Summary 模板列表
// @Tags Templates
// @Produce json
// @Success 200 {object} dto.Response[[]dto.TemplateResponse]
// @Router /v1/templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	dto.Success(c, dto.NewTemplateListResponse(h.templates.List()))
}
