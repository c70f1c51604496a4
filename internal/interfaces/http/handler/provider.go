package handler

import (
	"github.com/gin-gonic/gin"

	"storyforge-api/internal/interfaces/http/dto"
)

// ProviderCatalog 已配置的生成服务提供商（llm.Registry 实现）
type ProviderCatalog interface {
	Names() []string
	Default() string
}

// ProviderHandler 提供商目录
type ProviderHandler struct {
	catalog ProviderCatalog
}

func NewProviderHandler(catalog ProviderCatalog) *ProviderHandler {
	return &ProviderHandler{catalog: catalog}
}

// List 列出可在生成请求中选择的提供商
// @Summary 提供商列表
// @Tags Providers
// @Produce json
// @Success 200 {object} dto.Response[dto.ProviderListResponse]
// @Router /v1/providers [get]
func (h *ProviderHandler) List(c *gin.Context) {
	dto.Success(c, &dto.ProviderListResponse{
		Default:   h.catalog.Default(),
		Providers: h.catalog.Names(),
	})
}
