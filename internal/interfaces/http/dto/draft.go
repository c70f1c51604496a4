package dto

import (
	"strings"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/application/prompt"
	"storyforge-api/internal/domain/entity"
	prompttpl "storyforge-api/internal/workflow/prompt"
)

// DraftRequest 预览请求；生成请求在此基础上附加生成参数
type DraftRequest struct {
	StoryID    string `json:"story_id" binding:"required"`
	ChapterID  string `json:"chapter_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	// POVCharacter/POVType 为空或缺省时回退到章节存储的值
	POVCharacter      *string                `json:"pov_character,omitempty"`
	POVType           *string                `json:"pov_type,omitempty"`
	Instruction       string                 `json:"instruction,omitempty"`
	AdditionalContext map[string]string      `json:"additional_context,omitempty"`
	History           []entity.PromptMessage `json:"history,omitempty"`
	LorebookIDs       []string               `json:"lorebook_ids,omitempty"`
	AutoMatchLorebook bool                   `json:"auto_match_lorebook,omitempty"`
}

// ToDraft 转换为应用层输入
func (r *DraftRequest) ToDraft() generation.DraftRequest {
	return generation.DraftRequest{
		Config: prompt.ParserConfig{
			StoryID:           strings.TrimSpace(r.StoryID),
			ChapterID:         strings.TrimSpace(r.ChapterID),
			POVCharacter:      r.POVCharacter,
			POVType:           r.POVType,
			AdditionalContext: r.AdditionalContext,
			TemplateID:        prompttpl.PromptID(strings.TrimSpace(r.TemplateID)),
			Instruction:       r.Instruction,
			History:           r.History,
		},
		LorebookIDs:       r.LorebookIDs,
		AutoMatchLorebook: r.AutoMatchLorebook,
	}
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	DraftRequest
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ToParams 缺省的温度与长度使用默认值；范围校验由应用层负责
func (r *GenerateRequest) ToParams() generation.Params {
	p := generation.Params{
		Temperature: generation.DefaultTemperature,
		MaxTokens:   generation.DefaultMaxTokens,
		Provider:    strings.TrimSpace(r.Provider),
		Model:       strings.TrimSpace(r.Model),
	}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		p.MaxTokens = *r.MaxTokens
	}
	return p
}

// PreviewResponse 预览结果。模板无法解析时 Messages 为空、Error 给出原因（仍为 200）
type PreviewResponse struct {
	Messages []entity.PromptMessage     `json:"messages"`
	Error    *prompt.ConfigurationError `json:"error,omitempty"`
}

// NewPreviewResponse 转换预览结果
func NewPreviewResponse(r *prompt.ParseResult) *PreviewResponse {
	resp := &PreviewResponse{Messages: r.Messages, Error: r.Err}
	if resp.Messages == nil {
		resp.Messages = []entity.PromptMessage{}
	}
	return resp
}

// CompletionResponse 非流式生成结果
type CompletionResponse struct {
	SessionID string                    `json:"session_id"`
	Text      string                    `json:"text"`
	State     generation.StreamingState `json:"state"`
}

// SessionResponse 会话状态
type SessionResponse struct {
	SessionID string                    `json:"session_id"`
	StoryID   string                    `json:"story_id"`
	State     generation.StreamingState `json:"state"`
}

// NewSessionResponse 从会话构造响应
func NewSessionResponse(s *generation.Session, state generation.StreamingState) *SessionResponse {
	return &SessionResponse{SessionID: s.ID(), StoryID: s.StoryID(), State: state}
}

// TemplateResponse 模板描述
type TemplateResponse struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Requires    []string `json:"requires,omitempty"`
}

// NewTemplateListResponse 转换模板列表
func NewTemplateListResponse(list []prompttpl.Descriptor) []*TemplateResponse {
	out := make([]*TemplateResponse, 0, len(list))
	for _, d := range list {
		out = append(out, &TemplateResponse{ID: string(d.ID), Description: d.Description, Requires: d.Requires})
	}
	return out
}

// ProviderListResponse 提供商目录
type ProviderListResponse struct {
	Default   string   `json:"default"`
	Providers []string `json:"providers"`
}

// InvalidateChaptersRequest 需要失效的章节；为空时只清除章节列表
type InvalidateChaptersRequest struct {
	ChapterIDs []string `json:"chapter_ids,omitempty"`
}
