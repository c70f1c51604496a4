package prompt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	prompttpl "storyforge-api/internal/workflow/prompt"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

// ConfigurationError 模板无法针对给定上下文解析。
// 作为值返回，调用方据此区分"无可预览内容"与系统故障。
type ConfigurationError struct {
	TemplateID prompttpl.PromptID `json:"template_id"`
	Reason     string             `json:"reason"`
	Missing    []string           `json:"missing,omitempty"`
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %s: %s (missing: %s)", e.TemplateID, e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %s: %s", e.TemplateID, e.Reason)
}

// AppError 转换为统一错误，供 HTTP 层输出
func (e *ConfigurationError) AppError() *apperrors.AppError {
	return apperrors.ErrTemplateResolution.WithDetail(e.Error())
}

// ParseResult Messages 与 Err 二者恰有其一
type ParseResult struct {
	Messages []entity.PromptMessage
	Err      *ConfigurationError
}

// Parser 无状态，可并发使用
type Parser struct {
	builder         *ContextBuilder
	templates       *prompttpl.Registry
	defaultTemplate prompttpl.PromptID
}

func NewParser(builder *ContextBuilder, templates *prompttpl.Registry, cfg *config.Config) *Parser {
	def := prompttpl.PromptID(cfg.Prompt.DefaultTemplate)
	if def == "" {
		def = prompttpl.PromptContinueV1
	}
	return &Parser{builder: builder, templates: templates, defaultTemplate: def}
}

// Parse 构建上下文并渲染模板。返回的 error 仅表示基础设施故障。
func (p *Parser) Parse(ctx context.Context, cfg ParserConfig) (*ParseResult, error) {
	pctx, err := p.builder.BuildContext(ctx, cfg)
	if err != nil {
		metrics.PromptRenderTotal.WithLabelValues(string(p.templateID(cfg)), "data_error").Inc()
		return nil, err
	}
	return p.Render(ctx, pctx), nil
}

// Render 渲染已构建的上下文；相同输入得到逐字节相同的消息序列
func (p *Parser) Render(ctx context.Context, pctx *PromptContext) *ParseResult {
	id := p.templateID(pctx.Config)

	result := p.render(ctx, id, pctx)
	if result.Err != nil {
		metrics.PromptRenderTotal.WithLabelValues(string(id), "config_error").Inc()
		logger.Debug(ctx, "prompt template unresolved", "template", string(id), "reason", result.Err.Reason)
		return result
	}
	metrics.PromptRenderTotal.WithLabelValues(string(id), "ok").Inc()
	return result
}

func (p *Parser) render(ctx context.Context, id prompttpl.PromptID, pctx *PromptContext) *ParseResult {
	desc, ok := p.templates.Describe(id)
	if !ok {
		return &ParseResult{Err: &ConfigurationError{TemplateID: id, Reason: "unknown template"}}
	}

	vars, err := templateVars(pctx)
	if err != nil {
		return &ParseResult{Err: &ConfigurationError{TemplateID: id, Reason: err.Error()}}
	}
	if missing := missingVars(desc.Requires, vars); len(missing) > 0 {
		return &ParseResult{Err: &ConfigurationError{TemplateID: id, Reason: "required context is absent", Missing: missing}}
	}

	rendered, err := p.templates.Render(ctx, id, vars)
	if err != nil {
		var appErr *apperrors.AppError
		reason := err.Error()
		if errors.As(err, &appErr) {
			reason = appErr.Message
		}
		return &ParseResult{Err: &ConfigurationError{TemplateID: id, Reason: reason}}
	}

	messages := make([]entity.PromptMessage, 0, len(rendered))
	for _, m := range rendered {
		if m.Content == "" {
			return &ParseResult{Err: &ConfigurationError{TemplateID: id, Reason: fmt.Sprintf("template rendered an empty %s message", m.Role)}}
		}
		messages = append(messages, entity.PromptMessage{Role: entity.MessageRole(m.Role), Content: m.Content})
	}
	return &ParseResult{Messages: messages}
}

func (p *Parser) templateID(cfg ParserConfig) prompttpl.PromptID {
	if cfg.TemplateID != "" {
		return cfg.TemplateID
	}
	return p.defaultTemplate
}

// templateVars 把上下文展开为模板变量。所有变量都会给出，缺失的字段用零值。
func templateVars(pctx *PromptContext) (map[string]any, error) {
	history := make([]*schema.Message, 0, len(pctx.Config.History))
	for i, m := range pctx.Config.History {
		switch m.Role {
		case entity.RoleSystem:
			history = append(history, schema.SystemMessage(m.Content))
		case entity.RoleUser:
			history = append(history, schema.UserMessage(m.Content))
		case entity.RoleAssistant:
			history = append(history, schema.AssistantMessage(m.Content, nil))
		default:
			return nil, fmt.Errorf("history message %d has unsupported role %q", i, m.Role)
		}
	}

	vars := map[string]any{
		prompttpl.VarPOVType:           pctx.POVType,
		prompttpl.VarPOVCharacter:      pctx.POVCharacter,
		prompttpl.VarHasChapter:        false,
		prompttpl.VarChapterTitle:      "",
		prompttpl.VarChapterSummary:    "",
		prompttpl.VarChapterContent:    "",
		prompttpl.VarPreviousChapters:  previousChapters(pctx),
		prompttpl.VarLorebook:          lorebookVars(pctx.Config.MatchedEntries),
		prompttpl.VarAdditionalContext: additionalVars(pctx.AdditionalContext),
		prompttpl.VarInstruction:       strings.TrimSpace(pctx.Config.Instruction),
		prompttpl.VarHistory:           history,
	}
	if c := pctx.CurrentChapter; c != nil {
		vars[prompttpl.VarHasChapter] = true
		vars[prompttpl.VarChapterTitle] = c.Title
		vars[prompttpl.VarChapterSummary] = c.Summary
		vars[prompttpl.VarChapterContent] = c.Content
	}
	return vars, nil
}

// previousChapters 当前章节之前（无当前章节时为全部）且有摘要的章节，按顺序排列
func previousChapters(pctx *PromptContext) []map[string]any {
	chapters := make([]*entity.Chapter, 0, len(pctx.Chapters))
	for _, c := range pctx.Chapters {
		if c == nil || strings.TrimSpace(c.Summary) == "" {
			continue
		}
		if cur := pctx.CurrentChapter; cur != nil && (c.ID == cur.ID || c.Order >= cur.Order) {
			continue
		}
		chapters = append(chapters, c)
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })

	out := make([]map[string]any, 0, len(chapters))
	for _, c := range chapters {
		out = append(out, map[string]any{"order": c.Order, "title": c.Title, "summary": strings.TrimSpace(c.Summary)})
	}
	return out
}

func lorebookVars(entries []*entity.LorebookEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.IsDisabled {
			continue
		}
		out = append(out, map[string]any{
			"name":        e.Name,
			"category":    string(e.Category),
			"description": strings.TrimSpace(e.Description),
		})
	}
	return out
}

func additionalVars(m map[string]string) []map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{"key": k, "value": m[k]})
	}
	return out
}

func missingVars(required []string, vars map[string]any) []string {
	var missing []string
	for _, name := range required {
		switch v := vars[name].(type) {
		case string:
			if v == "" {
				missing = append(missing, name)
			}
		case bool:
			if !v {
				missing = append(missing, name)
			}
		case nil:
			missing = append(missing, name)
		}
	}
	return missing
}
