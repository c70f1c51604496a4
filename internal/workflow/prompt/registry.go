// Package prompt 管理内置的 prompt 模板
package prompt

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	apperrors "storyforge-api/pkg/errors"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptSceneBeatV1  PromptID = "scene_beat_v1"
	PromptContinueV1   PromptID = "continue_v1"
	PromptSummarizeV1  PromptID = "summarize_v1"
	PromptBrainstormV1 PromptID = "brainstorm_v1"
)

// 模板变量名
const (
	VarPOVType           = "pov_type"
	VarPOVCharacter      = "pov_character"
	VarHasChapter        = "has_chapter"
	VarChapterTitle      = "chapter_title"
	VarChapterSummary    = "chapter_summary"
	VarChapterContent    = "chapter_content"
	VarPreviousChapters  = "previous_chapters"
	VarLorebook          = "lorebook"
	VarAdditionalContext = "additional_context"
	VarInstruction       = "instruction"
	VarHistory           = "history"
)

// Descriptor 模板描述；Requires 中的变量缺失时模板无法产出有意义的内容
type Descriptor struct {
	ID          PromptID `json:"id"`
	Description string   `json:"description"`
	Requires    []string `json:"requires,omitempty"`
}

var descriptors = map[PromptID]Descriptor{
	PromptSceneBeatV1: {
		ID:          PromptSceneBeatV1,
		Description: "Expand a scene beat into prose in the chapter's voice",
		Requires:    []string{VarInstruction},
	},
	PromptContinueV1: {
		ID:          PromptContinueV1,
		Description: "Continue writing from the end of the current chapter",
		Requires:    []string{VarHasChapter},
	},
	PromptSummarizeV1: {
		ID:          PromptSummarizeV1,
		Description: "Summarize the current chapter",
		Requires:    []string{VarHasChapter},
	},
	PromptBrainstormV1: {
		ID:          PromptBrainstormV1,
		Description: "Brainstorm ideas for the story",
		Requires:    []string{VarInstruction},
	},
}

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

// Describe 返回模板描述
func (r *Registry) Describe(id PromptID) (Descriptor, bool) {
	d, ok := descriptors[id]
	return d, ok
}

// List 按 ID 排序返回全部模板描述
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	if _, ok := descriptors[id]; !ok {
		return nil, apperrors.ErrTemplateNotFound.WithDetail(string(id))
	}
	system, err := readEmbeddedText(fmt.Sprintf("templates/%s.system.txt", id))
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(fmt.Sprintf("templates/%s.user.txt", id))
	if err != nil {
		return nil, err
	}

	tpl := einoprompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.MessagesPlaceholder(VarHistory, true),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 用给定变量渲染模板。vars 必须包含模板引用的全部变量
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) ([]*schema.Message, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", id, err)
	}
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		cp.Content = strings.TrimSpace(cp.Content)
		out = append(out, &cp)
	}
	return out, nil
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
