// Package prompt 负责把故事上下文组装为发送给模型的消息序列
package prompt

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	prompttpl "storyforge-api/internal/workflow/prompt"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/metrics"
)

// ParserConfig 调用方意图。构造后不再修改。
type ParserConfig struct {
	StoryID   string
	ChapterID string
	// nil 表示未显式指定，交给章节或系统默认值
	POVCharacter      *string
	POVType           *string
	AdditionalContext map[string]string
	MatchedEntries    []*entity.LorebookEntry

	TemplateID  prompttpl.PromptID
	Instruction string
	History     []entity.PromptMessage
}

// PromptContext 渲染所需的完整上下文
type PromptContext struct {
	Config         ParserConfig
	Chapters       []*entity.Chapter
	CurrentChapter *entity.Chapter
	POVCharacter   string
	// POVType 解析后一定非空
	POVType           string
	AdditionalContext map[string]string
}

type ContextBuilder struct {
	chapters       repository.ChapterRepository
	defaultPOVType string
}

func NewContextBuilder(chapters repository.ChapterRepository, cfg *config.Config) *ContextBuilder {
	def := cfg.Prompt.DefaultPOVType
	if def == "" {
		def = entity.DefaultPOVType
	}
	return &ContextBuilder{chapters: chapters, defaultPOVType: def}
}

// BuildContext 并发读取章节列表与当前章节，并按
// 显式配置 > 当前章节存储值 > 系统默认值 的优先级解析视角字段。
// 存储层故障原样上抛（DataUnavailable）；章节"未找到"不视为失败。
func (b *ContextBuilder) BuildContext(ctx context.Context, cfg ParserConfig) (*PromptContext, error) {
	if cfg.StoryID == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("story id is required")
	}

	start := time.Now()
	defer func() { metrics.ContextBuildDuration.Observe(time.Since(start).Seconds()) }()

	var (
		chapters []*entity.Chapter
		current  *entity.Chapter
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chapters, err = b.chapters.ListByStory(gctx, cfg.StoryID)
		if err != nil {
			return apperrors.ErrDataUnavailable.WithError(err)
		}
		return nil
	})
	if cfg.ChapterID != "" {
		g.Go(func() error {
			var err error
			current, err = b.chapters.GetByID(gctx, cfg.ChapterID)
			if err != nil {
				return apperrors.ErrDataUnavailable.WithError(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if chapters == nil {
		chapters = []*entity.Chapter{}
	}

	additional := make(map[string]string, len(cfg.AdditionalContext))
	for k, v := range cfg.AdditionalContext {
		additional[k] = v
	}

	return &PromptContext{
		Config:            cfg,
		Chapters:          chapters,
		CurrentChapter:    current,
		POVCharacter:      resolve(cfg.POVCharacter, chapterValue(current, func(c *entity.Chapter) string { return c.POVCharacter }), ""),
		POVType:           resolve(cfg.POVType, chapterValue(current, func(c *entity.Chapter) string { return c.POVType }), b.defaultPOVType),
		AdditionalContext: additional,
	}, nil
}

// resolve 三级回退：显式值 > 章节值 > 默认值。空字符串视为缺失。
func resolve(explicit *string, stored, fallback string) string {
	if explicit != nil && *explicit != "" {
		return *explicit
	}
	if stored != "" {
		return stored
	}
	return fallback
}

func chapterValue(c *entity.Chapter, get func(*entity.Chapter) string) string {
	if c == nil {
		return ""
	}
	return get(c)
}
