package generation

import (
	"context"
	"sort"

	"storyforge-api/internal/application/lorebook"
	"storyforge-api/internal/application/prompt"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/tracer"
)

// DraftRequest 预览与执行共用的输入
type DraftRequest struct {
	Config prompt.ParserConfig
	// LorebookIDs 显式指定的设定条目
	LorebookIDs []string
	// AutoMatchLorebook 根据指令与章节文本自动挑选设定条目
	AutoMatchLorebook bool
}

// Service 起草服务：预览与执行走同一个 Parser，保证两条路径得到相同的消息序列
type Service struct {
	parser    *prompt.Parser
	matcher   *lorebook.Matcher
	chapters  repository.ChapterRepository
	sessions  *Manager
	limits    Limits
	scanDepth int
}

func NewService(parser *prompt.Parser, matcher *lorebook.Matcher, chapters repository.ChapterRepository, sessions *Manager, cfg *config.Config) *Service {
	return &Service{
		parser:   parser,
		matcher:  matcher,
		chapters: chapters,
		sessions: sessions,
		limits: Limits{
			MaxTemperature: cfg.Generation.MaxTemperature,
			MaxTokens:      cfg.Generation.MaxTokensLimit,
		},
		scanDepth: cfg.Prompt.LorebookScanDepth,
	}
}

// Preview 只解析模板，不调用提供商
func (s *Service) Preview(ctx context.Context, req DraftRequest) (*prompt.ParseResult, error) {
	ctx, span := tracer.Start(ctx, "generation.Service.Preview")
	defer span.End()

	cfg, err := s.resolveConfig(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(ctx, cfg)
}

// Execution 已准备好的一次生成
type Execution struct {
	Session    *Session
	Messages   []entity.PromptMessage
	Params     Params
	templateID string
	dispatcher *Dispatcher
}

// Prepare 校验参数、渲染消息并创建会话。模板无法解析时以值的形式返回 ConfigurationError。
func (s *Service) Prepare(ctx context.Context, req DraftRequest, params Params) (*Execution, *prompt.ConfigurationError, error) {
	if err := params.Validate(s.limits); err != nil {
		return nil, nil, err
	}

	result, err := s.Preview(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if result.Err != nil {
		return nil, result.Err, nil
	}

	session, dispatcher := s.sessions.Create(req.Config.StoryID)
	return &Execution{
		Session:    session,
		Messages:   result.Messages,
		Params:     params,
		templateID: string(req.Config.TemplateID),
		dispatcher: dispatcher,
	}, nil, nil
}

// Run 派发并消费流，返回最终文本。被取消时返回 ErrAborted（204 时为 ("", nil)）。
func (e *Execution) Run(ctx context.Context) (string, error) {
	ctx = service.WithTemplate(ctx, e.templateID)
	ctx, span := tracer.Start(ctx, "generation.Execution.Run")
	defer span.End()

	resp, err := e.dispatcher.Generate(ctx, e.Params, e.Messages)
	if err != nil {
		e.Session.Fail(ctx, err)
		return "", err
	}
	text, err := e.Session.Process(ctx, resp)
	if err != nil && !apperrors.IsAborted(err) {
		span.RecordError(err)
	}
	return text, err
}

// resolveConfig 按需补充设定条目，返回新的 ParserConfig（不修改入参）
func (s *Service) resolveConfig(ctx context.Context, req DraftRequest) (prompt.ParserConfig, error) {
	cfg := req.Config
	if s.matcher == nil || (len(req.LorebookIDs) == 0 && !req.AutoMatchLorebook) {
		return cfg, nil
	}

	var texts []string
	if req.AutoMatchLorebook {
		var err error
		texts, err = s.scanTexts(ctx, cfg)
		if err != nil {
			return cfg, err
		}
	}

	selected, err := s.matcher.Select(ctx, cfg.StoryID, req.LorebookIDs, texts...)
	if err != nil {
		return cfg, err
	}

	merged := make([]*entity.LorebookEntry, 0, len(cfg.MatchedEntries)+len(selected))
	seen := make(map[string]struct{}, cap(merged))
	for _, e := range append(append([]*entity.LorebookEntry(nil), cfg.MatchedEntries...), selected...) {
		if e == nil {
			continue
		}
		if _, ok := seen[e.ID]; ok && e.ID != "" {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}
	cfg.MatchedEntries = merged
	return cfg, nil
}

// scanTexts 关键词匹配所扫描的文本：指令、附加上下文、历史消息，以及当前章节与其前 scanDepth 章
func (s *Service) scanTexts(ctx context.Context, cfg prompt.ParserConfig) ([]string, error) {
	texts := []string{cfg.Instruction}

	keys := make([]string, 0, len(cfg.AdditionalContext))
	for k := range cfg.AdditionalContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		texts = append(texts, cfg.AdditionalContext[k])
	}
	for _, m := range cfg.History {
		texts = append(texts, m.Content)
	}

	if cfg.ChapterID == "" || s.chapters == nil {
		return texts, nil
	}
	chapters, err := s.chapters.ListByStory(ctx, cfg.StoryID)
	if err != nil {
		return nil, apperrors.ErrDataUnavailable.WithError(err)
	}

	var current *entity.Chapter
	for _, c := range chapters {
		if c.ID == cfg.ChapterID {
			current = c
			break
		}
	}
	if current == nil {
		return texts, nil
	}
	texts = append(texts, current.Content)
	for _, c := range chapters {
		if c.Order < current.Order && c.Order >= current.Order-s.scanDepth {
			texts = append(texts, c.Content)
		}
	}
	return texts, nil
}
