//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/application/lorebook"
	"storyforge-api/internal/application/prompt"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/infrastructure/llm"
	"storyforge-api/internal/infrastructure/persistence/postgres"
	"storyforge-api/internal/interfaces/http/handler"
	"storyforge-api/internal/interfaces/http/router"
	prompttpl "storyforge-api/internal/workflow/prompt"
)

// InitializeApp 初始化整个应用（带路由器与会话管理器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		DataSet,
		GenerationSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// DataSet 数据层：PostgreSQL 仓储、Redis 缓存与通知
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewChapterRepository,
	postgres.NewLorebookRepository,
	wire.Bind(new(repository.LorebookRepository), new(*postgres.LorebookRepository)),
	ProvideRedisClient,
	ProvideChapterRepository,
	ProvideNotifier,
)

// GenerationSet 提示词组装与生成
var GenerationSet = wire.NewSet(
	llm.NewRegistry,
	wire.Bind(new(generation.ProviderSource), new(*llm.Registry)),
	prompttpl.NewRegistry,
	prompt.NewContextBuilder,
	prompt.NewParser,
	lorebook.NewMatcher,
	generation.NewManager,
	generation.NewService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideHealthHandler,
	handler.NewDraftHandler,
	handler.NewSessionHandler,
	handler.NewTemplateHandler,
	handler.NewProviderHandler,
	wire.Bind(new(handler.ProviderCatalog), new(*llm.Registry)),
	handler.NewChapterCacheHandler,
	wire.Struct(new(router.Handlers), "*"),
	ProvideRateLimiter,
	router.New,
)
