package wire

import (
	"context"
	"fmt"
	"time"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/domain/service"
	"storyforge-api/internal/infrastructure/messaging"
	"storyforge-api/internal/infrastructure/persistence/postgres"
	"storyforge-api/internal/infrastructure/persistence/redis"
	"storyforge-api/internal/interfaces/http/handler"
	"storyforge-api/internal/interfaces/http/middleware"
	"storyforge-api/internal/interfaces/http/router"
	"storyforge-api/pkg/logger"
)

const redisStartupTimeout = 5 * time.Second

// App 应用依赖容器
type App struct {
	Router   *router.Router
	Sessions *generation.Manager
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端。启动时不可达只告警：
// 章节缓存回退到数据库、限流放行、通知只记录日志，/ready 报告 degraded。
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func()) {
	client := redis.NewClient(&cfg.Cache.Redis)

	pingCtx, cancel := context.WithTimeout(ctx, redisStartupTimeout)
	defer cancel()
	if err := client.HealthCheck(pingCtx); err != nil {
		logger.Warn(ctx, "redis unavailable at startup, running degraded",
			"addr", fmt.Sprintf("%s:%d", cfg.Cache.Redis.Host, cfg.Cache.Redis.Port), "error", err)
	}

	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup
}

// ProvideChapterRepository 在数据库仓储外包一层短期读缓存（chapter_ttl 为 0 时直接穿透）
func ProvideChapterRepository(cfg *config.Config, pg *postgres.ChapterRepository, client *redis.Client) repository.ChapterRepository {
	return redis.NewCachedChapterRepository(pg, redis.NewCache(client, "chapters"), cfg.Cache.ChapterTTL)
}

// ProvideNotifier 启用时把失败通知写入 Redis Stream，否则只记录日志
func ProvideNotifier(ctx context.Context, cfg *config.Config, client *redis.Client) service.Notifier {
	if !cfg.Notify.Enabled {
		logger.Info(ctx, "notification stream disabled, failures are logged only")
		return messaging.NewLogNotifier()
	}
	stream := messaging.Stream(cfg.Notify.Stream)
	if stream == "" {
		stream = messaging.StreamNotify
	}
	return messaging.NewProducer(client.Redis(), stream, cfg.Notify.MaxLen)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, client *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg.App.Version, pg, client)
}

// ProvideRateLimiter 未启用限流时返回 nil 接口
func ProvideRateLimiter(cfg *config.Config, client *redis.Client) middleware.RateLimiter {
	if !cfg.Generation.RateLimit.Enabled {
		return nil
	}
	return redis.NewRateLimiter(client)
}
