package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
)

var _ repository.ChapterCacheInvalidator = (*CachedChapterRepository)(nil)

// CachedChapterRepository 为章节读取加一层短 TTL 的读缓存。
// 章节由外部存储维护，TTL 决定了可接受的最终一致窗口。
type CachedChapterRepository struct {
	next  repository.ChapterRepository
	cache *Cache
	ttl   time.Duration
}

// NewCachedChapterRepository 创建带缓存的章节仓储；ttl <= 0 时直接透传
func NewCachedChapterRepository(next repository.ChapterRepository, cache *Cache, ttl time.Duration) repository.ChapterRepository {
	if ttl <= 0 || cache == nil {
		return next
	}
	return &CachedChapterRepository{next: next, cache: cache, ttl: ttl}
}

// ListByStory 获取故事章节列表
func (r *CachedChapterRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error) {
	raw, err := r.cache.GetOrLoadSafe(ctx, chaptersKey(storyID), r.ttl, func(ctx context.Context) (any, error) {
		return r.next.ListByStory(ctx, storyID)
	})
	if err != nil {
		return nil, err
	}

	var chapters []*entity.Chapter
	if err := json.Unmarshal(raw, &chapters); err != nil {
		return nil, fmt.Errorf("failed to decode cached chapters: %w", err)
	}
	return chapters, nil
}

// GetByID 获取章节；未找到同样会被缓存（值为 null）
func (r *CachedChapterRepository) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	raw, err := r.cache.GetOrLoadSafe(ctx, chapterKey(id), r.ttl, func(ctx context.Context) (any, error) {
		return r.next.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	var chapter *entity.Chapter
	if err := json.Unmarshal(raw, &chapter); err != nil {
		return nil, fmt.Errorf("failed to decode cached chapter: %w", err)
	}
	return chapter, nil
}

// Invalidate 清除某个故事及其章节的缓存
func (r *CachedChapterRepository) Invalidate(ctx context.Context, storyID string, chapterIDs ...string) error {
	keys := []string{chaptersKey(storyID)}
	for _, id := range chapterIDs {
		keys = append(keys, chapterKey(id))
	}
	return r.cache.Delete(ctx, keys...)
}

func chaptersKey(storyID string) string {
	return "chapters:story:" + storyID
}

func chapterKey(id string) string {
	return "chapter:" + id
}
