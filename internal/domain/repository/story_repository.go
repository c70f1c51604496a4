// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// ChapterRepository 章节只读仓储（故事数据由外部存储维护）
type ChapterRepository interface {
	// ListByStory 按顺序返回故事的全部章节
	ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error)

	// GetByID 根据 ID 获取章节；不存在时返回 (nil, nil)，存储故障返回 error
	GetByID(ctx context.Context, id string) (*entity.Chapter, error)
}

// ChapterCacheInvalidator 带读缓存的章节仓储实现；章节在外部被修改后调用
type ChapterCacheInvalidator interface {
	Invalidate(ctx context.Context, storyID string, chapterIDs ...string) error
}

// LorebookRepository 设定集只读仓储
type LorebookRepository interface {
	// ListByStory 返回故事下所有启用的条目
	ListByStory(ctx context.Context, storyID string) ([]*entity.LorebookEntry, error)

	// GetByIDs 按 ID 批量获取条目，结果保持入参顺序，缺失的 ID 被跳过
	GetByIDs(ctx context.Context, storyID string, ids []string) ([]*entity.LorebookEntry, error)
}
