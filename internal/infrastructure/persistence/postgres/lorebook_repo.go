package postgres

import (
	"context"
	"fmt"

	"storyforge-api/internal/domain/entity"
)

// LorebookRepository 设定集仓储实现
type LorebookRepository struct {
	client *Client
}

// NewLorebookRepository 创建设定集仓储
func NewLorebookRepository(client *Client) *LorebookRepository {
	return &LorebookRepository{client: client}
}

// ListByStory 获取故事下所有启用的条目
func (r *LorebookRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.LorebookEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.LorebookRepository.ListByStory")
	defer span.End()

	var entries []*entity.LorebookEntry
	if err := getDB(ctx, r.client.db).
		Where("story_id = ? AND is_disabled = ?", storyID, false).
		Order("name ASC").
		Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list lorebook entries: %w", err)
	}
	return entries, nil
}

// GetByIDs 按 ID 批量获取条目，结果保持入参顺序
func (r *LorebookRepository) GetByIDs(ctx context.Context, storyID string, ids []string) ([]*entity.LorebookEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "postgres.LorebookRepository.GetByIDs")
	defer span.End()

	var entries []*entity.LorebookEntry
	if err := getDB(ctx, r.client.db).
		Where("story_id = ? AND id IN ?", storyID, ids).
		Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get lorebook entries: %w", err)
	}

	byID := make(map[string]*entity.LorebookEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	ordered := make([]*entity.LorebookEntry, 0, len(entries))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}
