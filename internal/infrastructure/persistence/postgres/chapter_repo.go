package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"storyforge-api/internal/domain/entity"
)

// ChapterRepository 章节仓储实现
type ChapterRepository struct {
	client *Client
}

// NewChapterRepository 创建章节仓储
func NewChapterRepository(client *Client) *ChapterRepository {
	return &ChapterRepository{client: client}
}

// ListByStory 按顺序获取故事的全部章节
func (r *ChapterRepository) ListByStory(ctx context.Context, storyID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.ListByStory",
		trace.WithAttributes(attribute.String("story.id", storyID)))
	defer span.End()

	var chapters []*entity.Chapter
	if err := getDB(ctx, r.client.db).
		Where("story_id = ?", storyID).
		Order("sort_order ASC").
		Find(&chapters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// GetByID 根据 ID 获取章节，不存在时返回 (nil, nil)
func (r *ChapterRepository) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.GetByID",
		trace.WithAttributes(attribute.String("chapter.id", id)))
	defer span.End()

	var chapter entity.Chapter
	if err := getDB(ctx, r.client.db).First(&chapter, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &chapter, nil
}
