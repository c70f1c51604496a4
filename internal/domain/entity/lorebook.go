package entity

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// LorebookCategory 设定条目分类
type LorebookCategory string

const (
	LorebookCharacter LorebookCategory = "character"
	LorebookLocation  LorebookCategory = "location"
	LorebookItem      LorebookCategory = "item"
	LorebookEvent     LorebookCategory = "event"
	LorebookNote      LorebookCategory = "note"
)

// LorebookEntry 设定集条目
type LorebookEntry struct {
	ID          string           `json:"id" gorm:"type:uuid;primaryKey"`
	StoryID     string           `json:"story_id" gorm:"type:uuid;index;not null"`
	Name        string           `json:"name" gorm:"type:varchar(255);not null"`
	Category    LorebookCategory `json:"category" gorm:"type:varchar(32)"`
	Description string           `json:"description,omitempty" gorm:"type:text"`
	// Tags 触发关键词（不区分大小写）
	Tags       pq.StringArray `json:"tags,omitempty" gorm:"type:text[]"`
	IsDisabled bool           `json:"is_disabled" gorm:"default:false"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (LorebookEntry) TableName() string {
	return "lorebook_entries"
}

// Keywords 返回用于匹配的关键词：名称 + 标签，去空去重
func (e *LorebookEntry) Keywords() []string {
	seen := make(map[string]struct{}, len(e.Tags)+1)
	out := make([]string, 0, len(e.Tags)+1)
	for _, k := range append([]string{e.Name}, e.Tags...) {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		lk := strings.ToLower(k)
		if _, ok := seen[lk]; ok {
			continue
		}
		seen[lk] = struct{}{}
		out = append(out, k)
	}
	return out
}
