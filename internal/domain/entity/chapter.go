// Package entity 定义领域实体
package entity

import (
	"time"
)

// POV 叙事视角类型
const (
	POVFirstPerson           = "First Person"
	POVSecondPerson          = "Second Person"
	POVThirdPersonLimited    = "Third Person Limited"
	POVThirdPersonOmniscient = "Third Person Omniscient"
)

// DefaultPOVType 章节与调用方都未指定视角时使用的系统默认值
const DefaultPOVType = POVThirdPersonOmniscient

// Chapter 章节实体（只读：由外部故事存储维护）
type Chapter struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	StoryID      string    `json:"story_id" gorm:"type:uuid;index;not null"`
	Title        string    `json:"title,omitempty" gorm:"type:varchar(255)"`
	Order        int       `json:"order" gorm:"column:sort_order;not null"`
	Summary      string    `json:"summary,omitempty" gorm:"type:text"`
	Content      string    `json:"content,omitempty" gorm:"type:text"`
	POVCharacter string    `json:"pov_character,omitempty" gorm:"column:pov_character;type:varchar(255)"`
	POVType      string    `json:"pov_type,omitempty" gorm:"column:pov_type;type:varchar(64)"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}
