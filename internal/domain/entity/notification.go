package entity

import "time"

// NotificationLevel 通知级别
type NotificationLevel string

const (
	NotificationError   NotificationLevel = "error"
	NotificationWarning NotificationLevel = "warning"
)

// Notification 面向最终用户的提示（例如"生成失败"）
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	StoryID   string            `json:"story_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
