package service

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// Notifier 面向用户的通知通道。
// 实现应为 best-effort：失败只记录，不影响生成流程的结果。
type Notifier interface {
	Notify(ctx context.Context, n *entity.Notification) error
}
