package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	stream Stream
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, stream Stream, maxLen int64) *Producer {
	if stream == "" {
		stream = StreamNotify
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Producer{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish 发布消息到流
func (p *Producer) Publish(ctx context.Context, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(p.stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(p.stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// Notify 实现 service.Notifier，将通知写入 Redis Stream
func (p *Producer) Notify(ctx context.Context, n *entity.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	msg, err := NewMessage(n.ID, MessageTypeNotification, n.StoryID, n)
	if err != nil {
		return err
	}
	msg.SetMetadata("level", string(n.Level))
	if n.SessionID != "" {
		msg.SetMetadata("session_id", n.SessionID)
	}

	if _, err := p.Publish(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("redis_stream", "error").Inc()
		logger.Error(ctx, "failed to publish notification", err,
			"notification_id", n.ID, "title", n.Title)
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("redis_stream", "ok").Inc()
	return nil
}

// LogNotifier 未启用 Redis 通知时的兜底实现，仅写日志
type LogNotifier struct{}

// NewLogNotifier 创建日志通知器
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify 以 warn 级别记录通知
func (LogNotifier) Notify(ctx context.Context, n *entity.Notification) error {
	metrics.NotificationsTotal.WithLabelValues("log", "ok").Inc()
	logger.Warn(ctx, "user notification",
		"level", string(n.Level),
		"title", n.Title,
		"message", n.Message,
		"code", n.Code,
	)
	return nil
}
