package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/domain/entity"
)

func TestProducerNotifyAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewProducer(rdb, "stream:test:notify", 100)
	n := &entity.Notification{
		Level:     entity.NotificationError,
		Title:     "Failed to stream response",
		Message:   "upstream closed",
		SessionID: "sess-1",
		StoryID:   "story-1",
	}
	require.NoError(t, p.Notify(context.Background(), n))
	assert.NotEmpty(t, n.ID)

	entries, err := rdb.XRange(context.Background(), "stream:test:notify", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var msg Message
	require.NoError(t, jsonUnmarshalString(entries[0].Values["data"], &msg))
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, "story-1", msg.StoryID)
	assert.Equal(t, "sess-1", msg.Metadata["session_id"])

	var got entity.Notification
	require.NoError(t, msg.UnmarshalPayload(&got))
	assert.Equal(t, "Failed to stream response", got.Title)
}

func TestProducerNotifyReportsRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewProducer(rdb, "", 0).Notify(context.Background(), &entity.Notification{Title: "x"})
	assert.Error(t, err)
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, NewLogNotifier().Notify(context.Background(), &entity.Notification{Title: "x"}))
}

func jsonUnmarshalString(v any, out any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("unexpected value type %T", v)
	}
	return json.Unmarshal([]byte(s), out)
}
