package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/insight_go_server/internal/model"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPubSub_ProgressRoundTrip(t *testing.T) {
	client := setupRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	subscriber := NewSubscriber(client)
	go subscriber.Subscribe(ctx, func(msg *ProgressMessage) {
		select {
		case received <- msg:
		default:
		}
	})

	// 等订阅建立
	time.Sleep(50 * time.Millisecond)

	publisher := NewPublisher(client)
	publisher.PublishProgress(1001, 42, 7, 10, model.StepStateRunning)

	select {
	case msg := <-received:
		assert.Equal(t, int64(1001), msg.TaskID)
		assert.Equal(t, int64(42), msg.UserID)
		assert.Equal(t, 7, msg.Completed)
		assert.Equal(t, int64(10), msg.Total)
		assert.Equal(t, model.StepStateRunning, msg.State)
		assert.Equal(t, "running", msg.StateName)
	case <-time.After(2 * time.Second):
		t.Fatal("progress message not received")
	}
}

func TestSubscriber_ExitsOnContextCancel(t *testing.T) {
	client := setupRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	subscriber := NewSubscriber(client)
	go func() {
		done <- subscriber.Subscribe(ctx, func(msg *ProgressMessage) {})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not exit after cancel")
	}
}
