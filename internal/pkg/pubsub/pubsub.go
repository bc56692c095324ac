package pubsub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/insight_go_server/internal/model"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// ProgressMessage 分析进度消息
type ProgressMessage struct {
	Type      string `json:"type"`
	TaskID    int64  `json:"task_id,string"`
	UserID    int64  `json:"user_id"`
	Completed int    `json:"completed"`
	Total     int64  `json:"total"`
	State     int    `json:"state"`
	StateName string `json:"state_name"`
}

// Publisher Redis 发布者，进度循环每个周期推一条
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息，失败只记日志不影响分析
func (p *Publisher) PublishProgress(taskID, userID int64, completed int, total int64, state int) {
	msg := &ProgressMessage{
		Type:      "analysis_progress",
		TaskID:    taskID,
		UserID:    userID,
		Completed: completed,
		Total:     total,
		State:     state,
		StateName: model.StepStateName(state),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("pubsub: failed to marshal progress message: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, ChannelAnalysisProgress, data).Err(); err != nil {
		log.Printf("pubsub: failed to publish progress for task %d: %v", taskID, err)
	}
}

// Subscriber Redis 订阅者，WebSocket 推送侧消费
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
