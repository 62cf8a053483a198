package redisc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/umar/users-api/internal/events"
)

// Publisher sends user change events to a Redis channel so every instance
// can forward them to its own websocket clients.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe forwards every payload on channel to handler until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string, handler func(data []byte)) {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handler([]byte(msg.Payload))
			slog.Debug("pubsub message", "channel", msg.Channel)
		}
	}
}
