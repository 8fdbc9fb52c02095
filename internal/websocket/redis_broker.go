package websocket

import (
	"context"
	"fmt"

	"docchat/internal/constant"
	"docchat/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans frames out to every relay instance over a Redis channel.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	logger  logger.ILogger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to url, falling back to treating it as a plain address.
func NewRedisBroker(ctx context.Context, url string, log logger.ILogger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("RedisBroker", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{
			"error": err.Error(),
		})
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBroker{rdb: rdb, channel: constant.ChatClusterChannel, logger: log}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe confirms the subscription, then feeds handler from a goroutine
// until ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Info("RedisBroker", "Subscribed to cluster channel", map[string]interface{}{"channel": b.channel})
	return nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
