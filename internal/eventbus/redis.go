package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

const redisChannelPrefix = "canvas:events:"

// RedisChannel returns the pub/sub channel for conversationID.
func RedisChannel(conversationID string) string {
	return redisChannelPrefix + conversationID
}

// Redis relays events through Redis pub/sub.
type Redis struct {
	rdb      *redis.Client
	registry *broadcast.Registry
	logger   *logger.Logger
}

// OpenRedis connects to the redis:// url and pings it.
func OpenRedis(ctx context.Context, url string, registry *broadcast.Registry, log *logger.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(rdb, registry, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, registry *broadcast.Registry, log *logger.Logger) *Redis {
	return &Redis{rdb: rdb, registry: registry, logger: log}
}

// Publish sends ev on the conversation channel.
func (r *Redis) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, RedisChannel(ev.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run relays every conversation channel into the registry.
func (r *Redis) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := model.ParseEvent([]byte(msg.Payload))
			if err != nil || !strings.HasSuffix(msg.Channel, ev.ConversationID) {
				r.logger.Warn("dropping malformed event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			relay(r.registry, r.logger, ev)
		}
	}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping checks the server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
