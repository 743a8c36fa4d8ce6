package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// Sink delivers one notification towards the push gateway.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// redisPublisher is the slice of *redis.Client the sink uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink publishes notifications on a Redis pub/sub channel.
type RedisSink struct {
	client  redisPublisher
	channel string
}

// pingTimeout bounds the connection check in NewRedisSink.
const pingTimeout = 5 * time.Second

// NewRedisSink connects to Redis and verifies the connection.
// Returns ErrDisabled when cfg.Enabled is false.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisSink(client, cfg.Channel), nil
}

func newRedisSink(client redisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Send publishes n as JSON.
func (s *RedisSink) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

// LogSink records notifications in the service log instead of sending them.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a sink that only logs.
func NewLogSink(logger Logger) *LogSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSink{logger: logger}
}

// Send logs n without its token.
func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.logger.Info("push notification (not delivered: no gateway)",
		"user_id", n.UserID,
		"platform", n.Platform,
		"title", n.Title,
	)
	return nil
}
