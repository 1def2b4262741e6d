package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSource = "docflow"

// RedisConfig holds the Redis connection and channel settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Source   string
}

// RedisSink publishes each event as a CloudEvents JSON message on a Redis
// pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	source  string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	source := strings.TrimSpace(cfg.Source)
	if source == "" {
		source = defaultSource
	}
	return &RedisSink{client: client, channel: cfg.Channel, source: source}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes evt on the configured channel.
func (s *RedisSink) Deliver(ctx context.Context, evt Event) error {
	data, err := EncodeCloudEvent(evt, s.source)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe calls fn for every event received on the channel until ctx ends.
// Messages that are not valid CloudEvents are reported through onError and
// skipped.
func (s *RedisSink) Subscribe(ctx context.Context, fn func(Event), onError func(error)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			evt, err := DecodeCloudEvent([]byte(msg.Payload))
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			fn(evt)
		}
	}
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
