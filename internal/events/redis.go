// internal/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default Redis key names.
const (
	ChannelPrefix = "corp:events:"
	StreamName    = "corp:events"
)

// RedisSink mirrors events to Redis: PUBLISH on a per-type channel for live
// watchers and XADD onto a capped stream for consumers that need history.
type RedisSink struct {
	client        *redis.Client
	channelPrefix string
	streamName    string
	maxLen        int64
}

// RedisSinkConfig configures NewRedisSink.
type RedisSinkConfig struct {
	RedisURL      string
	RedisPassword string
	// MaxLen caps the stream length (default 10000).
	MaxLen int64
}

// NewRedisSink parses the URL and builds the client. It does not dial.
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	return &RedisSink{
		client:        redis.NewClient(opts),
		channelPrefix: ChannelPrefix,
		streamName:    StreamName,
		maxLen:        cfg.MaxLen,
	}, nil
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Handle is a Handler; attach it with Log.On(Wildcard, sink.Handle).
func (s *RedisSink) Handle(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channelPrefix+ev.Type, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to Pub/Sub: %w", err)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamName,
		Values: map[string]any{
			"id":        ev.ID,
			"type":      ev.Type,
			"source":    ev.Source,
			"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
		MaxLen: s.maxLen,
		Approx: true,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
