// Package redisfan publishes broadcast frames to Redis channels so companion
// processes can consume the fanout alongside the in-process WebSocket hub.
package redisfan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
)

// Config holds the configuration for the Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Broadcaster implements bridge.Broadcaster by publishing each frame to a
// Redis channel named after its topic.
type Broadcaster struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewBroadcaster creates and connects a Redis broadcaster. It pings the Redis
// server to ensure connectivity before returning.
func NewBroadcaster(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Broadcaster, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &Broadcaster{
		client: rdb,
		logger: logger.With().Str("component", "RedisBroadcaster").Logger(),
	}, nil
}

// Broadcast publishes one frame to the topic's Redis channel. Like every
// fanout sink it is fire-and-forget: subscriber-less channels are not an
// error.
func (b *Broadcaster) Broadcast(ctx context.Context, topic string, event string, payload []byte) error {
	frame, err := json.Marshal(bridge.Frame{Event: event, Topic: topic, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast frame: %w", err)
	}
	if err := b.client.Publish(ctx, topic, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %q: %w", topic, err)
	}
	return nil
}

// Close releases the Redis connection.
func (b *Broadcaster) Close() error {
	return b.client.Close()
}
