// Package publish fans out state changes to subscribers over Redis pub/sub so
// wallboard screens can refresh without polling.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
)

// Change kinds.
const (
	KindCall  = "call"
	KindAgent = "agent"
	KindQueue = "queue"
	KindAlert = "alert"
)

// Change is one committed state change.
type Change struct {
	Kind   string    `json:"kind"`
	Key    string    `json:"key"`
	Status string    `json:"status,omitempty"`
	Event  string    `json:"event,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher receives changes after they are committed.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Nop discards changes.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Change) error { return nil }

// pubClient is the subset of *redis.Client used for publishing.
type pubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes JSON-encoded changes to one channel.
type RedisPublisher struct {
	client  pubClient
	channel string
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish: redis ping: %w", err)
	}
	return &RedisPublisher{client: client, channel: cfg.Channel}, nil
}

// Publish sends c to the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("publish: marshal change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %s %s: %w", c.Kind, c.Key, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
