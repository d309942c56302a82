// Package redisbus implements the realtime channel over Redis Pub/Sub.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/optimist/internal/realtime"
)

// DefaultPrefix namespaces every topic on the Redis server.
const DefaultPrefix = "optimist:"

// Bus publishes and subscribes to frames through Redis Pub/Sub.
type Bus struct {
	client *redis.Client
	prefix string
}

// New connects to the Redis server at redisURL (redis://host:port/db).
func New(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a bus from an existing client.
func NewWithClient(client *redis.Client) *Bus {
	return &Bus{client: client, prefix: DefaultPrefix}
}

// WithPrefix returns a copy of the bus using prefix for channel names.
func (b *Bus) WithPrefix(prefix string) *Bus {
	return &Bus{client: b.client, prefix: prefix}
}

func (b *Bus) channel(topic string) string {
	return b.prefix + topic
}

// Publish sends frame to every subscriber of topic.
func (b *Bus) Publish(ctx context.Context, topic string, frame []byte) error {
	if err := b.client.Publish(ctx, b.channel(topic), frame).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription and waits for the server to confirm it,
// so frames published after Subscribe returns are delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (realtime.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	return &subscription{ps: ps}, nil
}

// Ping verifies the connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (b *Bus) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if s.closed.Load() || errors.Is(err, redis.ErrClosed) {
			return nil, realtime.ErrClosed
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.ps.Close()
}
