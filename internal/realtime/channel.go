package realtime

import (
	"context"
	"errors"
)

// ErrClosed is returned by Subscription.Next once the subscription or its
// transport has been closed.
var ErrClosed = errors.New("realtime: subscription closed")

// Publisher sends frames to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, frame []byte) error
}

// Subscriber opens subscriptions to a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Channel is a realtime transport. Implemented by Hub (in-process) and
// redisbus.Bus (Redis Pub/Sub).
type Channel interface {
	Publisher
	Subscriber
}

// Subscription delivers frames in publish order.
type Subscription interface {
	// Next blocks until a frame arrives, ctx is done, or the subscription
	// is closed (ErrClosed).
	Next(ctx context.Context) ([]byte, error)

	Close() error
}
