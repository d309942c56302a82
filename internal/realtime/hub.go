package realtime

import (
	"context"
	"sync"
)

// Hub is an in-process Channel. Every subscription gets its own unbounded
// queue, so publishers never block on slow consumers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSubscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

// Publish enqueues frame for every current subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[topic] {
		s.q.Enqueue(frame)
	}
	return nil
}

// Subscribe opens a subscription to topic.
func (h *Hub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSubscription{hub: h, topic: topic, q: newFrameQueue()}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*hubSubscription]struct{})
	}
	h.subs[topic][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of open subscriptions to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

// Disconnect closes every subscription to topic, as a dropped connection
// would. The hub stays usable and new subscriptions succeed.
func (h *Hub) Disconnect(topic string) {
	h.mu.Lock()
	subs := h.subs[topic]
	delete(h.subs, topic)
	h.mu.Unlock()

	for s := range subs {
		s.q.Close()
	}
}

// Close closes every subscription and rejects further use.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[*hubSubscription]struct{})
	h.mu.Unlock()

	for _, subs := range all {
		for s := range subs {
			s.q.Close()
		}
	}
	return nil
}

type hubSubscription struct {
	hub   *Hub
	topic string
	q     *frameQueue
}

func (s *hubSubscription) Next(ctx context.Context) ([]byte, error) {
	for {
		frame, ok, closed := s.q.TryDequeue()
		if ok {
			return frame, nil
		}
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.q.Wait():
		}
	}
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	delete(s.hub.subs[s.topic], s)
	s.hub.mu.Unlock()

	s.q.Close()
	return nil
}
