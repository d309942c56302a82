package remote

import (
	"context"
	"log/slog"

	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/realtime"
)

// PublishConfig describes how WithRealtime announces changes.
type PublishConfig struct {
	// Topic is the channel topic.
	Topic string

	// EventType is the envelope "type".
	EventType string

	// EntityKey is the envelope member that carries the entity.
	EntityKey string

	Logger *slog.Logger
}

// WithRealtime returns a Source that publishes an INSERT, UPDATE or DELETE
// frame after each successful mutation of inner. The frame's origin marker is
// the client id carried in the call's context (see WithClientID).
//
// A failed publish is logged and does not fail the mutation, which has
// already been committed.
func WithRealtime[W entity.Identifiable, I any](inner Source[W, I], pub realtime.Publisher, cfg PublishConfig) Source[W, I] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &publishing[W, I]{inner: inner, pub: pub, cfg: cfg, log: log}
}

type publishing[W entity.Identifiable, I any] struct {
	inner Source[W, I]
	pub   realtime.Publisher
	cfg   PublishConfig
	log   *slog.Logger
}

func (s *publishing[W, I]) List(ctx context.Context) ([]W, error) {
	return s.inner.List(ctx)
}

func (s *publishing[W, I]) Create(ctx context.Context, input I) (W, error) {
	w, err := s.inner.Create(ctx, input)
	if err == nil {
		s.publish(ctx, realtime.KindInsert, w.GetID(), w)
	}
	return w, err
}

func (s *publishing[W, I]) Update(ctx context.Context, id string, data W) (W, error) {
	w, err := s.inner.Update(ctx, id, data)
	if err == nil {
		s.publish(ctx, realtime.KindUpdate, id, w)
	}
	return w, err
}

func (s *publishing[W, I]) Remove(ctx context.Context, id string) (string, error) {
	removed, err := s.inner.Remove(ctx, id)
	if err == nil {
		s.publish(ctx, realtime.KindDelete, removed, map[string]string{"id": removed})
	}
	return removed, err
}

func (s *publishing[W, I]) publish(ctx context.Context, kind realtime.Kind, id string, payload any) {
	ev, err := realtime.NewEvent(s.cfg.EventType, kind, s.cfg.EntityKey, payload)
	if err == nil {
		ev.Origin = ClientIDFrom(ctx)
		var frame []byte
		frame, err = realtime.Encode(ev)
		if err == nil {
			err = s.pub.Publish(ctx, s.cfg.Topic, frame)
		}
	}
	if err != nil {
		s.log.Warn("failed to publish change", "topic", s.cfg.Topic, "kind", kind, "id", id, "error", err)
	}
}
