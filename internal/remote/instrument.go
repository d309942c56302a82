package remote

import (
	"context"
	"time"

	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/metrics"
)

// Instrument returns a Source that records latency for every call.
func Instrument[W entity.Identifiable, I any](collection string, inner Source[W, I]) Source[W, I] {
	return &instrumented[W, I]{collection: collection, inner: inner}
}

type instrumented[W entity.Identifiable, I any] struct {
	collection string
	inner      Source[W, I]
}

func (s *instrumented[W, I]) List(ctx context.Context) ([]W, error) {
	defer metrics.ObserveRemote(s.collection, "list", time.Now())
	return s.inner.List(ctx)
}

func (s *instrumented[W, I]) Create(ctx context.Context, input I) (W, error) {
	defer metrics.ObserveRemote(s.collection, "create", time.Now())
	return s.inner.Create(ctx, input)
}

func (s *instrumented[W, I]) Update(ctx context.Context, id string, data W) (W, error) {
	defer metrics.ObserveRemote(s.collection, "update", time.Now())
	return s.inner.Update(ctx, id, data)
}

func (s *instrumented[W, I]) Remove(ctx context.Context, id string) (string, error) {
	defer metrics.ObserveRemote(s.collection, "remove", time.Now())
	return s.inner.Remove(ctx, id)
}
