// Package sqlite implements a durable remote source on top of the SQLite
// entity store.
//
// Each Source serves one collection. Entities are stored as canonical JSON,
// listed in insertion order, and assigned UUIDv7 ids on create.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/store"
)

// Source is a remote source backed by a store collection.
type Source[W entity.Identifiable, I any] struct {
	store      *store.Store
	collection string
	newFunc    remote.NewFunc[W, I]
	ids        entity.IDGenerator
	now        func() time.Time
}

// Option configures a Source.
type Option[W entity.Identifiable, I any] func(*Source[W, I])

// WithIDGenerator sets the generator for new ids. Defaults to UUIDv7.
func WithIDGenerator[W entity.Identifiable, I any](gen entity.IDGenerator) Option[W, I] {
	return func(s *Source[W, I]) { s.ids = gen }
}

// WithNow sets the clock passed to NewFunc. Defaults to time.Now.
func WithNow[W entity.Identifiable, I any](now func() time.Time) Option[W, I] {
	return func(s *Source[W, I]) { s.now = now }
}

// New returns a source for collection in st.
func New[W entity.Identifiable, I any](st *store.Store, collection string, newFunc remote.NewFunc[W, I], opts ...Option[W, I]) *Source[W, I] {
	s := &Source[W, I]{
		store:      st,
		collection: collection,
		newFunc:    newFunc,
		ids:        entity.UUIDv7Generator{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List decodes every row of the collection in insertion order.
func (s *Source[W, I]) List(ctx context.Context) ([]W, error) {
	rows, err := s.store.List(ctx, s.collection)
	if err != nil {
		return nil, err
	}

	out := make([]W, 0, len(rows))
	for _, r := range rows {
		var w W
		if err := json.Unmarshal([]byte(r.Payload), &w); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.collection, r.ID, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// Create inserts NewFunc(id, input, now) under a fresh id.
func (s *Source[W, I]) Create(ctx context.Context, input I) (W, error) {
	var zero W
	id := s.ids.Generate()
	w := s.newFunc(id, input, s.now())
	if w.GetID() != id {
		return zero, fmt.Errorf("create %s: NewFunc returned id %q, want %q", s.collection, w.GetID(), id)
	}

	if _, err := s.store.Insert(ctx, s.collection, id, w); err != nil {
		return zero, err
	}
	return w, nil
}

// Update replaces row id with data.
func (s *Source[W, I]) Update(ctx context.Context, id string, data W) (W, error) {
	var zero W
	if data.GetID() != id {
		return zero, fmt.Errorf("update %s/%s: payload id %q", s.collection, id, data.GetID())
	}

	if _, _, err := s.store.Update(ctx, s.collection, id, data); err != nil {
		return zero, mapNotFound(err)
	}
	return data, nil
}

// Remove deletes row id.
func (s *Source[W, I]) Remove(ctx context.Context, id string) (string, error) {
	if err := s.store.Delete(ctx, s.collection, id); err != nil {
		return "", mapNotFound(err)
	}
	return id, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	}
	return err
}
