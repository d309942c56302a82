// Package memory implements an in-process remote source.
//
// Besides serving offline mode, the source lets tests and the scenario
// harness control timing and failure: Hold parks every call until it is
// released, and FailNext makes the next call of an operation fail.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/remote"
)

// Operation names accepted by FailNext and ReleaseOp.
const (
	OpList   = "list"
	OpCreate = "create"
	OpUpdate = "update"
	OpRemove = "remove"
)

// Source is an in-memory remote source.
//
// Thread-safety: Source is safe for concurrent use.
type Source[W entity.Identifiable, I any] struct {
	mu       sync.Mutex
	rows     map[string]W
	order    []string
	newFunc  remote.NewFunc[W, I]
	ids      entity.IDGenerator
	now      func() time.Time
	failures map[string][]error
	holding  bool
	parked   []*call
	calls    map[string]int
}

type call struct {
	op      string
	release chan struct{}
}

// Option configures a Source.
type Option[W entity.Identifiable, I any] func(*Source[W, I])

// WithIDGenerator sets the generator for server ids. Defaults to UUIDv7.
func WithIDGenerator[W entity.Identifiable, I any](gen entity.IDGenerator) Option[W, I] {
	return func(s *Source[W, I]) { s.ids = gen }
}

// WithNow sets the clock passed to NewFunc. Defaults to time.Now.
func WithNow[W entity.Identifiable, I any](now func() time.Time) Option[W, I] {
	return func(s *Source[W, I]) { s.now = now }
}

// New creates an empty source.
func New[W entity.Identifiable, I any](newFunc remote.NewFunc[W, I], opts ...Option[W, I]) *Source[W, I] {
	s := &Source[W, I]{
		rows:     make(map[string]W),
		newFunc:  newFunc,
		ids:      entity.UUIDv7Generator{},
		now:      time.Now,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every row in insertion order.
func (s *Source[W, I]) List(ctx context.Context) ([]W, error) {
	if err := s.enter(ctx, OpList); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpList); err != nil {
		return nil, err
	}
	out := make([]W, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rows[id])
	}
	return out, nil
}

// Create stores NewFunc(id, input, now) under a fresh id.
func (s *Source[W, I]) Create(ctx context.Context, input I) (W, error) {
	var zero W
	if err := s.enter(ctx, OpCreate); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpCreate); err != nil {
		return zero, err
	}
	id := s.ids.Generate()
	w := s.newFunc(id, input, s.now())
	if w.GetID() != id {
		return zero, fmt.Errorf("memory: NewFunc returned id %q, want %q", w.GetID(), id)
	}
	s.put(w)
	return w, nil
}

// Update replaces row id with data.
func (s *Source[W, I]) Update(ctx context.Context, id string, data W) (W, error) {
	var zero W
	if err := s.enter(ctx, OpUpdate); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpUpdate); err != nil {
		return zero, err
	}
	if _, ok := s.rows[id]; !ok {
		return zero, fmt.Errorf("memory: update %s: %w", id, remote.ErrNotFound)
	}
	if data.GetID() != id {
		return zero, fmt.Errorf("memory: update %s: payload id %q", id, data.GetID())
	}
	s.rows[id] = data
	return data, nil
}

// Remove deletes row id.
func (s *Source[W, I]) Remove(ctx context.Context, id string) (string, error) {
	if err := s.enter(ctx, OpRemove); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpRemove); err != nil {
		return "", err
	}
	if !s.delete(id) {
		return "", fmt.Errorf("memory: remove %s: %w", id, remote.ErrNotFound)
	}
	return id, nil
}

// Seed stores rows directly, as if written by another client.
func (s *Source[W, I]) Seed(rows ...W) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range rows {
		s.put(w)
	}
}

// Delete removes a row directly, as if deleted by another client.
func (s *Source[W, I]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(id)
}

// Rows returns a snapshot of the stored rows in insertion order.
func (s *Source[W, I]) Rows() []W {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]W, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rows[id])
	}
	return out
}

// Calls returns how many calls of op have been issued (including parked
// and failed ones).
func (s *Source[W, I]) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// FailNext makes the next call of op return err. Failures queue per op.
func (s *Source[W, I]) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Hold parks every subsequent call until it is released.
func (s *Source[W, I]) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

// Resume stops holding and releases every parked call.
func (s *Source[W, I]) Resume() {
	s.mu.Lock()
	s.holding = false
	parked := s.parked
	s.parked = nil
	s.mu.Unlock()

	for _, c := range parked {
		close(c.release)
	}
}

// Parked returns the operations of parked calls, oldest first.
func (s *Source[W, I]) Parked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.parked))
	for i, c := range s.parked {
		ops[i] = c.op
	}
	return ops
}

// ReleaseNext releases the oldest parked call.
func (s *Source[W, I]) ReleaseNext() bool {
	return s.release(func(*call) bool { return true })
}

// ReleaseOp releases the oldest parked call of op.
func (s *Source[W, I]) ReleaseOp(op string) bool {
	return s.release(func(c *call) bool { return c.op == op })
}

func (s *Source[W, I]) release(match func(*call) bool) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.parked, match)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	c := s.parked[idx]
	s.parked = slices.Delete(s.parked, idx, idx+1)
	s.mu.Unlock()

	close(c.release)
	return true
}

// enter counts the call and parks it while the source is holding.
func (s *Source[W, I]) enter(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.calls[op]++
	if !s.holding {
		s.mu.Unlock()
		return nil
	}
	c := &call{op: op, release: make(chan struct{})}
	s.parked = append(s.parked, c)
	s.mu.Unlock()

	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.parked = slices.DeleteFunc(s.parked, func(p *call) bool { return p == c })
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Source[W, I]) takeFailure(op string) error {
	q := s.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	s.failures[op] = q[1:]
	return err
}

func (s *Source[W, I]) put(w W) {
	id := w.GetID()
	if _, ok := s.rows[id]; !ok {
		s.order = append(s.order, id)
	}
	s.rows[id] = w
}

func (s *Source[W, I]) delete(id string) bool {
	if _, ok := s.rows[id]; !ok {
		return false
	}
	delete(s.rows, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
	return true
}
