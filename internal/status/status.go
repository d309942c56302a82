// Package status tracks the query and mutation state flags a store exposes.
package status

import (
	"sync"
	"time"

	"github.com/roach88/optimist/internal/entity"
)

// Status is a point-in-time view of a store's activity.
type Status struct {
	// IsLoading is true while a fetch is in flight and no fetch has
	// succeeded yet.
	IsLoading bool

	// IsError is true when the most recent fetch failed.
	IsError bool

	// Error is the most recent failure, query or mutation. Cleared by the
	// next success.
	Error error

	// IsSyncing is true while a refetch or any mutation is in flight.
	IsSyncing bool

	CreatePending bool
	UpdatePending bool
	DeletePending bool

	// LastFetched is when the last fetch succeeded. Zero if never.
	LastFetched time.Time
}

// Tracker records activity and derives Status from it.
//
// Thread-safety: Tracker is safe for concurrent use. Listeners run outside
// the lock on the goroutine that caused the change.
type Tracker struct {
	mu          sync.Mutex
	fetching    int
	fetched     bool
	queryFailed bool
	err         error
	lastFetched time.Time
	pending     map[entity.PendingOp]int

	listeners    map[int]func(Status)
	nextListener int
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending:   make(map[entity.PendingOp]int),
		listeners: make(map[int]func(Status)),
	}
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Subscribe registers fn to run after every change. Returns a cancel func.
func (t *Tracker) Subscribe(fn func(Status)) func() {
	t.mu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// FetchStarted records a fetch being issued.
func (t *Tracker) FetchStarted() {
	t.update(func() { t.fetching++ })
}

// FetchSucceeded records a fetch that completed at.
func (t *Tracker) FetchSucceeded(at time.Time) {
	t.update(func() {
		t.fetching = dec(t.fetching)
		t.fetched = true
		t.queryFailed = false
		t.err = nil
		t.lastFetched = at
	})
}

// FetchFailed records a failed fetch.
func (t *Tracker) FetchFailed(err error) {
	t.update(func() {
		t.fetching = dec(t.fetching)
		t.queryFailed = true
		t.err = err
	})
}

// FetchAbandoned records a fetch whose result was discarded.
func (t *Tracker) FetchAbandoned() {
	t.update(func() { t.fetching = dec(t.fetching) })
}

// MutationStarted records a mutation of kind op being issued.
func (t *Tracker) MutationStarted(op entity.PendingOp) {
	t.update(func() { t.pending[op]++ })
}

// MutationSucceeded records a mutation that settled successfully.
// A pending query error is kept.
func (t *Tracker) MutationSucceeded(op entity.PendingOp) {
	t.update(func() {
		t.pending[op] = dec(t.pending[op])
		if !t.queryFailed {
			t.err = nil
		}
	})
}

// MutationFailed records a mutation that was rolled back.
func (t *Tracker) MutationFailed(op entity.PendingOp, err error) {
	t.update(func() {
		t.pending[op] = dec(t.pending[op])
		t.err = err
	})
}

// MutationAbandoned records a mutation whose result was discarded.
func (t *Tracker) MutationAbandoned(op entity.PendingOp) {
	t.update(func() { t.pending[op] = dec(t.pending[op]) })
}

// Reset returns the tracker to idle. Listeners are kept.
func (t *Tracker) Reset() {
	t.update(func() {
		t.fetching = 0
		t.fetched = false
		t.queryFailed = false
		t.err = nil
		t.lastFetched = time.Time{}
		clear(t.pending)
	})
}

func (t *Tracker) update(fn func()) {
	t.mu.Lock()
	fn()
	s := t.snapshot()
	ls := make([]func(Status), 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	for _, l := range ls {
		l(s)
	}
}

func (t *Tracker) snapshot() Status {
	creating := t.pending[entity.PendingCreate] > 0
	updating := t.pending[entity.PendingUpdate] > 0
	deleting := t.pending[entity.PendingDelete] > 0
	return Status{
		IsLoading:     t.fetching > 0 && !t.fetched,
		IsError:       t.queryFailed,
		Error:         t.err,
		IsSyncing:     (t.fetching > 0 && t.fetched) || creating || updating || deleting,
		CreatePending: creating,
		UpdatePending: updating,
		DeletePending: deleting,
		LastFetched:   t.lastFetched,
	}
}

// dec decrements n without going below zero. Counters can be reset while
// operations are still in flight.
func dec(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
