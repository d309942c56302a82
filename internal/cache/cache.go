// Package cache implements the entity cache: an ordered, versioned map of
// records that is the single mutable source of truth for what the UI shows.
//
// All writes go through transactions. A transaction runs under the cache lock,
// so readers never observe a partial write, and listeners are notified once
// per committed transaction after the lock is released.
//
// External writes (query results, realtime events) use Upsert and Remove,
// which enforce the staleness rules:
//
//   - against a pending record a write applies only if strictly newer; a
//     losing write is kept as the record's deferred write (newest wins)
//   - against a settled record a write applies if it is not older
//   - a removed identifier leaves a tombstone; an upsert that is not newer
//     than the tombstone is rejected
//
// The owner of a pending record (the mutation executor) uses the unguarded
// Put, Purge and Replace operations to write its optimistic and settled state.
package cache

import (
	"sort"
	"sync"

	"github.com/roach88/optimist/internal/entity"
)

// Cache is an ordered entity cache.
//
// Thread-safety: Cache is safe for concurrent use. Listeners run on the
// goroutine that committed the write, outside the lock, and may read the cache.
type Cache[U entity.Identifiable] struct {
	mu         sync.Mutex
	clock      *Clock
	less       func(a, b U) bool
	records    map[string]*Record[U]
	order      []string
	tombstones map[string]int64
	deferred   map[string]Deferred[U]

	listeners    []listener[U]
	nextListener int
}

type listener[U entity.Identifiable] struct {
	id int
	fn func(Change[U])
}

// Option configures a Cache.
type Option[U entity.Identifiable] func(*Cache[U])

// WithLess orders List by less instead of insertion order.
// The sort is stable, so equal elements keep insertion order.
func WithLess[U entity.Identifiable](less func(a, b U) bool) Option[U] {
	return func(c *Cache[U]) {
		c.less = less
	}
}

// WithClock shares an existing clock.
func WithClock[U entity.Identifiable](clock *Clock) Option[U] {
	return func(c *Cache[U]) {
		c.clock = clock
	}
}

// New creates an empty cache.
func New[U entity.Identifiable](opts ...Option[U]) *Cache[U] {
	c := &Cache[U]{
		records:    make(map[string]*Record[U]),
		tombstones: make(map[string]int64),
		deferred:   make(map[string]Deferred[U]),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = NewClock()
	}
	return c
}

// Clock returns the clock that stamps record versions.
func (c *Cache[U]) Clock() *Clock {
	return c.clock
}

// Update runs fn as one atomic transaction.
// Listeners are notified once after commit if fn changed anything.
func (c *Cache[U]) Update(fn func(tx *Tx[U])) {
	c.mu.Lock()
	tx := &Tx[U]{c: c}
	fn(tx)
	ops := tx.ops
	tx.c = nil
	var ls []listener[U]
	if len(ops) > 0 {
		ls = append(ls, c.listeners...)
	}
	c.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	change := Change[U]{Ops: ops}
	for _, l := range ls {
		l.fn(change)
	}
}

// Upsert applies an external write. Returns whether it was applied.
func (c *Cache[U]) Upsert(rec Record[U]) bool {
	var ok bool
	c.Update(func(tx *Tx[U]) { ok = tx.Upsert(rec) })
	return ok
}

// Remove applies an external removal observed at version.
// Returns whether the visible state changed.
func (c *Cache[U]) Remove(id string, version int64) bool {
	var ok bool
	c.Update(func(tx *Tx[U]) { ok = tx.Remove(id, version) })
	return ok
}

// SetPending marks id with op. Returns false if id is absent.
func (c *Cache[U]) SetPending(id string, op entity.PendingOp) bool {
	var ok bool
	c.Update(func(tx *Tx[U]) { ok = tx.SetPending(id, op) })
	return ok
}

// ClearPending clears op from id if op is the record's pending operation.
func (c *Cache[U]) ClearPending(id string, op entity.PendingOp) bool {
	var ok bool
	c.Update(func(tx *Tx[U]) { ok = tx.ClearPending(id, op) })
	return ok
}

// Reset clears every record, tombstone and deferred write.
// Used on disposal; listeners receive a single OpReset.
func (c *Cache[U]) Reset() {
	c.Update(func(tx *Tx[U]) { tx.reset() })
}

// Subscribe registers fn for committed changes and returns its cancel func.
func (c *Cache[U]) Subscribe(fn func(Change[U])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listener[U]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// List returns the visible entities in render order.
func (c *Cache[U]) List() []U {
	c.mu.Lock()
	out := make([]U, 0, len(c.order))
	for _, id := range c.order {
		if r := c.records[id]; r.Visible() {
			out = append(out, r.Entity)
		}
	}
	less := c.less
	c.mu.Unlock()

	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// Count returns the number of visible entities.
func (c *Cache[U]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range c.records {
		if r.Visible() {
			n++
		}
	}
	return n
}

// Get returns the visible entity for id.
func (c *Cache[U]) Get(id string) (U, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[id]
	if !ok || !r.Visible() {
		var zero U
		return zero, false
	}
	return r.Entity, true
}

// Entities returns the visible entities keyed by id.
func (c *Cache[U]) Entities() map[string]U {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]U, len(c.records))
	for id, r := range c.records {
		if r.Visible() {
			out[id] = r.Entity
		}
	}
	return out
}

// Record returns the full record for id, including hidden ones.
func (c *Cache[U]) Record(id string) (Record[U], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[id]
	if !ok {
		return Record[U]{}, false
	}
	return *r, true
}

// Records returns every record (including hidden ones) in insertion order.
func (c *Cache[U]) Records() []Record[U] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record[U], 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.records[id])
	}
	return out
}

// Tombstone returns the removal version recorded for id, if any.
func (c *Cache[U]) Tombstone(id string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.tombstones[id]
	return v, ok
}
