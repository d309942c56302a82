package cache

import "sync/atomic"

// Clock is the monotonic logical clock that stamps record versions.
//
// Local mutations take Next(), so the operation that owns a record always
// writes the newest version. External observations (query results, realtime
// events without an explicit version) take Current(), so they never outrank
// a local change made after they were issued.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific version.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next version and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current version without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe advances the clock to at least v.
// Used when an external event carries an explicit version.
func (c *Clock) Observe(v int64) {
	for {
		cur := c.seq.Load()
		if v <= cur || c.seq.CompareAndSwap(cur, v) {
			return
		}
	}
}
