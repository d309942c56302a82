// Package query keeps a cache populated from the authoritative collection.
//
// A fetch is stamped with the cache clock's current value when it is issued,
// so any local write made while the fetch is in flight outranks its result.
// Results merge through cache.Upsert and therefore never clobber a record
// with an unresolved mutation.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/errs"
	"github.com/roach88/optimist/internal/metrics"
	"github.com/roach88/optimist/internal/status"
)

// Config wires a Controller.
type Config[W, U entity.Identifiable] struct {
	// Collection names the store in errors, logs and metrics.
	Collection string

	// Query fetches the full collection.
	Query func(ctx context.Context) ([]W, error)

	// ToUI converts one wire entity. Errors drop the entity.
	ToUI func(W) (U, error)

	Cache  *cache.Cache[U]
	Status *status.Tracker

	// StaleTime is how long a successful fetch stays fresh. Zero means
	// results are always stale.
	StaleTime time.Duration

	// Enabled gates every fetch. It is evaluated on each call and its
	// false to true edge triggers a fetch through Sync, SetEnabled or
	// FetchIfStale. Nil means always enabled.
	Enabled func() bool

	// Prune removes settled server records that a newer result no longer
	// contains.
	Prune bool

	// Disposed reports whether the owning store has been disposed.
	Disposed func() bool

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Controller fetches and merges the collection.
//
// Thread-safety: Controller is safe for concurrent use. Concurrent fetches
// are allowed and merge independently.
type Controller[W, U entity.Identifiable] struct {
	cfg Config[W, U]
	log *slog.Logger

	mu          sync.Mutex
	on          bool
	effective   bool // last observed on && Enabled()
	lastFetched time.Time
}

// New validates cfg and returns a Controller. The controller starts switched
// off; SetEnabled(ctx, true) switches it on and fetches.
func New[W, U entity.Identifiable](cfg Config[W, U]) (*Controller[W, U], error) {
	if cfg.Query == nil {
		return nil, fmt.Errorf("query: Query is required")
	}
	if cfg.ToUI == nil {
		return nil, fmt.Errorf("query: ToUI is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("query: Cache is required")
	}
	if cfg.Status == nil {
		cfg.Status = status.NewTracker()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller[W, U]{cfg: cfg, log: log.With("component", "query")}, nil
}

// Enabled reports whether fetching is currently allowed.
func (c *Controller[W, U]) Enabled() bool {
	c.mu.Lock()
	on := c.on
	c.mu.Unlock()
	return on && c.predicate()
}

// Rising reports whether fetching became allowed since the last Sync
// without a fetch having run. It does not consume the edge.
func (c *Controller[W, U]) Rising() bool {
	eff := c.Enabled()
	c.mu.Lock()
	defer c.mu.Unlock()
	return eff && !c.effective
}

// Sync re-evaluates the switch and the Enabled predicate and fetches when
// fetching has just become allowed. Only one caller observes a given edge.
func (c *Controller[W, U]) Sync(ctx context.Context) error {
	if !c.rise() {
		return nil
	}
	c.log.Debug("fetching enabled")
	return c.Fetch(ctx)
}

// SetEnabled switches fetching on or off. Switching on re-evaluates the
// Enabled predicate and fetches if it has just become true, even when the
// switch was already on.
func (c *Controller[W, U]) SetEnabled(ctx context.Context, on bool) error {
	c.mu.Lock()
	c.on = on
	if !on {
		c.effective = false
	}
	c.mu.Unlock()

	if !on {
		return nil
	}
	return c.Sync(ctx)
}

// LastFetched returns when the last fetch succeeded.
func (c *Controller[W, U]) LastFetched() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetched
}

// IsStale reports whether the last successful fetch is older than StaleTime.
func (c *Controller[W, U]) IsStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFetched.IsZero() {
		return true
	}
	return c.cfg.Now().Sub(c.lastFetched) >= c.cfg.StaleTime
}

// FetchIfStale fetches when fetching has just become allowed, or when it is
// allowed and the data is stale. Otherwise it does nothing.
func (c *Controller[W, U]) FetchIfStale(ctx context.Context) error {
	if c.rise() {
		return c.Fetch(ctx)
	}
	if !c.Enabled() || !c.IsStale() {
		return nil
	}
	return c.Fetch(ctx)
}

// Fetch fetches the collection and merges it into the cache.
//
// A failed fetch sets the error status and leaves the cache untouched. A
// result that arrives after disposal is discarded.
func (c *Controller[W, U]) Fetch(ctx context.Context) error {
	if c.disposed() {
		return errs.NewDisposed(c.cfg.Collection, "query")
	}
	if !c.Enabled() {
		return errs.NewDisabled(c.cfg.Collection, "query")
	}
	c.mu.Lock()
	c.effective = true
	c.mu.Unlock()

	version := c.cfg.Cache.Clock().Current()
	c.cfg.Status.FetchStarted()
	c.log.Debug("fetch issued", "version", version)

	ws, err := c.cfg.Query(ctx)
	if c.disposed() {
		c.cfg.Status.FetchAbandoned()
		metrics.ObserveQuery(c.cfg.Collection, "discarded")
		return errs.NewDisposed(c.cfg.Collection, "query")
	}
	if err != nil {
		qerr := errs.NewQuery(c.cfg.Collection, err)
		c.cfg.Status.FetchFailed(qerr)
		metrics.ObserveQuery(c.cfg.Collection, "failed")
		c.log.Warn("fetch failed", "error", err)
		return qerr
	}

	recs := make([]cache.Record[U], 0, len(ws))
	for _, w := range ws {
		u, err := c.cfg.ToUI(w)
		if err != nil {
			c.log.Warn("dropping malformed entity", "id", w.GetID(), "error", err)
			continue
		}
		recs = append(recs, cache.Record[U]{
			ID:      u.GetID(),
			Entity:  u,
			Origin:  entity.OriginServer,
			Pending: entity.PendingNone,
			Version: version,
		})
	}

	var applied, pruned int
	c.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		seen := make(map[string]struct{}, len(recs))
		for _, rec := range recs {
			seen[rec.ID] = struct{}{}
			if tx.Upsert(rec) {
				applied++
			}
		}
		if !c.cfg.Prune {
			return
		}
		for _, rec := range tx.Records() {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			if rec.Pending.IsPending() || rec.Origin != entity.OriginServer || rec.Version >= version {
				continue
			}
			if tx.Remove(rec.ID, version) {
				pruned++
			}
		}
	})

	now := c.cfg.Now()
	c.mu.Lock()
	c.lastFetched = now
	c.mu.Unlock()

	c.cfg.Status.FetchSucceeded(now)
	metrics.ObserveQuery(c.cfg.Collection, "ok")
	metrics.SetCached(c.cfg.Collection, c.cfg.Cache.Count())
	c.log.Debug("fetch merged",
		"received", len(ws),
		"applied", applied,
		"pruned", pruned,
		"version", version,
	)
	return nil
}

// rise records the current effective state and reports a false to true edge.
func (c *Controller[W, U]) rise() bool {
	c.mu.Lock()
	on := c.on
	c.mu.Unlock()
	eff := on && c.predicate()

	c.mu.Lock()
	defer c.mu.Unlock()
	eff = eff && c.on
	up := eff && !c.effective
	c.effective = eff
	return up
}

func (c *Controller[W, U]) predicate() bool {
	return c.cfg.Enabled == nil || c.cfg.Enabled()
}

func (c *Controller[W, U]) disposed() bool {
	return c.cfg.Disposed != nil && c.cfg.Disposed()
}
