// Package mutation executes create, update and remove with
// optimistic-then-confirm semantics.
//
// Each operation writes its optimistic state into the cache synchronously,
// calls the remote source, and then either confirms the authoritative result
// or rolls the cache back. The executor is the sole owner of the pending
// state it sets.
//
// CONCURRENCY POLICY: reject. While an identifier has a mutation in flight,
// any further mutation on it fails immediately with an IN_FLIGHT error. The
// rejected call does not touch the cache and does not reach the remote source.
//
// Settlement rules:
//
//   - success confirms the server result at a fresh version, unless an
//     external write that outranks the optimistic one arrived meanwhile, in
//     which case only the pending state is cleared
//   - failure restores the pre-mutation record exactly (entity and version),
//     unless server truth was observed during the flight: an outranking
//     external write is kept, and a deferred write at least as new as the
//     snapshot replaces it
//   - a record removed by the server during the flight is purged
//   - results that arrive after disposal are discarded
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/errs"
	"github.com/roach88/optimist/internal/metrics"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/status"
	"github.com/roach88/optimist/internal/transform"
)

// Config wires an Executor.
type Config[W, U entity.Identifiable, I any] struct {
	// Collection names the store in errors, logs and metrics.
	Collection string

	Source      remote.Source[W, I]
	Transformer transform.Transformer[W, U, I]
	Cache       *cache.Cache[U]
	Status      *status.Tracker

	// ClientID is attached to every remote call so the transport can tag
	// the realtime notifications it causes.
	ClientID string

	// Validate rejects bad create input before any optimistic write.
	Validate func(I) error

	// Disposed reports whether the owning store has been disposed.
	Disposed func() bool

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Executor runs mutations against one cache.
//
// Thread-safety: Executor is safe for concurrent use.
type Executor[W, U entity.Identifiable, I any] struct {
	cfg Config[W, U, I]
	log *slog.Logger

	mu       sync.Mutex
	inflight map[string]entity.PendingOp
}

// New validates cfg and returns an Executor.
func New[W, U entity.Identifiable, I any](cfg Config[W, U, I]) (*Executor[W, U, I], error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("mutation: Source is required")
	}
	if cfg.Transformer == nil {
		return nil, fmt.Errorf("mutation: Transformer is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("mutation: Cache is required")
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
	return &Executor[W, U, I]{
		cfg:      cfg,
		log:      log.With("component", "mutation"),
		inflight: make(map[string]entity.PendingOp),
	}, nil
}

// InFlight returns the mutation in flight for id, if any.
func (e *Executor[W, U, I]) InFlight(id string) (entity.PendingOp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.inflight[id]
	return op, ok
}

// Create inserts an optimistic entity under a temporary id, creates it
// remotely, and swaps the temporary record for the server record in place.
// On failure the optimistic record is removed.
func (e *Executor[W, U, I]) Create(ctx context.Context, input I) (U, error) {
	var zero U
	const op = entity.PendingCreate

	if e.disposed() {
		return zero, errs.NewDisposed(e.cfg.Collection, op.String())
	}
	if e.cfg.Validate != nil {
		if err := e.cfg.Validate(input); err != nil {
			return zero, errs.NewValidation(e.cfg.Collection, op.String(), err)
		}
	}

	now := e.cfg.Now()
	tempID := entity.NewTempID(now)
	optimistic, err := transform.SafeOptimistic(e.cfg.Transformer, input, transform.OptimisticContext{
		TempID:   tempID,
		ClientID: e.cfg.ClientID,
		Now:      now,
	})
	if err != nil {
		return zero, errs.NewValidation(e.cfg.Collection, op.String(), err)
	}

	if err := e.claim(tempID, op); err != nil {
		return zero, err
	}
	defer e.release(tempID)

	e.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		tx.Put(cache.Record[U]{
			ID:      tempID,
			Entity:  optimistic,
			Origin:  entity.OriginOptimistic,
			Pending: op,
			Version: e.cfg.Cache.Clock().Next(),
		})
	})
	e.cfg.Status.MutationStarted(op)
	e.log.Debug("optimistic create applied", "temp_id", tempID)

	w, err := e.cfg.Source.Create(e.remoteCtx(ctx), input)
	if e.disposed() {
		return zero, e.discard(op, tempID)
	}

	var confirmed U
	if err == nil {
		confirmed, err = transform.SafeToUI(e.cfg.Transformer, w)
	}
	if err != nil {
		e.cfg.Cache.Update(func(tx *cache.Tx[U]) { tx.Purge(tempID, 0) })
		return zero, e.fail(op, tempID, err)
	}

	id := confirmed.GetID()
	e.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		if _, removed := tx.Tombstone(id); removed {
			// Deleted on the server before the acknowledgment arrived.
			tx.Purge(tempID, 0)
			return
		}
		tx.Replace(tempID, cache.Record[U]{
			ID:      id,
			Entity:  confirmed,
			Origin:  entity.OriginServer,
			Pending: entity.PendingNone,
			Version: e.cfg.Cache.Clock().Next(),
		})
	})
	e.succeed(op)
	e.log.Debug("create confirmed", "temp_id", tempID, "id", id)
	return confirmed, nil
}

// Update applies patch to the visible entity id optimistically, sends the
// result to the remote source, and confirms or rolls back.
//
// patch runs under the cache lock and must not call back into the store.
func (e *Executor[W, U, I]) Update(ctx context.Context, id string, patch func(U) U) (U, error) {
	var zero U
	const op = entity.PendingUpdate

	if e.disposed() {
		return zero, errs.NewDisposed(e.cfg.Collection, op.String())
	}
	if err := e.claim(id, op); err != nil {
		return zero, err
	}
	defer e.release(id)

	var (
		snapshot cache.Record[U]
		version  int64
		patched  U
		failure  error
	)
	e.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		cur, ok := tx.Record(id)
		if !ok || !cur.Visible() {
			failure = errs.NewNotFound(e.cfg.Collection, op.String(), id)
			return
		}
		u, err := applyPatch(patch, cur.Entity)
		if err == nil && u.GetID() != id {
			err = fmt.Errorf("patch changed id %q to %q", id, u.GetID())
		}
		if err != nil {
			failure = errs.NewValidation(e.cfg.Collection, op.String(), err)
			return
		}
		snapshot = cur
		patched = u
		version = e.cfg.Cache.Clock().Next()
		tx.Put(cache.Record[U]{
			ID:      id,
			Entity:  u,
			Origin:  entity.OriginOptimistic,
			Pending: op,
			Version: version,
		})
	})
	if failure != nil {
		return zero, failure
	}
	e.cfg.Status.MutationStarted(op)
	e.log.Debug("optimistic update applied", "id", id, "version", version)

	w, err := e.toAPI(patched)
	if err == nil {
		w, err = e.cfg.Source.Update(e.remoteCtx(ctx), id, w)
	}
	if e.disposed() {
		return zero, e.discard(op, id)
	}
	if err != nil {
		e.cfg.Cache.Update(func(tx *cache.Tx[U]) { e.rollback(tx, id, op, version, snapshot) })
		return zero, e.fail(op, id, err)
	}

	confirmed, cerr := transform.SafeToUI(e.cfg.Transformer, w)
	if cerr != nil {
		e.log.Warn("confirmed entity is malformed, keeping optimistic state", "id", id, "error", cerr)
		confirmed = patched
	}

	result := confirmed
	e.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		cur, ok := tx.Record(id)
		if !ok {
			return
		}
		if cur.Gone || cur.Version > version {
			result = cur.Entity
			tx.ClearPending(id, op)
			return
		}
		tx.Put(cache.Record[U]{
			ID:      id,
			Entity:  confirmed,
			Origin:  entity.OriginServer,
			Pending: entity.PendingNone,
			Version: e.cfg.Cache.Clock().Next(),
		})
		tx.DropDeferred(id)
	})
	e.succeed(op)
	e.log.Debug("update confirmed", "id", id)
	return result, nil
}

// Remove hides the visible entity id immediately, removes it remotely, and
// purges it on success or restores it on failure.
//
// A remote not-found is treated as success: the entity is already gone.
func (e *Executor[W, U, I]) Remove(ctx context.Context, id string) error {
	const op = entity.PendingDelete

	if e.disposed() {
		return errs.NewDisposed(e.cfg.Collection, op.String())
	}
	if err := e.claim(id, op); err != nil {
		return err
	}
	defer e.release(id)

	var (
		snapshot cache.Record[U]
		version  int64
		failure  error
	)
	e.cfg.Cache.Update(func(tx *cache.Tx[U]) {
		cur, ok := tx.Record(id)
		if !ok || !cur.Visible() {
			failure = errs.NewNotFound(e.cfg.Collection, op.String(), id)
			return
		}
		snapshot = cur
		version = e.cfg.Cache.Clock().Next()
		pending := cur
		pending.Pending = op
		pending.Version = version
		tx.Put(pending)
	})
	if failure != nil {
		return failure
	}
	e.cfg.Status.MutationStarted(op)
	e.log.Debug("optimistic remove applied", "id", id, "version", version)

	_, err := e.cfg.Source.Remove(e.remoteCtx(ctx), id)
	if e.disposed() {
		return e.discard(op, id)
	}
	if errors.Is(err, remote.ErrNotFound) {
		e.log.Debug("remote already removed entity", "id", id)
		err = nil
	}
	if err != nil {
		e.cfg.Cache.Update(func(tx *cache.Tx[U]) { e.rollback(tx, id, op, version, snapshot) })
		return e.fail(op, id, err)
	}

	e.cfg.Cache.Update(func(tx *cache.Tx[U]) { tx.Purge(id, e.cfg.Cache.Clock().Next()) })
	e.succeed(op)
	e.log.Debug("remove confirmed", "id", id)
	return nil
}

// rollback settles a failed update or remove whose optimistic write was
// stamped at version.
func (e *Executor[W, U, I]) rollback(tx *cache.Tx[U], id string, op entity.PendingOp, version int64, snapshot cache.Record[U]) {
	cur, ok := tx.Record(id)
	if !ok {
		return
	}
	if cur.Gone || cur.Version > version {
		tx.ClearPending(id, op)
		return
	}
	if d, ok := tx.TakeDeferred(id); ok && d.Version >= snapshot.Version {
		if d.Remove {
			tx.Purge(id, d.Version)
		} else {
			tx.Put(d.Record)
		}
		return
	}
	tx.Put(snapshot)
}

func (e *Executor[W, U, I]) claim(id string, op entity.PendingOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, busy := e.inflight[id]; busy {
		metrics.ObserveMutation(e.cfg.Collection, op.String(), "rejected")
		e.log.Debug("mutation rejected, another is in flight", "id", id, "op", op, "inflight", cur)
		return errs.NewInFlight(e.cfg.Collection, op.String(), id, cur.String())
	}
	e.inflight[id] = op
	return nil
}

func (e *Executor[W, U, I]) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

func (e *Executor[W, U, I]) succeed(op entity.PendingOp) {
	e.cfg.Status.MutationSucceeded(op)
	metrics.ObserveMutation(e.cfg.Collection, op.String(), "ok")
	metrics.SetCached(e.cfg.Collection, e.cfg.Cache.Count())
}

func (e *Executor[W, U, I]) fail(op entity.PendingOp, id string, cause error) error {
	err := errs.NewRemoteMutation(e.cfg.Collection, op.String(), id, cause)
	e.cfg.Status.MutationFailed(op, err)
	metrics.ObserveMutation(e.cfg.Collection, op.String(), "failed")
	e.log.Warn("mutation rolled back", "op", op, "id", id, "error", cause)
	return err
}

func (e *Executor[W, U, I]) discard(op entity.PendingOp, id string) error {
	e.cfg.Status.MutationAbandoned(op)
	metrics.ObserveMutation(e.cfg.Collection, op.String(), "discarded")
	e.log.Debug("discarding result after disposal", "op", op, "id", id)
	return errs.NewDisposed(e.cfg.Collection, op.String())
}

func (e *Executor[W, U, I]) remoteCtx(ctx context.Context) context.Context {
	if e.cfg.ClientID == "" {
		return ctx
	}
	return remote.WithClientID(ctx, e.cfg.ClientID)
}

func (e *Executor[W, U, I]) toAPI(u U) (w W, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform: ToAPI panicked: %v", r)
		}
	}()
	return e.cfg.Transformer.ToAPI(u), nil
}

func (e *Executor[W, U, I]) disposed() bool {
	return e.cfg.Disposed != nil && e.cfg.Disposed()
}

func applyPatch[U any](patch func(U) U, u U) (out U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch panicked: %v", r)
		}
	}()
	return patch(u), nil
}
