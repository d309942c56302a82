package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/errs"
	"github.com/roach88/optimist/internal/metrics"
	"github.com/roach88/optimist/internal/mutation"
	"github.com/roach88/optimist/internal/query"
	"github.com/roach88/optimist/internal/realtime"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/status"
	"github.com/roach88/optimist/internal/transform"
)

// ErrRunning is returned by Run when the store is already running.
var ErrRunning = errors.New("engine: store is already running")

// Config describes one collection.
type Config[W, U entity.Identifiable, I any] struct {
	// Name identifies the collection in errors, logs and metrics. Required.
	Name string

	// Source is the authoritative store. Required.
	Source remote.Source[W, I]

	// Transformer maps wire to UI entities. Required.
	Transformer transform.Transformer[W, U, I]

	// StaleTime is how long fetched data stays fresh.
	StaleTime time.Duration

	// Enabled gates fetching and mutations on top of Enable/Disable. When
	// it turns true the store fetches. Nil means always allowed.
	Enabled func() bool

	// Realtime enables push updates. Nil disables them.
	Realtime *RealtimeConfig[W]

	// Validate rejects bad create input.
	Validate func(I) error

	// Less orders List. Nil keeps insertion order.
	Less func(a, b U) bool

	// Prune drops settled records that a newer fetch no longer contains.
	Prune bool
}

// RealtimeConfig describes the realtime subscription of a collection.
type RealtimeConfig[W entity.Identifiable] struct {
	// Subscriber is the transport. Required.
	Subscriber realtime.Subscriber

	// Topic defaults to EventType.
	Topic string

	// EventType is the frame "type" this collection accepts. Required.
	EventType string

	// DataExtractor pulls the wire entity out of a frame. Required.
	DataExtractor func(realtime.Event) (W, error)

	// ShouldProcessEvent filters events. Nil accepts all.
	ShouldProcessEvent func(realtime.Event) bool

	// ClientID identifies this client for echo suppression.
	ClientID string

	// Retryer spaces resubscription attempts.
	Retryer realtime.Retryer
}

// Option configures a Store.
type Option func(*settings)

type settings struct {
	logger       *slog.Logger
	clock        *cache.Clock
	now          func() time.Time
	pollInterval time.Duration
	checkEvery   time.Duration
	clientID     string
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock sets the clock that stamps record versions.
func WithClock(c *cache.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithNow sets the wall clock used for staleness and temporary ids.
func WithNow(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithPollInterval sets how often Run checks staleness.
//
// Default: StaleTime. Zero StaleTime disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.pollInterval = d }
}

// WithEnableCheckInterval sets how often Run re-evaluates Config.Enabled
// when staleness polling is off.
//
// Default: 1s. Ignored without an Enabled predicate.
func WithEnableCheckInterval(d time.Duration) Option {
	return func(s *settings) { s.checkEvery = d }
}

// WithClientID sets the client id when no realtime config supplies one.
// Defaults to a fresh UUIDv7.
func WithClientID(id string) Option {
	return func(s *settings) { s.clientID = id }
}

// Store is the facade over one collection.
//
// Thread-safety: every method is safe for concurrent use.
type Store[W, U entity.Identifiable, I any] struct {
	name         string
	clientID     string
	log          *slog.Logger
	cache        *cache.Cache[U]
	status       *status.Tracker
	query        *query.Controller[W, U]
	exec         *mutation.Executor[W, U, I]
	reconciler   *realtime.Reconciler[W, U]
	pollInterval time.Duration
	checkEvery   time.Duration
	disposed     atomic.Bool

	mu        sync.Mutex
	token     string
	cancelRun context.CancelFunc
}

// New builds a Store. Missing required configuration is a programmer error
// and is reported here rather than at first use.
func New[W, U entity.Identifiable, I any](cfg Config[W, U, I], opts ...Option) (*Store[W, U, I], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("engine: Name is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("engine: %s: Source is required", cfg.Name)
	}
	if cfg.Transformer == nil {
		return nil, fmt.Errorf("engine: %s: Transformer is required", cfg.Name)
	}

	set := settings{now: time.Now, pollInterval: cfg.StaleTime, checkEvery: time.Second}
	for _, opt := range opts {
		opt(&set)
	}
	if set.logger == nil {
		set.logger = slog.Default()
	}

	clientID := set.clientID
	if cfg.Realtime != nil && cfg.Realtime.ClientID != "" {
		clientID = cfg.Realtime.ClientID
	}
	if clientID == "" {
		clientID = entity.UUIDv7Generator{}.Generate()
	}

	log := set.logger.With("collection", cfg.Name)

	var cacheOpts []cache.Option[U]
	if cfg.Less != nil {
		cacheOpts = append(cacheOpts, cache.WithLess(cfg.Less))
	}
	if set.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock[U](set.clock))
	}

	s := &Store[W, U, I]{
		name:         cfg.Name,
		clientID:     clientID,
		log:          log,
		cache:        cache.New(cacheOpts...),
		status:       status.NewTracker(),
		pollInterval: set.pollInterval,
	}
	if cfg.Enabled != nil {
		s.checkEvery = set.checkEvery
	}
	toUI := func(w W) (U, error) { return transform.SafeToUI(cfg.Transformer, w) }

	var err error
	s.query, err = query.New(query.Config[W, U]{
		Collection: cfg.Name,
		Query:      cfg.Source.List,
		ToUI:       toUI,
		Cache:      s.cache,
		Status:     s.status,
		StaleTime:  cfg.StaleTime,
		Enabled:    cfg.Enabled,
		Prune:      cfg.Prune,
		Disposed:   s.disposed.Load,
		Now:        set.now,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", cfg.Name, err)
	}

	s.exec, err = mutation.New(mutation.Config[W, U, I]{
		Collection:  cfg.Name,
		Source:      cfg.Source,
		Transformer: cfg.Transformer,
		Cache:       s.cache,
		Status:      s.status,
		ClientID:    clientID,
		Validate:    cfg.Validate,
		Disposed:    s.disposed.Load,
		Now:         set.now,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", cfg.Name, err)
	}

	if rt := cfg.Realtime; rt != nil {
		if rt.Subscriber == nil {
			return nil, fmt.Errorf("engine: %s: Realtime.Subscriber is required", cfg.Name)
		}
		topic := rt.Topic
		if topic == "" {
			topic = rt.EventType
		}
		s.reconciler, err = realtime.NewReconciler(realtime.Config[W, U]{
			Collection:         cfg.Name,
			Topic:              topic,
			EventType:          rt.EventType,
			ClientID:           clientID,
			DataExtractor:      rt.DataExtractor,
			ShouldProcessEvent: rt.ShouldProcessEvent,
			ToUI:               toUI,
			Cache:              s.cache,
			Subscriber:         rt.Subscriber,
			Retryer:            rt.Retryer,
			Disposed:           s.disposed.Load,
			Logger:             log,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %s: %w", cfg.Name, err)
		}
	}

	s.cache.Subscribe(func(cache.Change[U]) {
		metrics.SetCached(s.name, s.cache.Count())
	})
	return s, nil
}

// Name returns the collection name.
func (s *Store[W, U, I]) Name() string { return s.name }

// ClientID returns the id that tags this store's mutations.
func (s *Store[W, U, I]) ClientID() string { return s.clientID }

// List returns the visible entities in order.
func (s *Store[W, U, I]) List() []U { return s.cache.List() }

// Count returns the number of visible entities.
func (s *Store[W, U, I]) Count() int { return s.cache.Count() }

// Get returns the visible entity id.
func (s *Store[W, U, I]) Get(id string) (U, bool) { return s.cache.Get(id) }

// Entities returns the visible entities keyed by id.
func (s *Store[W, U, I]) Entities() map[string]U { return s.cache.Entities() }

// Records returns every cache record, including hidden ones.
func (s *Store[W, U, I]) Records() []cache.Record[U] { return s.cache.Records() }

// Subscribe registers fn to run after every committed cache change.
// Returns a cancel func.
func (s *Store[W, U, I]) Subscribe(fn func(cache.Change[U])) func() {
	return s.cache.Subscribe(fn)
}

// Status returns the current status flags.
func (s *Store[W, U, I]) Status() status.Status { return s.status.Snapshot() }

// OnStatus registers fn to run after every status change.
// Returns a cancel func.
func (s *Store[W, U, I]) OnStatus(fn func(status.Status)) func() {
	return s.status.Subscribe(fn)
}

// Enable stores the auth token and switches the store on. It fetches the
// collection when fetching becomes allowed, including when the store was
// already on and the Enabled predicate has since turned true.
func (s *Store[W, U, I]) Enable(ctx context.Context, token string) error {
	if s.disposed.Load() {
		return errs.NewDisposed(s.name, "enable")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.log.Debug("store enabled")
	return s.query.SetEnabled(s.withToken(ctx), true)
}

// Disable forgets the token and switches the store off. Cached data stays
// readable.
func (s *Store[W, U, I]) Disable() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	_ = s.query.SetEnabled(context.Background(), false)
	s.log.Debug("store disabled")
}

// Enabled reports whether fetching and mutations are currently allowed.
// When the Enabled predicate has just turned true it also starts the fetch
// that the transition calls for.
func (s *Store[W, U, I]) Enabled() bool {
	if s.disposed.Load() {
		return false
	}
	s.syncAsync()
	return s.query.Enabled()
}

// Token returns the token passed to Enable, or "".
func (s *Store[W, U, I]) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Create adds an entity built from input. See mutation.Executor.Create.
func (s *Store[W, U, I]) Create(ctx context.Context, input I) (U, error) {
	if err := s.gate("create"); err != nil {
		var zero U
		return zero, err
	}
	return s.exec.Create(s.withToken(ctx), input)
}

// Update patches the entity id. See mutation.Executor.Update.
func (s *Store[W, U, I]) Update(ctx context.Context, id string, patch func(U) U) (U, error) {
	if err := s.gate("update"); err != nil {
		var zero U
		return zero, err
	}
	return s.exec.Update(s.withToken(ctx), id, patch)
}

// Remove deletes the entity id. See mutation.Executor.Remove.
func (s *Store[W, U, I]) Remove(ctx context.Context, id string) error {
	if err := s.gate("remove"); err != nil {
		return err
	}
	return s.exec.Remove(s.withToken(ctx), id)
}

// Refetch fetches the collection regardless of staleness.
func (s *Store[W, U, I]) Refetch(ctx context.Context) error {
	return s.query.Fetch(s.withToken(ctx))
}

// TriggerQuery fetches the collection if it is stale.
func (s *Store[W, U, I]) TriggerQuery(ctx context.Context) error {
	return s.query.FetchIfStale(s.withToken(ctx))
}

// Handle applies one realtime frame directly, bypassing the subscription.
// Returns OutcomeIgnored when realtime is not configured.
func (s *Store[W, U, I]) Handle(frame []byte) realtime.Outcome {
	if s.reconciler == nil {
		return realtime.OutcomeIgnored
	}
	return s.reconciler.Handle(frame)
}

// Run drives the realtime subscription and the staleness loop.
//
// Blocks until ctx is done or the store is disposed. Returns nil after
// Dispose, ctx.Err() on cancellation, or the reconciler's error if it gives
// up resubscribing.
func (s *Store[W, U, I]) Run(ctx context.Context) error {
	if s.disposed.Load() {
		return errs.NewDisposed(s.name, "run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancelRun != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	s.cancelRun = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	s.log.Info("store running", "realtime", s.reconciler != nil, "poll_interval", s.pollInterval)

	var wg sync.WaitGroup
	rtErr := make(chan error, 1)
	if s.reconciler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.reconciler.Run(runCtx); err != nil && runCtx.Err() == nil {
				rtErr <- err
				cancel()
			}
		}()
	}

	poll := s.pollInterval > 0
	interval := s.pollInterval
	if !poll {
		interval = s.checkEvery
	}
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-runCtx.Done():
				break loop
			case <-ticker.C:
				var err error
				if poll {
					err = s.TriggerQuery(runCtx)
				} else {
					err = s.query.Sync(s.withToken(runCtx))
				}
				if err != nil && !errs.IsDisabled(err) {
					s.log.Debug("background fetch failed", "error", err)
				}
			}
		}
	} else {
		<-runCtx.Done()
	}
	wg.Wait()

	select {
	case err := <-rtErr:
		s.log.Error("realtime stopped", "error", err)
		return err
	default:
	}
	if s.disposed.Load() {
		s.log.Info("store stopped: disposed")
		return nil
	}
	s.log.Info("store stopped: context cancelled")
	return ctx.Err()
}

// Dispose releases the realtime subscription, clears the cache and status,
// and rejects further use. Later calls are no-ops.
func (s *Store[W, U, I]) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancelRun
	s.token = ""
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	_ = s.query.SetEnabled(context.Background(), false)
	s.cache.Reset()
	s.status.Reset()
	s.log.Info("store disposed")
}

func (s *Store[W, U, I]) gate(op string) error {
	if s.disposed.Load() {
		return errs.NewDisposed(s.name, op)
	}
	if !s.Enabled() {
		return errs.NewDisabled(s.name, op)
	}
	return nil
}

// syncAsync starts a fetch in the background when the Enabled predicate has
// turned true since the last evaluation.
func (s *Store[W, U, I]) syncAsync() {
	if !s.query.Rising() {
		return
	}
	ctx := s.withToken(context.Background())
	go func() {
		if err := s.query.Sync(ctx); err != nil && !errs.IsDisabled(err) && !errs.IsDisposed(err) {
			s.log.Debug("enable fetch failed", "error", err)
		}
	}()
}

func (s *Store[W, U, I]) withToken(ctx context.Context) context.Context {
	token := s.Token()
	if token == "" {
		return ctx
	}
	return remote.WithToken(ctx, token)
}
