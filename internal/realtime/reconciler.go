package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/errs"
	"github.com/roach88/optimist/internal/metrics"
)

// Outcome is what handling one frame did to the cache.
type Outcome string

const (
	// OutcomeApplied means the cache changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means the staleness rules rejected the write.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the frame was for another type, filtered out, or
	// arrived after disposal.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeEcho means the frame originated from this client.
	OutcomeEcho Outcome = "echo"
	// OutcomeDropped means the frame was malformed.
	OutcomeDropped Outcome = "dropped"
)

// Config wires a Reconciler.
type Config[W, U entity.Identifiable] struct {
	// Collection names the store in logs and metrics.
	Collection string

	// Topic is the channel topic to subscribe to.
	Topic string

	// EventType is the only frame "type" this reconciler accepts.
	EventType string

	// ClientID is compared to each frame's origin marker for echo suppression.
	ClientID string

	// DataExtractor pulls the wire entity out of the envelope.
	DataExtractor func(Event) (W, error)

	// ShouldProcessEvent filters accepted events. Nil accepts all.
	ShouldProcessEvent func(Event) bool

	// ToUI converts the extracted wire entity. It must report malformed
	// input as an error rather than panic.
	ToUI func(W) (U, error)

	// Cache receives accepted events.
	Cache *cache.Cache[U]

	// Subscriber is the transport used by Run.
	Subscriber Subscriber

	// Retryer spaces resubscription attempts. Defaults to
	// NewExponentialBackoffRetryer().
	Retryer Retryer

	// Disposed reports whether the owning store has been disposed.
	Disposed func() bool

	Logger *slog.Logger
}

// Reconciler merges realtime frames into the cache.
type Reconciler[W, U entity.Identifiable] struct {
	cfg Config[W, U]
	log *slog.Logger
}

// NewReconciler validates cfg and returns a Reconciler.
func NewReconciler[W, U entity.Identifiable](cfg Config[W, U]) (*Reconciler[W, U], error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("realtime: Cache is required")
	}
	if cfg.EventType == "" {
		return nil, fmt.Errorf("realtime: EventType is required")
	}
	if cfg.DataExtractor == nil {
		return nil, fmt.Errorf("realtime: DataExtractor is required")
	}
	if cfg.ToUI == nil {
		return nil, fmt.Errorf("realtime: ToUI is required")
	}
	if cfg.Retryer == nil {
		cfg.Retryer = NewExponentialBackoffRetryer()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler[W, U]{cfg: cfg, log: log.With("component", "realtime")}, nil
}

// Handle applies one frame and reports the outcome. It never panics and
// never returns an error: malformed frames are logged and dropped.
func (r *Reconciler[W, U]) Handle(frame []byte) Outcome {
	outcome, err := r.handle(frame)
	if err != nil {
		r.log.Warn("dropping realtime frame", "error", err)
	}
	metrics.ObserveRealtime(r.cfg.Collection, string(outcome))
	return outcome
}

func (r *Reconciler[W, U]) handle(frame []byte) (Outcome, error) {
	typ, err := PeekType(frame)
	if err != nil {
		return OutcomeDropped, r.decodeErr("frame has no type", err)
	}
	if typ != r.cfg.EventType {
		return OutcomeIgnored, nil
	}

	ev, err := Decode(frame)
	if err != nil {
		return OutcomeDropped, r.decodeErr("malformed frame", err)
	}
	if !ev.Kind.Valid() {
		return OutcomeDropped, r.decodeErr(fmt.Sprintf("unknown event kind %q", ev.Kind), nil)
	}
	if r.cfg.ClientID != "" && ev.Origin == r.cfg.ClientID {
		return OutcomeEcho, nil
	}
	if r.cfg.ShouldProcessEvent != nil && !r.cfg.ShouldProcessEvent(ev) {
		return OutcomeIgnored, nil
	}
	if r.cfg.Disposed != nil && r.cfg.Disposed() {
		return OutcomeIgnored, nil
	}

	w, err := r.extract(ev)
	if err != nil {
		return OutcomeDropped, r.decodeErr("extract entity", err)
	}
	id := w.GetID()
	if id == "" {
		return OutcomeDropped, r.decodeErr("entity has no id", nil)
	}

	clock := r.cfg.Cache.Clock()
	version := ev.Version
	if version > 0 {
		clock.Observe(version)
	} else {
		version = clock.Current()
	}

	if ev.Kind == KindDelete {
		if r.cfg.Cache.Remove(id, version) {
			r.log.Debug("realtime delete applied", "id", id, "version", version)
			return OutcomeApplied, nil
		}
		return OutcomeStale, nil
	}

	u, err := r.cfg.ToUI(w)
	if err != nil {
		return OutcomeDropped, r.decodeErr("transform entity", err)
	}
	applied := r.cfg.Cache.Upsert(cache.Record[U]{
		ID:      id,
		Entity:  u,
		Origin:  entity.OriginServer,
		Pending: entity.PendingNone,
		Version: version,
	})
	if !applied {
		r.log.Debug("realtime write rejected as stale", "id", id, "kind", ev.Kind, "version", version)
		return OutcomeStale, nil
	}
	r.log.Debug("realtime write applied", "id", id, "kind", ev.Kind, "version", version)
	return OutcomeApplied, nil
}

func (r *Reconciler[W, U]) extract(ev Event) (w W, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("data extractor panicked: %v", rec)
		}
	}()
	return r.cfg.DataExtractor(ev)
}

func (r *Reconciler[W, U]) decodeErr(reason string, cause error) error {
	return errs.NewRealtimeDecode(r.cfg.Collection, reason, cause)
}

// Run subscribes to the topic and handles frames until ctx is done.
//
// When the subscription fails or drops, Run waits for the Retryer's delay
// and subscribes again. Returns ctx.Err() on cancellation, or the last
// subscription error once the Retryer gives up.
func (r *Reconciler[W, U]) Run(ctx context.Context) error {
	if r.cfg.Subscriber == nil {
		return fmt.Errorf("realtime: Subscriber is required to run")
	}

	attempt := 0
	for {
		sub, err := r.cfg.Subscriber.Subscribe(ctx, r.cfg.Topic)
		if err == nil {
			r.cfg.Retryer.Reset()
			attempt = 0
			r.log.Debug("realtime subscribed", "topic", r.cfg.Topic)
			err = r.consume(ctx, sub)
			sub.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, ok := r.cfg.Retryer.NextDelay(attempt, err)
		if !ok {
			return fmt.Errorf("realtime: giving up after %d attempts: %w", attempt+1, err)
		}
		r.log.Warn("realtime subscription lost, retrying",
			"topic", r.cfg.Topic,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Reconciler[W, U]) consume(ctx context.Context, sub Subscription) error {
	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			return fmt.Errorf("realtime: receive: %w", err)
		}
		r.Handle(frame)
	}
}
