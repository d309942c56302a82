package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/collection"
	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/errs"
	"github.com/roach88/optimist/internal/realtime"
	"github.com/roach88/optimist/internal/remote/memory"
	"github.com/roach88/optimist/internal/testutil"
)

// Epoch is the wall clock reading every scenario starts at.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultClientID tags mutations when the scenario names no client.
const DefaultClientID = "client-a"

// Token is passed to Enable.
const Token = "scenario-token"

const (
	settleTimeout = 2 * time.Second
	pollInterval  = time.Millisecond
)

type (
	todoSource = memory.Source[collection.TodoWire, collection.TodoInput]
	todoStore  = engine.Store[collection.TodoWire, collection.Todo, collection.TodoInput]
)

// Harness executes one scenario against a fresh todo store.
//
// Remote calls go to an in-memory source whose timing the scenario controls
// with hold, release and fail_next steps. Realtime frames are handed to the
// store directly. Server ids come from a sequence ("srv-1", "srv-2") and
// the wall clock only moves on advance steps, so traces are reproducible.
type Harness struct {
	scenario *Scenario
	src      *todoSource
	store    *todoStore
	clock    *cache.Clock
	wall     *testutil.ManualClock
	logger   *slog.Logger

	mu     sync.Mutex
	result *Result
	names  *idNames
	ops    map[string]*operation
}

// operation is a store call running on its own goroutine.
type operation struct {
	done chan struct{}
	id   string
	err  error
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store and source.
// Execution flow:
// 1. Seed the server rows
// 2. Execute steps in order, recording the trace
// 3. Evaluate final assertions
// 4. Release parked calls and dispose the store
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context for the store calls.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	cancel := h.store.Subscribe(h.onChange)
	defer cancel()

	for i := range scenario.Steps {
		if err := h.execute(ctx, i, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, scenario.Steps[i].Op, err)
		}
	}

	for _, msg := range h.evaluate(scenario.Assertions) {
		h.fail(msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, nil
}

func newHarness(sc *Scenario) (*Harness, error) {
	wall := testutil.NewManualClock(Epoch)
	src := memory.New(collection.NewTodoWire,
		memory.WithIDGenerator[collection.TodoWire, collection.TodoInput](testutil.NewSequenceGenerator("srv")),
		memory.WithNow[collection.TodoWire, collection.TodoInput](wall.Now),
	)
	for _, row := range sc.Seed {
		src.Seed(wireRow(row))
	}

	clientID := sc.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	cfg := collection.TodoConfig(src, collection.TodoTransformer{Now: wall.Now})
	cfg.Prune = sc.Prune
	cfg.Realtime = collection.TodoRealtime(realtime.NewHub(), clientID)
	if sc.StaleTime != "" {
		d, err := time.ParseDuration(sc.StaleTime)
		if err != nil {
			return nil, fmt.Errorf("stale_time: %w", err)
		}
		cfg.StaleTime = d
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := cache.NewClockAt(sc.Clock)
	st, err := engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithClock(clock),
		engine.WithNow(wall.Now),
		engine.WithClientID(clientID),
	)
	if err != nil {
		return nil, err
	}

	return &Harness{
		scenario: sc,
		src:      src,
		store:    st,
		clock:    clock,
		wall:     wall,
		logger:   logger,
		result:   NewResult(),
		names:    newIDNames(),
		ops:      make(map[string]*operation),
	}, nil
}

// close unparks every held call, disposes the store and waits for running
// operations. Their results are discarded.
func (h *Harness) close() {
	h.src.Resume()
	h.store.Dispose()
	for name, op := range h.ops {
		select {
		case <-op.done:
		case <-time.After(settleTimeout):
			h.logger.Warn("operation did not finish", "ref", name)
		}
	}
}

func (h *Harness) execute(ctx context.Context, i int, st *Step) error {
	ref := st.As
	if st.Ref != "" {
		ref = st.Ref
	}
	h.record(TraceEvent{Type: EventStep, Op: st.Op, Ref: ref, ID: st.ID})

	switch st.Op {
	case OpEnable:
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			return "", h.store.Enable(ctx, Token)
		})
	case OpDisable:
		h.store.Disable()
	case OpCreate:
		input := collection.TodoInput{Title: st.Title}
		if st.Completed != nil {
			input.Completed = *st.Completed
		}
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			todo, err := h.store.Create(ctx, input)
			return todo.ID, err
		})
	case OpUpdate:
		id := h.resolve(st.ID)
		now := h.wall.Now()
		patch := func(t collection.Todo) collection.Todo {
			if st.Title != "" {
				t.Title = st.Title
			}
			if st.Completed != nil {
				t.Completed = *st.Completed
			}
			t.UpdatedAt = now
			return t
		}
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			todo, err := h.store.Update(ctx, id, patch)
			return todo.ID, err
		})
	case OpRemove:
		id := h.resolve(st.ID)
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			return "", h.store.Remove(ctx, id)
		})
	case OpRefetch:
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			return "", h.store.Refetch(ctx)
		})
	case OpTrigger:
		return h.run(ctx, st, func(ctx context.Context) (string, error) {
			return "", h.store.TriggerQuery(ctx)
		})
	case OpAwait:
		return h.await(i, st)
	case OpHold:
		h.src.Hold()
	case OpResume:
		h.src.Resume()
	case OpRelease:
		if err := h.waitParked(st.Call); err != nil {
			return err
		}
		h.src.ReleaseOp(st.Call)
		if st.Ref != "" {
			return h.waitDone(st.Ref)
		}
	case OpFailNext:
		h.src.FailNext(st.Call, errors.New(st.Error))
	case OpRealtime:
		return h.realtime(st)
	case OpServerPut:
		h.src.Seed(wireRow(*st.Row))
	case OpServerDelete:
		h.src.Delete(h.resolve(st.ID))
	case OpAdvance:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return err
		}
		h.wall.Advance(d)
	case OpCheck:
		for _, msg := range h.evaluate(st.Assertions) {
			h.fail(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// run calls fn inline, or on its own goroutine for an async step. An async
// step returns once its remote call is parked or fn has finished.
func (h *Harness) run(ctx context.Context, st *Step, fn func(context.Context) (string, error)) error {
	op := &operation{done: make(chan struct{})}

	parkedBefore := len(h.src.Parked())
	go func() {
		defer close(op.done)
		op.id, op.err = fn(ctx)
	}()

	if st.As != "" {
		h.mu.Lock()
		h.ops[st.As] = op
		h.mu.Unlock()
	}
	if st.Async {
		return h.waitFor(func() bool {
			select {
			case <-op.done:
				return true
			default:
				return len(h.src.Parked()) > parkedBefore
			}
		}, fmt.Sprintf("%s to park or finish", st.Op))
	}

	select {
	case <-op.done:
	case <-time.After(settleTimeout):
		return fmt.Errorf("%s did not finish; is the source holding?", st.Op)
	}
	h.settled(st.Op, st.As, st.Expect, op)
	return nil
}

func (h *Harness) await(i int, st *Step) error {
	h.mu.Lock()
	op, ok := h.ops[st.Ref]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("await of unknown operation %q", st.Ref)
	}

	select {
	case <-op.done:
	case <-time.After(settleTimeout):
		return fmt.Errorf("operation %q did not finish", st.Ref)
	}
	opName := ""
	for _, s := range h.scenario.Steps[:i] {
		if s.As == st.Ref {
			opName = s.Op
		}
	}
	h.settled(opName, st.Ref, st.Expect, op)
	return nil
}

// settled records the result of a finished operation and checks expect.
func (h *Harness) settled(opName, ref, expect string, op *operation) {
	outcome := "ok"
	if op.err != nil {
		outcome = string(errs.KindOf(op.err))
		if outcome == "" {
			outcome = "error"
		}
	}

	h.mu.Lock()
	id := h.names.name(op.id)
	h.mu.Unlock()

	h.record(TraceEvent{Type: EventResult, Op: opName, Ref: ref, ID: id, Outcome: outcome})
	if expect != "" && expect != outcome {
		label := opName
		if ref != "" {
			label = ref
		}
		h.fail((&AssertionError{
			Type:     "expect",
			Expected: fmt.Sprintf("%s to end with %s", label, expect),
			Actual:   fmt.Sprintf("%s (%v)", outcome, op.err),
		}).Error())
	}
}

func (h *Harness) realtime(st *Step) error {
	var w collection.TodoWire
	if st.Row != nil {
		w = wireRow(*st.Row)
	} else {
		w = collection.TodoWire{ID: h.resolve(st.ID)}
	}

	ev, err := realtime.NewEvent(collection.TodoEventType, realtime.Kind(st.Kind), collection.TodoEntityKey, w)
	if err != nil {
		return err
	}
	ev.Origin = st.Origin
	switch {
	case st.Version != 0:
		ev.Version = st.Version
	case st.VersionOffset != nil:
		ev.Version = h.clock.Current() + *st.VersionOffset
		if ev.Version <= 0 {
			return fmt.Errorf("version_offset %d from clock %d is not positive", *st.VersionOffset, h.clock.Current())
		}
	}

	frame, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	outcome := h.store.Handle(frame)

	h.mu.Lock()
	id := h.names.name(w.ID)
	h.mu.Unlock()
	h.record(TraceEvent{Type: EventRealtime, Op: st.Kind, ID: id, Outcome: string(outcome)})
	return nil
}

// waitDone waits for a named operation to finish without recording its
// result, so the changes it commits land before the next step.
func (h *Harness) waitDone(ref string) error {
	h.mu.Lock()
	op, ok := h.ops[ref]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown operation %q", ref)
	}
	select {
	case <-op.done:
		return nil
	case <-time.After(settleTimeout):
		return fmt.Errorf("operation %q did not finish after release", ref)
	}
}

func (h *Harness) waitParked(call string) error {
	return h.waitFor(func() bool {
		return slices.Contains(h.src.Parked(), call)
	}, fmt.Sprintf("a parked %s call", call))
}

func (h *Harness) waitFor(cond func() bool, what string) error {
	deadline := time.Now().Add(settleTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", what)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// onChange records committed cache writes. Runs on the writing goroutine.
func (h *Harness) onChange(c cache.Change[collection.Todo]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ops := make([]ChangeOp, 0, len(c.Ops))
	for _, op := range c.Ops {
		co := ChangeOp{Kind: string(op.Kind)}
		if op.Kind != cache.OpReset {
			co.ID = h.names.name(op.ID)
			co.OldID = h.names.name(op.OldID)
			co.Pending = op.Record.Pending.String()
			co.Title = op.Record.Entity.Title
			co.Completed = op.Record.Entity.Completed
			co.Gone = op.Record.Gone
		}
		ops = append(ops, co)
	}
	h.result.add(TraceEvent{Type: EventChange, Changes: ops})
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.add(ev)
}

func (h *Harness) fail(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.AddError(msg)
}

// resolve maps a scenario id ("temp#1") to the store id.
func (h *Harness) resolve(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.names.resolve(id)
}

func wireRow(r Row) collection.TodoWire {
	ts := Epoch.Format(time.RFC3339)
	completed := "false"
	if r.Completed {
		completed = "true"
	}
	return collection.TodoWire{
		ID:        r.ID,
		Title:     r.Title,
		Completed: completed,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// idNames gives temporary ids stable names in order of first appearance.
type idNames struct {
	byID   map[string]string
	byName map[string]string
}

func newIDNames() *idNames {
	return &idNames{byID: make(map[string]string), byName: make(map[string]string)}
}

func (n *idNames) name(id string) string {
	if !entity.IsTempID(id) {
		return id
	}
	if name, ok := n.byID[id]; ok {
		return name
	}
	name := fmt.Sprintf("temp#%d", len(n.byID)+1)
	n.byID[id] = name
	n.byName[name] = id
	return name
}

func (n *idNames) resolve(name string) string {
	if id, ok := n.byName[name]; ok {
		return id
	}
	return name
}
