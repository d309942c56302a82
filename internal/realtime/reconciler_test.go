package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/entity"
)

type testUI struct {
	ID    string
	Title string
}

func (u testUI) GetID() string { return u.ID }

func newTestReconciler(t require.TestingT, c *cache.Cache[testUI], opts ...func(*Config[testWire, testUI])) *Reconciler[testWire, testUI] {
	cfg := Config[testWire, testUI]{
		Collection:    "todos",
		Topic:         "optimist:todos",
		EventType:     "todos",
		ClientID:      "client-a",
		DataExtractor: ExtractField[testWire]("todo"),
		ToUI: func(w testWire) (testUI, error) {
			return testUI{ID: w.ID, Title: w.Title}, nil
		},
		Cache: c,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := NewReconciler(cfg)
	require.NoError(t, err)
	return r
}

func frame(kind Kind, id, title, origin string, version int64) []byte {
	ev, err := NewEvent("todos", kind, "todo", testWire{ID: id, Title: title})
	if err != nil {
		panic(err)
	}
	ev.Origin = origin
	ev.Version = version
	f, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return f
}

func TestNewReconciler_RequiresConfig(t *testing.T) {
	_, err := NewReconciler(Config[testWire, testUI]{})
	assert.Error(t, err)
}

func TestHandle_InsertUpdateDelete(t *testing.T) {
	c := cache.New[testUI]()
	r := newTestReconciler(t, c)

	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindInsert, "1", "a", "client-b", 0)))
	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindUpdate, "1", "b", "client-b", 0)))

	got, ok := c.Get("1")
	require.True(t, ok)
	assert.Equal(t, "b", got.Title)
	rec, _ := c.Record("1")
	assert.Equal(t, entity.OriginServer, rec.Origin)

	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindDelete, "1", "", "client-b", 0)))
	assert.Equal(t, 0, c.Count())
}

func TestHandle_VersionSharesCacheClock(t *testing.T) {
	c := cache.New[testUI](cache.WithClock[testUI](cache.NewClockAt(50)))
	r := newTestReconciler(t, c)

	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindInsert, "1", "a", "client-b", 0)))
	rec, _ := c.Record("1")
	assert.Equal(t, int64(50), rec.Version, "zero version stamps the current clock")

	assert.Equal(t, OutcomeStale, r.Handle(frame(KindUpdate, "1", "revision three", "client-b", 3)))
	got, _ := c.Get("1")
	assert.Equal(t, "a", got.Title, "a version from another domain loses to the local clock")

	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindUpdate, "1", "b", "client-b", 60)))
	assert.Equal(t, int64(60), c.Clock().Current(), "explicit versions advance the clock")
}

func TestHandle_FiltersAndDrops(t *testing.T) {
	c := cache.New[testUI]()
	r := newTestReconciler(t, c, func(cfg *Config[testWire, testUI]) {
		cfg.ShouldProcessEvent = func(ev Event) bool { return ev.Kind != KindUpdate }
	})

	other, _ := Encode(Event{Type: "posts", Kind: KindInsert})
	assert.Equal(t, OutcomeIgnored, r.Handle(other))
	assert.Equal(t, OutcomeIgnored, r.Handle(frame(KindUpdate, "1", "x", "client-b", 0)))
	assert.Equal(t, OutcomeDropped, r.Handle([]byte(`not json`)))
	assert.Equal(t, OutcomeDropped, r.Handle([]byte(`{"type":"todos","event":"UPSERT","todo":{"id":"1"}}`)))
	assert.Equal(t, OutcomeDropped, r.Handle([]byte(`{"type":"todos","event":"INSERT"}`)))
	assert.Equal(t, OutcomeDropped, r.Handle([]byte(`{"type":"todos","event":"INSERT","todo":{"title":"no id"}}`)))
	assert.Equal(t, OutcomeDropped, r.Handle([]byte(`{"type":"todos","event":"INSERT","todo":[1,2]}`)))
	assert.Equal(t, 0, c.Count())
}

func TestHandle_TransformErrorDropsRecord(t *testing.T) {
	c := cache.New[testUI]()
	r := newTestReconciler(t, c, func(cfg *Config[testWire, testUI]) {
		cfg.ToUI = func(w testWire) (testUI, error) { return testUI{}, errors.New("bad") }
	})

	assert.Equal(t, OutcomeDropped, r.Handle(frame(KindInsert, "1", "a", "", 0)))
	assert.Equal(t, 0, c.Count())
}

func TestHandle_AfterDisposalIgnored(t *testing.T) {
	c := cache.New[testUI]()
	r := newTestReconciler(t, c, func(cfg *Config[testWire, testUI]) {
		cfg.Disposed = func() bool { return true }
	})
	assert.Equal(t, OutcomeIgnored, r.Handle(frame(KindInsert, "1", "a", "", 0)))
	assert.Equal(t, 0, c.Count())
}

func TestHandle_DeleteOlderThanPendingUpdateIsStale(t *testing.T) {
	c := cache.New[testUI](cache.WithClock[testUI](cache.NewClockAt(10)))
	r := newTestReconciler(t, c)
	c.Upsert(cache.Record[testUI]{ID: "e", Entity: testUI{ID: "e", Title: "server"}, Origin: entity.OriginServer, Version: 10})

	pending := cache.Record[testUI]{
		ID:      "e",
		Entity:  testUI{ID: "e", Title: "edited"},
		Origin:  entity.OriginOptimistic,
		Pending: entity.PendingUpdate,
		Version: c.Clock().Next(),
	}
	c.Update(func(tx *cache.Tx[testUI]) { tx.Put(pending) })

	assert.Equal(t, OutcomeStale, r.Handle(frame(KindDelete, "e", "", "client-b", pending.Version-1)))

	rec, ok := c.Record("e")
	require.True(t, ok)
	assert.Equal(t, pending, rec, "record unmodified until the update settles")
}

func TestHandle_ExplicitNewerVersionAdvancesClock(t *testing.T) {
	c := cache.New[testUI]()
	r := newTestReconciler(t, c)

	assert.Equal(t, OutcomeApplied, r.Handle(frame(KindInsert, "1", "a", "", 40)))
	assert.Equal(t, int64(40), c.Clock().Current())
	assert.Equal(t, OutcomeStale, r.Handle(frame(KindUpdate, "1", "old", "", 12)))
}

// A frame whose origin is this client never changes the cache, whatever its
// kind or version.
func TestSelfEchoSuppression_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := cache.New[testUI]()
		r := newTestReconciler(t, c)

		seeded := rapid.IntRange(0, 3).Draw(t, "seeded")
		for i := 0; i < seeded; i++ {
			id := fmt.Sprintf("%d", i)
			c.Upsert(cache.Record[testUI]{ID: id, Entity: testUI{ID: id, Title: "s"}, Origin: entity.OriginServer})
		}
		before := c.Records()

		kind := rapid.SampledFrom([]Kind{KindInsert, KindUpdate, KindDelete}).Draw(t, "kind")
		id := rapid.SampledFrom([]string{"0", "1", "2", "new"}).Draw(t, "id")
		version := rapid.Int64Range(0, 100).Draw(t, "version")

		outcome := r.Handle(frame(kind, id, "echo", "client-a", version))
		if outcome != OutcomeEcho {
			t.Fatalf("outcome = %s, want echo", outcome)
		}
		after := c.Records()
		if len(after) != len(before) {
			t.Fatalf("echo changed record count %d -> %d", len(before), len(after))
		}
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("echo changed record %s", before[i].ID)
			}
		}
	})
}

func TestRun_ResubscribesAfterDisconnect(t *testing.T) {
	hub := NewHub()
	c := cache.New[testUI]()
	r := newTestReconciler(t, c, func(cfg *Config[testWire, testUI]) {
		cfg.Subscriber = hub
		cfg.Retryer = NewFixedDelayRetryer(5*time.Millisecond, 0)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return hub.Subscribers("optimist:todos") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, hub.Publish(ctx, "optimist:todos", frame(KindInsert, "1", "a", "", 0)))
	require.Eventually(t, func() bool { return c.Count() == 1 }, time.Second, time.Millisecond)

	hub.Disconnect("optimist:todos")
	require.Eventually(t, func() bool { return hub.Subscribers("optimist:todos") == 1 }, time.Second, time.Millisecond)
	require.NoError(t, hub.Publish(ctx, "optimist:todos", frame(KindInsert, "2", "b", "", 0)))
	require.Eventually(t, func() bool { return c.Count() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_GivesUp(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Close())

	r := newTestReconciler(t, cache.New[testUI](), func(cfg *Config[testWire, testUI]) {
		cfg.Subscriber = hub
		cfg.Retryer = NewFixedDelayRetryer(time.Millisecond, 2)
	})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorContains(t, err, "giving up after 3 attempts")
}
