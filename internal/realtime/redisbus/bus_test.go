package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optimist/internal/cache"
	"github.com/roach88/optimist/internal/realtime"
)

func setupTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	bus, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus, s
}

func TestNew(t *testing.T) {
	bus, _ := setupTestBus(t)
	if err := bus.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNew_BadURL(t *testing.T) {
	_, err := New("not-a-url")
	assert.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	bus, _ := setupTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, "todos")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, "todos", []byte(`{"type":"todos"}`)))
	require.NoError(t, bus.Publish(ctx, "todos", []byte(`{"type":"todos","n":2}`)))

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"todos"}`, string(first))

	second, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"todos","n":2}`, string(second))
}

func TestPrefixIsolatesTopics(t *testing.T) {
	bus, s := setupTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, "todos")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, 1, s.PubSubNumSub("optimist:todos")["optimist:todos"])

	other := bus.WithPrefix("tenant-b:")
	require.NoError(t, other.Publish(ctx, "todos", []byte("ignored")))
	require.NoError(t, bus.Publish(ctx, "todos", []byte("seen")))

	frame, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seen", string(frame))
}

func TestClose_NextReturnsErrClosed(t *testing.T) {
	bus, _ := setupTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "todos")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "double close is a no-op")

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, realtime.ErrClosed)
}

type wire struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (w wire) GetID() string { return w.ID }

func TestReconcilerOverRedis(t *testing.T) {
	bus, _ := setupTestBus(t)
	c := cache.New[wire]()

	r, err := realtime.NewReconciler(realtime.Config[wire, wire]{
		Collection:    "todos",
		Topic:         "todos",
		EventType:     "todos",
		ClientID:      "me",
		DataExtractor: realtime.ExtractField[wire]("todo"),
		ToUI:          func(w wire) (wire, error) { return w, nil },
		Cache:         c,
		Subscriber:    bus,
		Retryer:       realtime.NewFixedDelayRetryer(10*time.Millisecond, 0),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	publish := func(origin, id string) {
		ev, err := realtime.NewEvent("todos", realtime.KindInsert, "todo", wire{ID: id, Title: id})
		require.NoError(t, err)
		ev.Origin = origin
		f, err := realtime.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "todos", f))
	}

	// The subscription is asynchronous; keep publishing until one lands.
	require.Eventually(t, func() bool {
		publish("someone-else", "1")
		return c.Count() == 1
	}, 5*time.Second, 20*time.Millisecond)

	publish("me", "echo")
	publish("someone-else", "2")
	require.Eventually(t, func() bool { return c.Count() == 2 }, 5*time.Second, 10*time.Millisecond)

	_, ok := c.Get("echo")
	assert.False(t, ok, "own echo suppressed")
}
