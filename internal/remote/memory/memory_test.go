package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/remote"
)

type todo struct {
	ID      string
	Title   string
	Created time.Time
}

func (t todo) GetID() string { return t.ID }

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSource(ids ...string) *Source[todo, string] {
	return New(
		func(id, title string, now time.Time) todo { return todo{ID: id, Title: title, Created: now} },
		WithIDGenerator[todo, string](entity.NewFixedGenerator(ids...)),
		WithNow[todo, string](func() time.Time { return epoch }),
	)
}

func TestCreateListUpdateRemove(t *testing.T) {
	src := newTestSource("a", "b")
	ctx := context.Background()

	a, err := src.Create(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, todo{ID: "a", Title: "first", Created: epoch}, a)
	_, err = src.Create(ctx, "second")
	require.NoError(t, err)

	rows, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)

	a.Title = "edited"
	got, err := src.Update(ctx, "a", a)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Title)

	removed, err := src.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", removed)
	assert.Len(t, src.Rows(), 1)
}

func TestUnknownIDs(t *testing.T) {
	src := newTestSource()
	ctx := context.Background()

	_, err := src.Update(ctx, "nope", todo{ID: "nope"})
	assert.ErrorIs(t, err, remote.ErrNotFound)
	_, err = src.Remove(ctx, "nope")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestUpdate_RejectsMismatchedPayloadID(t *testing.T) {
	src := newTestSource()
	src.Seed(todo{ID: "a"})
	_, err := src.Update(context.Background(), "a", todo{ID: "b"})
	assert.Error(t, err)
}

func TestFailNext_QueuesPerOperation(t *testing.T) {
	src := newTestSource("a")
	ctx := context.Background()
	boom := errors.New("boom")

	src.FailNext(OpCreate, boom)
	_, err := src.Create(ctx, "x")
	assert.ErrorIs(t, err, boom)

	// The failure is consumed; the list call is unaffected.
	_, err = src.List(ctx)
	assert.NoError(t, err)

	_, err = src.Create(ctx, "x")
	assert.NoError(t, err)
	assert.Equal(t, 2, src.Calls(OpCreate))
}

func TestHold_ParksUntilReleased(t *testing.T) {
	src := newTestSource("a", "b")
	src.Hold()

	done := make(chan todo, 1)
	go func() {
		w, err := src.Create(context.Background(), "held")
		assert.NoError(t, err)
		done <- w
	}()

	require.Eventually(t, func() bool { return len(src.Parked()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{OpCreate}, src.Parked())
	assert.Empty(t, src.Rows(), "parked call has not run")

	assert.False(t, src.ReleaseOp(OpUpdate))
	assert.True(t, src.ReleaseOp(OpCreate))

	select {
	case w := <-done:
		assert.Equal(t, "a", w.ID)
	case <-time.After(time.Second):
		t.Fatal("create did not complete after release")
	}
}

func TestHold_ContextCancelUnparks(t *testing.T) {
	src := newTestSource()
	src.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := src.List(ctx)
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(src.Parked()) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Empty(t, src.Parked())
}

func TestResume_ReleasesEverything(t *testing.T) {
	src := newTestSource()
	src.Seed(todo{ID: "a"}, todo{ID: "b"})
	src.Hold()

	errc := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		id := id
		go func() {
			_, err := src.Remove(context.Background(), id)
			errc <- err
		}()
	}
	require.Eventually(t, func() bool { return len(src.Parked()) == 2 }, time.Second, time.Millisecond)

	src.Resume()
	assert.NoError(t, <-errc)
	assert.NoError(t, <-errc)
	assert.Empty(t, src.Rows())

	// No longer holding.
	_, err := src.List(context.Background())
	assert.NoError(t, err)
}

func TestSeedAndDelete(t *testing.T) {
	src := newTestSource()
	src.Seed(todo{ID: "a", Title: "one"}, todo{ID: "b"})
	src.Seed(todo{ID: "a", Title: "two"})

	rows := src.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "two", rows[0].Title, "reseeding keeps position")

	assert.True(t, src.Delete("a"))
	assert.False(t, src.Delete("a"))
	assert.Len(t, src.Rows(), 1)
}
