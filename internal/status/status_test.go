package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/optimist/internal/entity"
)

func TestLoadingThenSyncing(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Status{}, tr.Snapshot())

	tr.FetchStarted()
	s := tr.Snapshot()
	assert.True(t, s.IsLoading)
	assert.False(t, s.IsSyncing)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tr.FetchSucceeded(at)
	assert.Equal(t, Status{LastFetched: at}, tr.Snapshot())

	tr.FetchStarted()
	s = tr.Snapshot()
	assert.False(t, s.IsLoading, "a refetch is syncing, not loading")
	assert.True(t, s.IsSyncing)
}

func TestFetchFailure(t *testing.T) {
	tr := NewTracker()
	boom := errors.New("boom")

	tr.FetchStarted()
	tr.FetchFailed(boom)
	s := tr.Snapshot()
	assert.True(t, s.IsError)
	assert.Equal(t, boom, s.Error)
	assert.False(t, s.IsLoading)

	tr.MutationStarted(entity.PendingCreate)
	tr.MutationSucceeded(entity.PendingCreate)
	assert.Equal(t, boom, tr.Snapshot().Error, "mutation success keeps the query error")

	tr.FetchStarted()
	tr.FetchSucceeded(time.Now())
	s = tr.Snapshot()
	assert.False(t, s.IsError)
	assert.NoError(t, s.Error)
}

func TestMutationFlags(t *testing.T) {
	tr := NewTracker()

	tr.MutationStarted(entity.PendingUpdate)
	tr.MutationStarted(entity.PendingUpdate)
	s := tr.Snapshot()
	assert.True(t, s.UpdatePending)
	assert.True(t, s.IsSyncing)
	assert.False(t, s.CreatePending)

	boom := errors.New("rejected")
	tr.MutationFailed(entity.PendingUpdate, boom)
	s = tr.Snapshot()
	assert.True(t, s.UpdatePending, "one still in flight")
	assert.Equal(t, boom, s.Error)
	assert.False(t, s.IsError, "mutation failures are not query errors")

	tr.MutationSucceeded(entity.PendingUpdate)
	s = tr.Snapshot()
	assert.False(t, s.UpdatePending)
	assert.False(t, s.IsSyncing)
	assert.NoError(t, s.Error)
}

func TestSubscribe(t *testing.T) {
	tr := NewTracker()
	var seen []Status
	cancel := tr.Subscribe(func(s Status) { seen = append(seen, s) })

	tr.MutationStarted(entity.PendingDelete)
	tr.MutationAbandoned(entity.PendingDelete)
	cancel()
	tr.MutationStarted(entity.PendingDelete)

	assert.Len(t, seen, 2)
	assert.True(t, seen[0].DeletePending)
	assert.False(t, seen[1].DeletePending)
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.FetchStarted()
	tr.MutationStarted(entity.PendingCreate)
	tr.Reset()
	assert.Equal(t, Status{}, tr.Snapshot())
}
