package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_AssignsSeqPerCollection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.Insert(ctx, "todos", "a", testTodo{ID: "a", Title: "first", Completed: "false"})
	require.NoError(t, err)
	b, err := s.Insert(ctx, "todos", "b", testTodo{ID: "b", Title: "second", Completed: "false"})
	require.NoError(t, err)
	p, err := s.Insert(ctx, "posts", "p", map[string]any{"id": "p"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)
	assert.Equal(t, int64(1), p.Seq, "seq is per collection")
	assert.Equal(t, int64(1), a.Revision)
	assert.Equal(t, `{"completed":"false","id":"a","title":"first"}`, a.Payload)
	assert.Len(t, a.Fingerprint, 64)
}

func TestInsert_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todos", "a", testTodo{ID: "a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "todos", "a", testTodo{ID: "a", Title: "again"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdate_SkipsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todos", "a", testTodo{ID: "a", Title: "x"})
	require.NoError(t, err)

	row, changed, err := s.Update(ctx, "todos", "a", testTodo{ID: "a", Title: "x"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(1), row.Revision)

	row, changed, err = s.Update(ctx, "todos", "a", testTodo{ID: "a", Title: "y"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(2), row.Revision)
	assert.Equal(t, int64(1), row.Seq, "updates keep position")
}

func TestUpdate_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.Update(context.Background(), "todos", "ghost", testTodo{ID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todos", "a", testTodo{ID: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "todos", "a"))
	assert.ErrorIs(t, s.Delete(ctx, "todos", "a"), ErrNotFound)

	_, err = s.Get(ctx, "todos", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
