package collection

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/entity"
	"github.com/roach88/optimist/internal/remote/sqlite"
	"github.com/roach88/optimist/internal/store"
	"github.com/roach88/optimist/internal/transform"
)

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", ""},
		{"short", "Hello, world.", "Hello, world."},
		{"collapses whitespace", "one\n\ntwo\tthree", "one two three"},
		{"exact length", strings.Repeat("a", 160), strings.Repeat("a", 160)},
		{
			name: "cuts at word boundary",
			body: strings.Repeat("word ", 40),
			want: strings.TrimSpace(strings.Repeat("word ", 32)) + "...",
		},
		{
			name: "drops trailing punctuation",
			body: strings.Repeat("abc, ", 40),
			want: strings.TrimSuffix(strings.TrimSpace(strings.Repeat("abc, ", 32)), ",") + "...",
		},
		{
			name: "single long word",
			body: strings.Repeat("x", 200),
			want: strings.Repeat("x", 160) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Excerpt(tt.body)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), 163)
		})
	}
}

func TestReadingMinutes(t *testing.T) {
	assert.Equal(t, 0, ReadingMinutes(""))
	assert.Equal(t, 0, ReadingMinutes("   \n"))
	assert.Equal(t, 1, ReadingMinutes("one word"))
	assert.Equal(t, 1, ReadingMinutes(strings.Repeat("w ", 200)))
	assert.Equal(t, 2, ReadingMinutes(strings.Repeat("w ", 201)))
}

func TestPostTransformer(t *testing.T) {
	tr := PostTransformer{}
	w := PostWire{ID: "p1", Title: "Hello", Body: "short body", Author: "ada", PublishedAt: "2026-03-14T09:26:53Z"}

	u := tr.ToUI(w)
	assert.Equal(t, Post{
		ID: "p1", Title: "Hello", Body: "short body", Author: "ada",
		PublishedAt: now, Excerpt: "short body", ReadingMinutes: 1,
	}, u)
	assert.Equal(t, w, tr.ToAPI(u))

	opt := tr.Optimistic(PostInput{Title: "Draft", Body: "a b c", Author: "ada"}, transform.OptimisticContext{TempID: "temp-1", Now: now})
	assert.Equal(t, "temp-1", opt.ID)
	assert.Equal(t, "a b c", opt.Excerpt)
	assert.Equal(t, 1, opt.ReadingMinutes)
	assert.Equal(t, now, opt.PublishedAt)
}

func TestValidatePost(t *testing.T) {
	assert.NoError(t, ValidatePost(PostInput{Title: "t", Body: "b", Author: "a"}))
	assert.Error(t, ValidatePost(PostInput{Title: "t", Body: "", Author: "a"}))
	assert.Error(t, ValidatePost(PostInput{Title: "t", Body: "b", Author: strings.Repeat("a", 81)}))
	assert.Error(t, ValidatePost(PostInput{Title: "\t", Body: "b", Author: "a"}))
}

func TestPostLess(t *testing.T) {
	older := Post{ID: "a", PublishedAt: now}
	newer := Post{ID: "b", PublishedAt: now.Add(1)}
	assert.True(t, PostLess(newer, older))
	assert.False(t, PostLess(older, newer))
}

func TestPostStore_SQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	src := sqlite.New(st, PostName, NewPostWire,
		sqlite.WithIDGenerator[PostWire, PostInput](entity.NewFixedGenerator("p1", "p2")),
		sqlite.WithNow[PostWire, PostInput](fixedNow),
	)
	s, err := engine.New(PostConfig(src), engine.WithNow(fixedNow))
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	ctx := context.Background()
	require.NoError(t, s.Enable(ctx, ""))

	body := strings.Repeat("lorem ", 450)
	created, err := s.Create(ctx, PostInput{Title: "Long read", Body: body, Author: "ada"})
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ID)
	assert.Equal(t, 3, created.ReadingMinutes)
	assert.True(t, strings.HasSuffix(created.Excerpt, "..."))

	row, err := st.Get(ctx, PostName, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", row.ID)

	// A second store over the same database sees the post.
	other, err := engine.New(PostConfig(sqlite.New(st, PostName, NewPostWire)))
	require.NoError(t, err)
	t.Cleanup(other.Dispose)
	require.NoError(t, other.Enable(ctx, ""))

	got, ok := other.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Long read", got.Title)
	assert.Equal(t, created.Excerpt, got.Excerpt)
}
