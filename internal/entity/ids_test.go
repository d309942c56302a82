package entity

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewTempID(now)

	assert.Regexp(t, regexp.MustCompile(`^temp-1700000000123-[0-9a-f]{8}$`), id)
	assert.True(t, IsTempID(id))
}

func TestNewTempID_UniqueWithinMillisecond(t *testing.T) {
	now := time.UnixMilli(42)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewTempID(now)
		require.False(t, seen[id], "duplicate temp id %s", id)
		seen[id] = true
	}
}

func TestIsTempID(t *testing.T) {
	assert.False(t, IsTempID("0190f2b4-7c1e-7000-8000-000000000000"))
	assert.False(t, IsTempID(""))
	assert.True(t, IsTempID("temp-1-abcdef01"))
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.Generate()
	time.Sleep(2 * time.Millisecond)
	b := gen.Generate()

	assert.Len(t, a, 36)
	assert.Less(t, a, b, "UUIDv7 ids minted later should sort later")
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestPendingOp_IsPending(t *testing.T) {
	assert.False(t, PendingNone.IsPending())
	assert.False(t, PendingOp("").IsPending())
	assert.True(t, PendingCreate.IsPending())
	assert.True(t, PendingUpdate.IsPending())
	assert.True(t, PendingDelete.IsPending())
	assert.Equal(t, "none", PendingOp("").String())
}
