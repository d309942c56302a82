package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/optimist/internal/entity"
)

var start = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(start)
	assert.Equal(t, start, c.Now())

	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Advance(-time.Hour))

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(50*time.Second), c.Now())
}

func TestSequenceGenerator(t *testing.T) {
	var gen entity.IDGenerator = NewSequenceGenerator("todo")
	assert.Equal(t, "todo-1", gen.Generate())
	assert.Equal(t, "todo-2", gen.Generate())

	g := NewSequenceGenerator("")
	assert.Equal(t, "srv-1", g.Generate())
	g.Reset()
	assert.Equal(t, "srv-1", g.Generate())
}

func TestSequenceGenerator_Unique(t *testing.T) {
	g := NewSequenceGenerator("x")
	seen := make(map[string]bool)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
}
