package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator mints "<prefix>-1", "<prefix>-2", ... without limit.
//
// Unlike entity.FixedGenerator it never runs out, which suits scenarios
// that do not know in advance how many records they create.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to "srv".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "srv"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Implements entity.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
