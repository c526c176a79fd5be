package testutil

import (
	"fmt"
	"sync"
)

// SequentialHandles generates predictable view handles ("h1", "h2", ...).
//
// This enables deterministic test execution and golden trace comparison:
// the same scenario always addresses the same handles.
//
// Thread-safety: SequentialHandles is safe for concurrent use via internal
// mutex.
type SequentialHandles struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialHandles creates a generator. An empty prefix defaults to "h".
func NewSequentialHandles(prefix string) *SequentialHandles {
	if prefix == "" {
		prefix = "h"
	}
	return &SequentialHandles{prefix: prefix}
}

// Generate returns the next handle.
func (g *SequentialHandles) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s%d", g.prefix, g.next)
}
