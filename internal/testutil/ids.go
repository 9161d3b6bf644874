package testutil

import (
	"context"
	"fmt"
	"sync"
)

// FixedIDs hands out a predefined sequence of ids.
//
// It implements idgen.Generator, letting tests force conflicts by listing
// ids that already exist. MaxAttempts equals the number of ids.
//
// Thread-safety: Generate is safe for concurrent use.
type FixedIDs struct {
	mu   sync.Mutex
	ids  []any
	next int
	seen []any
}

// NewFixedIDs creates a generator returning ids in order.
func NewFixedIDs(ids ...any) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// Generate returns the next id and records current.
func (g *FixedIDs) Generate(_ context.Context, current any) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, current)
	if g.next >= len(g.ids) {
		return nil, fmt.Errorf("fixed ids exhausted after %d", len(g.ids))
	}
	id := g.ids[g.next]
	g.next++
	return id, nil
}

// MaxAttempts returns the number of ids.
func (g *FixedIDs) MaxAttempts() int { return len(g.ids) }

// Currents returns the current ids Generate was called with.
func (g *FixedIDs) Currents() []any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]any(nil), g.seen...)
}
