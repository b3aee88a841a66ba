// Package modelcache caches model metadata (context window, availability)
// fetched from a backend's list_models call, so the agent loop doesn't pay
// a network round trip to resolve a model's context window on every turn.
package modelcache

import (
	"context"
	"sync"
	"time"

	"github.com/agentichat/agentichat/internal/llm"
)

// defaultTTL mirrors the teacher's session TTL shape (internal/session.Store):
// a mutex-guarded map with time-stamped entries. Expired entries are never
// removed: ContextWindow skips them on lookup, and there is no background
// sweep, since model metadata changes far less often than session turns and
// a ticker goroutine would be overkill here.
const defaultTTL = time.Hour

// Entry is one cached model's metadata.
type Entry struct {
	ID            string
	ContextWindow int
	FetchedAt     time.Time
}

// Cache holds model metadata fetched from a backend's ListModels call,
// falling back to the static capability table (internal/llm.GetContextWindow)
// for models the live cache hasn't seen yet or whose entry has expired.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry
}

// New creates an empty cache. ttl <= 0 uses defaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]Entry)}
}

// ContextWindow returns the context window in tokens for modelID, preferring
// a fresh cache entry and falling back to the static known-model table. The
// bool reports whether a value (cached or static) was found at all.
func (c *Cache) ContextWindow(modelID string) (int, bool) {
	c.mu.RLock()
	e, ok := c.entries[modelID]
	c.mu.RUnlock()
	if ok && time.Since(e.FetchedAt) < c.ttl && e.ContextWindow > 0 {
		return e.ContextWindow, true
	}
	if w := llm.GetContextWindow(modelID); w > 0 {
		return w, true
	}
	return 0, false
}

// Has reports whether modelID was present in the most recent successful
// Refresh, regardless of TTL expiry — used to validate a user-requested
// model switch against what the backend actually serves.
func (c *Cache) Has(modelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[modelID]
	return ok
}

// Models returns the cached model IDs in no particular order.
func (c *Cache) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Refresh calls backend.ListModels and records every model it returns,
// annotating each with the static context-window table when recognized.
// A model absent from that table is still cached (ContextWindow: 0) so Has
// reports it as available; ContextWindow falls back to the safe default at
// the call site.
func (c *Cache) Refresh(ctx context.Context, backend llm.Backend) error {
	models, err := backend.ListModels(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range models {
		c.entries[m.ID] = Entry{
			ID:            m.ID,
			ContextWindow: llm.GetContextWindow(m.ID),
			FetchedAt:     now,
		}
	}
	return nil
}
