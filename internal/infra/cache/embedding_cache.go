// Package cache provides the in-process embedding cache and the tiered
// composition that layers it over a shared store such as Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"novel-ai-core/internal/domain/ports/repository"
	"novel-ai-core/internal/infra/metrics"
)

const defaultCapacity = 1000

// Key derives the cache key for a (model, text) pair. The NUL separator
// keeps ("a", "bc") and ("ab", "c") distinct.
func Key(modelID, text string) string {
	h := sha256.Sum256([]byte(modelID + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// MemoryEmbeddingCache is a bounded FIFO cache. Insertion order eviction is
// deliberate: embedding lookups cluster around the document being edited, so
// recency tracking buys little over plain FIFO here.
type MemoryEmbeddingCache struct {
	mu    sync.Mutex
	cap   int
	order []string
	items map[string][]float32
}

var _ repository.EmbeddingCache = (*MemoryEmbeddingCache)(nil)

// NewMemoryEmbeddingCache returns a cache holding at most capacity vectors.
// A non-positive capacity selects the default of 1000.
func NewMemoryEmbeddingCache(capacity int) *MemoryEmbeddingCache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryEmbeddingCache{
		cap:   capacity,
		items: make(map[string][]float32, capacity),
	}
}

func (c *MemoryEmbeddingCache) Get(_ context.Context, modelID, text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.items[Key(modelID, text)]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

func (c *MemoryEmbeddingCache) Put(_ context.Context, modelID, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	key := Key(modelID, text)
	stored := make([]float32, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		for len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = stored
}

// Len reports the number of cached vectors.
func (c *MemoryEmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// tiered reads through l1 then l2, promoting l2 hits into l1. Writes go to
// both tiers.
type tiered struct {
	l1, l2 repository.EmbeddingCache
}

var _ repository.EmbeddingCache = (*tiered)(nil)

// Tiered layers a fast local cache over a shared one. A nil l2 degrades to
// l1 alone.
func Tiered(l1, l2 repository.EmbeddingCache) repository.EmbeddingCache {
	if l2 == nil {
		return l1
	}
	return &tiered{l1: l1, l2: l2}
}

func (t *tiered) Get(ctx context.Context, modelID, text string) ([]float32, bool) {
	if vec, ok := t.l1.Get(ctx, modelID, text); ok {
		metrics.IncCacheHit("memory")
		return vec, true
	}
	if vec, ok := t.l2.Get(ctx, modelID, text); ok {
		metrics.IncCacheHit("redis")
		t.l1.Put(ctx, modelID, text, vec)
		return vec, true
	}
	metrics.IncCacheMiss()
	return nil, false
}

func (t *tiered) Put(ctx context.Context, modelID, text string, vec []float32) {
	t.l1.Put(ctx, modelID, text, vec)
	t.l2.Put(ctx, modelID, text, vec)
}
