package cache

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryEmbeddingCache(4)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "m", "hello"); ok {
		t.Fatal("empty cache reported a hit")
	}
	c.Put(ctx, "m", "hello", []float32{1, 2, 3})
	vec, ok := c.Get(ctx, "m", "hello")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(vec) != 3 || vec[0] != 1 || vec[2] != 3 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestMemoryCacheKeyedByModelAndText(t *testing.T) {
	c := NewMemoryEmbeddingCache(4)
	ctx := context.Background()
	c.Put(ctx, "model-a", "same text", []float32{1})
	if _, ok := c.Get(ctx, "model-b", "same text"); ok {
		t.Fatal("different model must not hit")
	}
	// the separator keeps concatenation ambiguity out of the key space
	c.Put(ctx, "ab", "c", []float32{2})
	if _, ok := c.Get(ctx, "a", "bc"); ok {
		t.Fatal("key collision across model/text boundary")
	}
}

func TestMemoryCacheDefensiveCopies(t *testing.T) {
	c := NewMemoryEmbeddingCache(4)
	ctx := context.Background()

	src := []float32{1, 2, 3}
	c.Put(ctx, "m", "t", src)
	src[0] = 99

	got, _ := c.Get(ctx, "m", "t")
	if got[0] != 1 {
		t.Fatal("cache shares the caller's backing array on Put")
	}
	got[1] = 99
	again, _ := c.Get(ctx, "m", "t")
	if again[1] != 2 {
		t.Fatal("cache shares its backing array on Get")
	}
}

func TestMemoryCacheFIFOEviction(t *testing.T) {
	c := NewMemoryEmbeddingCache(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.Put(ctx, "m", fmt.Sprintf("t%d", i), []float32{float32(i)})
	}
	// re-putting an existing key must not grow the cache or reorder eviction
	c.Put(ctx, "m", "t0", []float32{100})
	c.Put(ctx, "m", "t3", []float32{3})

	if c.Len() != 3 {
		t.Fatalf("len=%d, want 3", c.Len())
	}
	if _, ok := c.Get(ctx, "m", "t0"); ok {
		t.Fatal("t0 should be evicted first (FIFO)")
	}
	for _, k := range []string{"t1", "t2", "t3"} {
		if _, ok := c.Get(ctx, "m", k); !ok {
			t.Fatalf("%s unexpectedly evicted", k)
		}
	}
}

type recordingCache struct {
	items map[string][]float32
	gets  int
	puts  int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: make(map[string][]float32)}
}

func (r *recordingCache) Get(_ context.Context, modelID, text string) ([]float32, bool) {
	r.gets++
	v, ok := r.items[Key(modelID, text)]
	return v, ok
}

func (r *recordingCache) Put(_ context.Context, modelID, text string, vec []float32) {
	r.puts++
	r.items[Key(modelID, text)] = vec
}

func TestTieredPromotesSecondTierHits(t *testing.T) {
	l1 := NewMemoryEmbeddingCache(4)
	l2 := newRecordingCache()
	c := Tiered(l1, l2)
	ctx := context.Background()

	l2.items[Key("m", "t")] = []float32{7}

	vec, ok := c.Get(ctx, "m", "t")
	if !ok || vec[0] != 7 {
		t.Fatalf("expected l2 hit, got %v %v", vec, ok)
	}
	// promoted: second lookup must not touch l2
	before := l2.gets
	if _, ok := c.Get(ctx, "m", "t"); !ok {
		t.Fatal("expected l1 hit after promotion")
	}
	if l2.gets != before {
		t.Fatal("l1 hit still consulted l2")
	}
}

func TestTieredWritesBothTiers(t *testing.T) {
	l1 := NewMemoryEmbeddingCache(4)
	l2 := newRecordingCache()
	c := Tiered(l1, l2)
	ctx := context.Background()

	c.Put(ctx, "m", "t", []float32{1})
	if l2.puts != 1 {
		t.Fatalf("l2 puts=%d, want 1", l2.puts)
	}
	if _, ok := l1.Get(ctx, "m", "t"); !ok {
		t.Fatal("l1 missing after tiered Put")
	}
}

func TestTieredNilSecondTier(t *testing.T) {
	l1 := NewMemoryEmbeddingCache(4)
	c := Tiered(l1, nil)
	if got, ok := c.(*MemoryEmbeddingCache); !ok || got != l1 {
		t.Fatal("nil l2 must degrade to l1")
	}
}
