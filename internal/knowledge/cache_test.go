package knowledge

import (
	"fmt"
	"sync"
	"testing"
)

func TestCacheKeyNormalization(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"case insensitive", "What Is Go?", "what is go?", true},
		{"surrounding whitespace", "  query  ", "query", true},
		{"different text", "alpha", "beta", false},
		{"interior whitespace matters", "a b", "ab", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.a) == CacheKey(tt.b); got != tt.same {
				t.Errorf("CacheKey(%q) == CacheKey(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
			}
		})
	}
}

func TestCacheGetPut(t *testing.T) {
	c := NewEmbeddingCache(4)

	if _, ok := c.Get("k1"); ok {
		t.Error("Get() on empty cache reported a hit")
	}

	c.Put("k1", []float32{1, 2, 3})
	vec, ok := c.Get("k1")
	if !ok {
		t.Fatal("Get() missed after Put()")
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("cached vector = %v, want [1 2 3]", vec)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v, want hits=1 misses=1 size=1", stats)
	}
}

func TestCacheEvictsLeastFrequent(t *testing.T) {
	c := NewEmbeddingCache(3)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3})

	// a and c get traffic; b stays cold.
	c.Get("a")
	c.Get("a")
	c.Get("c")

	c.Put("d", []float32{4})

	if _, ok := c.Get("b"); ok {
		t.Error("cold entry b survived eviction")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q evicted, want kept", key)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestCacheEvictionTieBreak(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Put("first", []float32{1})
	c.Put("second", []float32{2})

	// Both entries have zero accesses; the older insertion loses.
	c.Put("third", []float32{3})

	if _, ok := c.Get("first"); ok {
		t.Error("oldest zero-use entry survived, want evicted")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("newer zero-use entry evicted, want kept")
	}
}

func TestCacheUpdateKeepsFrequency(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Put("a", []float32{1})
	c.Get("a")
	c.Get("a")
	c.Put("a", []float32{9}) // refresh, not reinsert
	c.Put("b", []float32{2})
	c.Put("c", []float32{3})

	// b had zero accesses, a had two. b goes.
	if _, ok := c.Get("b"); ok {
		t.Error("low-frequency entry b survived, want evicted")
	}
	vec, ok := c.Get("a")
	if !ok {
		t.Fatal("refreshed entry a evicted, want kept")
	}
	if vec[0] != 9 {
		t.Errorf("refreshed vector = %v, want [9]", vec)
	}
}

func TestCacheZeroCapacity(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Put("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache returned a hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewEmbeddingCache(64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%16)
				if _, ok := c.Get(key); !ok {
					c.Put(key, []float32{float32(n), float32(j)})
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("Len() = %d, want at most 16", c.Len())
	}
	stats := c.Stats()
	if stats.Hits+stats.Misses != 8*100 {
		t.Errorf("hits+misses = %d, want %d", stats.Hits+stats.Misses, 8*100)
	}
}
