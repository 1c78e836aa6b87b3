package cache

import (
	"sync"
	"testing"
)

// singleShard routes every key to shard 0 so eviction order is observable.
func singleShard(uint64) uint64 { return 0 }

// =============================================================================
// Get / Set
// =============================================================================

func TestShardedCache_GetSet(t *testing.T) {
	c := NewSharded[uint64, string](4, Uint64Hasher, nil)

	c.Set(1, "one")
	c.Set(2, "two")

	if v, ok := c.Get(1); !ok || v != "one" {
		t.Errorf("Get(1) = %q, %v, want one, true", v, ok)
	}
	if _, ok := c.Get(3); ok {
		t.Error("Get(3) should miss")
	}

	c.Set(1, "uno")
	if v, _ := c.Get(1); v != "uno" {
		t.Errorf("Get(1) after update = %q, want uno", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestShardedCache_DefaultCapacity(t *testing.T) {
	c := NewSharded[uint64, int](0, Uint64Hasher, nil)
	if got := c.Stats().Capacity; got != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", got, DefaultCapacity)
	}
}

// =============================================================================
// Eviction
// =============================================================================

func TestShardedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evictedKeys []uint64
	c := NewSharded[uint64, int](3, singleShard, func(k uint64, _ int) {
		evictedKeys = append(evictedKeys, k)
	})

	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)
	c.Get(1) // 2 is now the oldest
	c.Set(4, 4)

	if len(evictedKeys) != 1 || evictedKeys[0] != 2 {
		t.Fatalf("evicted = %v, want [2]", evictedKeys)
	}
	if _, ok := c.Get(2); ok {
		t.Error("evicted key 2 still present")
	}
	for _, k := range []uint64{1, 3, 4} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %d missing", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestShardedCache_TakeSkipsEvictCallback(t *testing.T) {
	calls := 0
	c := NewSharded[uint64, int](2, singleShard, func(uint64, int) { calls++ })
	c.Set(7, 70)

	v, ok := c.Take(7)
	if !ok || v != 70 {
		t.Errorf("Take(7) = %d, %v, want 70, true", v, ok)
	}
	if c.Delete(7) {
		t.Error("Delete after Take should report false")
	}
	if calls != 0 {
		t.Errorf("evict callback called %d times, want 0", calls)
	}
}

func TestShardedCache_OnEvictingRunsBeforeEvict(t *testing.T) {
	var order []string
	c := NewSharded[uint64, int](1, singleShard, func(k uint64, _ int) {
		order = append(order, "evict")
	})
	c.OnEvicting(func(k uint64, v int) {
		order = append(order, "evicting")
		if k != 1 || v != 10 {
			t.Errorf("OnEvicting(%d, %d), want (1, 10)", k, v)
		}
	})

	c.Set(1, 10)
	c.Set(2, 20)
	if len(order) != 2 || order[0] != "evicting" || order[1] != "evict" {
		t.Errorf("callback order = %v, want [evicting evict]", order)
	}

	order = nil
	c.Flush(nil)
	if len(order) != 1 || order[0] != "evicting" {
		t.Errorf("Flush callbacks = %v, want [evicting]", order)
	}
}

func TestShardedCache_Flush(t *testing.T) {
	c := NewSharded[uint64, int](8, Uint64Hasher, nil)
	for i := range uint64(20) {
		c.Set(i, int(i))
	}
	seen := 0
	c.Flush(func(uint64, int) { seen++ })
	if seen != 20 {
		t.Errorf("Flush visited %d entries, want 20", seen)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Flush = %d, want 0", c.Len())
	}
}

// =============================================================================
// Stats
// =============================================================================

func TestShardedCache_HitRate(t *testing.T) {
	c := NewSharded[uint64, int](4, Uint64Hasher, nil)
	if c.Stats().HitRate() != 0 {
		t.Error("HitRate before lookups should be 0")
	}
	c.Set(1, 1)
	c.Get(1)
	c.Get(2)
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Hits/Misses = %d/%d, want 1/1", s.Hits, s.Misses)
	}
	if s.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", s.HitRate())
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestShardedCache_Concurrent(t *testing.T) {
	var mu sync.Mutex
	evicted := 0
	c := NewSharded[uint64, int](16, Uint64Hasher, func(uint64, int) {
		mu.Lock()
		evicted++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := range uint64(500) {
				c.Set(base*1000+i, int(i))
				c.Get(base*1000 + i/2)
			}
		}(uint64(g))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if c.Len()+evicted != 8*500 {
		t.Errorf("Len()+evicted = %d, want %d", c.Len()+evicted, 8*500)
	}
	if c.Len() > 16*ShardCount {
		t.Errorf("Len() = %d exceeds bound %d", c.Len(), 16*ShardCount)
	}
}
