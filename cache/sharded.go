package cache

import (
	"sync"
	"sync/atomic"
)

const (
	// ShardCount is the number of independently locked shards.
	// Must be a power of 2 so shard selection is a mask.
	ShardCount = 16

	// DefaultCapacity is the per-shard entry limit used when none is given.
	DefaultCapacity = 64

	shardMask = ShardCount - 1
)

// Hasher maps a key to the hash used for shard selection.
type Hasher[K any] func(K) uint64

// Uint64Hasher spreads packed integer keys across shards.
// Tile keys pack column and row into one word, so low bits alone would
// send whole columns to the same shard; the splitmix finalizer mixes them.
func Uint64Hasher(u uint64) uint64 {
	u ^= u >> 30
	u *= 0xbf58476d1ce4e5b9
	u ^= u >> 27
	u *= 0x94d049bb133111eb
	u ^= u >> 31
	return u
}

// EvictFunc receives entries pushed out by capacity pressure.
// It is called without any shard lock held.
type EvictFunc[K comparable, V any] func(key K, value V)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Len       int
	Capacity  int // per shard
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ShardedCache is a thread-safe LRU cache split into ShardCount shards.
//
// Each shard evicts independently once it holds capacity entries, so the
// total size is bounded by capacity * ShardCount.
type ShardedCache[K comparable, V any] struct {
	shards   [ShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int
	onEvict  EvictFunc[K, V]

	// onEvicting runs under the shard lock, before the entry disappears.
	onEvicting EvictFunc[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// NewSharded creates a cache holding at most capacity entries per shard.
// If capacity <= 0, DefaultCapacity is used. onEvict may be nil.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K], onEvict EvictFunc[K, V]) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ShardedCache[K, V]{
		hasher:   hasher,
		capacity: capacity,
		onEvict:  onEvict,
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

// OnEvicting registers fn to run for every entry leaving the cache through
// capacity pressure or Flush, while the shard lock is still held. Lookups
// of the key block until fn returns, so fn must be quick and must not call
// into the cache. Set it before the cache is shared.
func (c *ShardedCache[K, V]) OnEvicting(fn EvictFunc[K, V]) {
	c.onEvicting = fn
}

func (c *ShardedCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the value for key and marks it most recently used.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(e.node)
	v := e.value
	s.mu.Unlock()
	c.hits.Add(1)
	return v, true
}

// Set stores value under key, evicting the shard's oldest entries when it
// is full. Evicted entries are passed to the eviction callback after the
// shard lock is released.
func (c *ShardedCache[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.value = value
		s.lru.MoveToFront(e.node)
		s.mu.Unlock()
		return
	}
	var out []evicted[K, V]
	for s.lru.Len() >= c.capacity {
		old, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		v := s.entries[old].value
		if c.onEvicting != nil {
			c.onEvicting(old, v)
		}
		out = append(out, evicted[K, V]{old, v})
		delete(s.entries, old)
	}
	s.entries[key] = &entry[K, V]{value: value, node: s.lru.PushFront(key)}
	s.mu.Unlock()

	if len(out) == 0 {
		return
	}
	c.evictions.Add(uint64(len(out)))
	if c.onEvict != nil {
		for _, ev := range out {
			c.onEvict(ev.key, ev.value)
		}
	}
}

// Take removes key and returns its value. The eviction callback is not
// invoked: the caller now owns the value.
func (c *ShardedCache[K, V]) Take(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.lru.Remove(e.node)
	delete(s.entries, key)
	return e.value, true
}

// Delete removes key. It reports whether the key was present.
func (c *ShardedCache[K, V]) Delete(key K) bool {
	_, ok := c.Take(key)
	return ok
}

// Flush removes every entry, passing each one to fn.
func (c *ShardedCache[K, V]) Flush(fn func(key K, value V)) {
	for _, s := range c.shards {
		s.mu.Lock()
		entries := s.entries
		if c.onEvicting != nil {
			for k, e := range entries {
				c.onEvicting(k, e.value)
			}
		}
		s.entries = make(map[K]*entry[K, V])
		s.lru.Clear()
		s.mu.Unlock()
		if fn == nil {
			continue
		}
		for k, e := range entries {
			fn(k, e.value)
		}
	}
}

// Len returns the number of entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns the current counters.
func (c *ShardedCache[K, V]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
