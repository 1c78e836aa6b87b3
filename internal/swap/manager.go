package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/tiled/cache"
	"github.com/gogpu/tiled/internal/tiles"
)

// Manager implements tiles.Swapper. Swapped tiles are compressed into a
// bounded memory tier; blobs evicted from it are written to the backend.
type Manager struct {
	codec   *Codec
	backend BlobStore
	metrics *Metrics
	mem     *cache.ShardedCache[uint64, []byte]

	mu sync.Mutex
	// stranded holds blobs whose backend write failed, so they are never lost.
	stranded map[uint64][]byte
	// inflight holds blobs evicted from the memory tier until their backend
	// write finished.
	inflight map[uint64]*pendingPut
	// taken holds handles swapped back in from memory; their Forget has no
	// backend copy to delete.
	taken map[uint64]struct{}
}

// pendingPut is a blob on its way to the backend.
type pendingPut struct {
	blob []byte
	// dropped is set when the blob was swapped in or forgotten while the
	// write ran; the written copy is then deleted again.
	dropped bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	codec       *Codec
	metrics     *Metrics
	memPerShard int
}

// WithCodec selects the codec used for swapped tiles.
func WithCodec(c *Codec) ManagerOption {
	return func(o *managerOptions) { o.codec = c }
}

// WithMetrics records swap traffic in m.
func WithMetrics(m *Metrics) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// WithMemoryTier bounds the compressed memory tier to perShard blobs in
// each of the cache's shards. Zero disables the tier.
func WithMemoryTier(perShard int) ManagerOption {
	return func(o *managerOptions) { o.memPerShard = perShard }
}

// NewManager creates a manager writing through to backend.
func NewManager(backend BlobStore, opts ...ManagerOption) *Manager {
	o := managerOptions{memPerShard: cache.DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		o.codec = NewCodec(nil)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	m := &Manager{
		codec:    o.codec,
		backend:  backend,
		metrics:  o.metrics,
		stranded: make(map[uint64][]byte),
		inflight: make(map[uint64]*pendingPut),
		taken:    make(map[uint64]struct{}),
	}
	if o.memPerShard > 0 {
		m.mem = cache.NewSharded[uint64, []byte](o.memPerShard, cache.Uint64Hasher, m.writeBack)
		m.mem.OnEvicting(m.startWriteBack)
	}
	return m
}

var _ tiles.Swapper = (*Manager)(nil)

// SwapOut encodes buf and keeps it in the memory tier, or in the backend
// when the tier is disabled.
func (m *Manager) SwapOut(handle uint64, buf []byte, pixelSize int) error {
	blob := m.codec.Encode(nil, tiles.Key{}, buf, pixelSize)
	m.metrics.TilesOut.Inc()
	m.metrics.CompressedBytes.Add(float64(len(blob)))
	if m.mem != nil {
		m.mem.Set(handle, blob)
		m.metrics.MemoryTier.Set(float64(m.mem.Len()))
		return nil
	}
	if err := m.backend.Put(context.Background(), handle, blob); err != nil {
		m.metrics.BackendErrors.WithLabelValues("put").Inc()
		return err
	}
	return nil
}

// startWriteBack registers a blob leaving the memory tier. It runs under
// the cache's shard lock, so a lookup never misses a blob in transit.
func (m *Manager) startWriteBack(handle uint64, blob []byte) {
	m.mu.Lock()
	m.inflight[handle] = &pendingPut{blob: blob}
	m.mu.Unlock()
}

// writeBack moves a blob evicted from the memory tier to the backend.
func (m *Manager) writeBack(handle uint64, blob []byte) {
	m.mu.Lock()
	p, ok := m.inflight[handle]
	if !ok {
		p = &pendingPut{blob: blob}
		m.inflight[handle] = p
	}
	if p.dropped {
		delete(m.inflight, handle)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	err := m.backend.Put(context.Background(), handle, blob)

	m.mu.Lock()
	delete(m.inflight, handle)
	dropped := p.dropped
	if err != nil && !dropped {
		m.stranded[handle] = blob
	}
	m.mu.Unlock()

	switch {
	case err != nil && !dropped:
		m.metrics.BackendErrors.WithLabelValues("put").Inc()
		slogger().Warn("swap: backend write failed, keeping blob in memory", "handle", handle, "err", err)
	case err == nil && dropped:
		m.deleteFromBackend(handle)
	}
}

// SwapIn decodes the blob for handle into buf.
func (m *Manager) SwapIn(handle uint64, buf []byte) error {
	blob, tier, err := m.lookup(handle)
	if err != nil {
		return err
	}
	rec, err := DecodeTile(blob)
	if err != nil {
		return err
	}
	if rec.BytesUsed() != len(buf) {
		return fmt.Errorf("%w: swapped tile is %d bytes, want %d", ErrFormat, rec.BytesUsed(), len(buf))
	}
	copy(buf, rec.Pixels)
	m.metrics.TilesIn.WithLabelValues(tier).Inc()
	return nil
}

func (m *Manager) lookup(handle uint64) ([]byte, string, error) {
	if m.mem != nil {
		if blob, ok := m.mem.Take(handle); ok {
			m.metrics.MemoryTier.Set(float64(m.mem.Len()))
			m.mu.Lock()
			m.taken[handle] = struct{}{}
			m.mu.Unlock()
			return blob, "memory", nil
		}
	}
	m.mu.Lock()
	if blob, ok := m.stranded[handle]; ok {
		delete(m.stranded, handle)
		m.taken[handle] = struct{}{}
		m.mu.Unlock()
		return blob, "memory", nil
	}
	if p, ok := m.inflight[handle]; ok {
		p.dropped = true
		m.taken[handle] = struct{}{}
		m.mu.Unlock()
		return p.blob, "memory", nil
	}
	m.mu.Unlock()

	blob, err := m.backend.Get(context.Background(), handle)
	if err != nil {
		m.metrics.BackendErrors.WithLabelValues("get").Inc()
		return nil, "", err
	}
	return blob, "backend", nil
}

// Forget drops every copy of handle. Only blobs that reached the backend
// cost a backend delete.
func (m *Manager) Forget(handle uint64) {
	if m.mem != nil && m.mem.Delete(handle) {
		m.metrics.MemoryTier.Set(float64(m.mem.Len()))
		return
	}
	m.mu.Lock()
	if _, ok := m.taken[handle]; ok {
		delete(m.taken, handle)
		m.mu.Unlock()
		return
	}
	if _, ok := m.stranded[handle]; ok {
		delete(m.stranded, handle)
		m.mu.Unlock()
		return
	}
	if p, ok := m.inflight[handle]; ok {
		p.dropped = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.deleteFromBackend(handle)
}

func (m *Manager) deleteFromBackend(handle uint64) {
	err := m.backend.Delete(context.Background(), handle)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.metrics.BackendErrors.WithLabelValues("delete").Inc()
		slogger().Warn("swap: backend delete failed", "handle", handle, "err", err)
	}
}

// MemoryStats returns the memory tier counters.
func (m *Manager) MemoryStats() cache.Stats {
	if m.mem == nil {
		return cache.Stats{}
	}
	return m.mem.Stats()
}

// Close writes the memory tier to the backend and closes it.
func (m *Manager) Close() error {
	if m.mem != nil {
		m.mem.Flush(m.writeBack)
	}
	return m.backend.Close()
}
