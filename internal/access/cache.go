package access

import (
	"image"

	"github.com/gogpu/tiled/internal/tiles"
)

// CacheSize is the number of tiles an accessor keeps referenced.
const CacheSize = 4

type entry struct {
	key  tiles.Key
	rect image.Rectangle

	// tile is set for writable entries, whose data is owned by the
	// locked tile rather than referenced.
	tile *tiles.Tile
	data *tiles.Data
	old  *tiles.Data

	raw    []byte
	oldRaw []byte
}

// tileCache is an MRU list of at most CacheSize entries; entries[0] is the
// most recently used one.
type tileCache struct {
	store    *tiles.Store
	writable bool
	entries  []*entry

	hits, misses int
}

func newTileCache(s *tiles.Store, writable bool) tileCache {
	return tileCache{store: s, writable: writable, entries: make([]*entry, 0, CacheSize)}
}

// fetch returns the entry for k, moving it to the front of the list.
func (c *tileCache) fetch(k tiles.Key) *entry {
	for i, e := range c.entries {
		if e.key != k {
			continue
		}
		c.hits++
		if i > 0 {
			copy(c.entries[1:i+1], c.entries[:i])
			c.entries[0] = e
		}
		return e
	}

	c.misses++
	if len(c.entries) == CacheSize {
		c.release(c.entries[CacheSize-1])
		c.entries = c.entries[:CacheSize-1]
	}
	e := c.load(k)
	c.entries = append(c.entries, nil)
	copy(c.entries[1:], c.entries)
	c.entries[0] = e
	return e
}

func (c *tileCache) load(k tiles.Key) *entry {
	e := &entry{key: k, rect: k.Rect()}
	if c.writable {
		// Locking records the tile in the open memento, so the old
		// buffer is looked up afterwards.
		e.tile, e.data = c.store.LockTile(k.Col, k.Row)
		if old, ok := c.store.OldData(k.Col, k.Row); ok {
			e.old = old
		}
	} else {
		e.data = c.store.SnapshotTile(k.Col, k.Row)
		if old, ok := c.store.OldData(k.Col, k.Row); ok {
			e.old = old
		}
	}
	e.raw = e.data.Bytes()
	e.oldRaw = e.raw
	if e.old != nil {
		e.oldRaw = e.old.Bytes()
	}
	return e
}

func (c *tileCache) release(e *entry) {
	if e.tile != nil {
		e.tile.Unlock()
	} else {
		e.data.Release()
	}
	if e.old != nil {
		e.old.Release()
	}
	e.raw, e.oldRaw = nil, nil
}

// flush releases every cached entry.
func (c *tileCache) flush() {
	for _, e := range c.entries {
		c.release(e)
	}
	c.entries = c.entries[:0]
}

// cursor is the position state shared by all accessors.
type cursor struct {
	cache     tileCache
	pixelSize int
	cur       *entry
	off       int
	x, y      int
	closed    bool
}

func newCursor(s *tiles.Store, writable bool) cursor {
	return cursor{cache: newTileCache(s, writable), pixelSize: s.PixelSize()}
}

func (c *cursor) moveTo(x, y int) {
	if c.closed {
		panic("access: use of a closed accessor")
	}
	c.x, c.y = x, y
	if c.cur == nil || !image.Pt(x, y).In(c.cur.rect) {
		c.cur = c.cache.fetch(tiles.KeyAt(x, y))
	}
	c.off = tiles.PixelOffset(x, y, c.pixelSize)
}

// X returns the column of the current pixel.
func (c *cursor) X() int { return c.x }

// Y returns the row of the current pixel.
func (c *cursor) Y() int { return c.y }

// PixelSize returns the number of bytes per pixel.
func (c *cursor) PixelSize() int { return c.pixelSize }

// RawData returns the current tile buffer starting at the current pixel,
// for writing. It panics on a read-only accessor.
func (c *cursor) RawData() []byte {
	if !c.cache.writable {
		panic("access: write through a read-only accessor")
	}
	return c.cur.raw[c.off:]
}

// RawDataConst returns the current tile buffer starting at the current
// pixel. The bytes must not be modified.
func (c *cursor) RawDataConst() []byte { return c.cur.raw[c.off:] }

// OldRawData returns the buffer the current tile held when the store's
// open transaction began, starting at the current pixel. Without an open
// transaction it is the current buffer.
func (c *cursor) OldRawData() []byte { return c.cur.oldRaw[c.off:] }

// Close releases every cached tile. The accessor cannot be used afterwards.
func (c *cursor) Close() {
	if c.closed {
		return
	}
	c.cache.flush()
	c.cur = nil
	c.closed = true
}
