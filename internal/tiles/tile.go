package tiles

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

// Tile dimensions in pixels.
const (
	TileWidth  = 64
	TileHeight = 64
	TilePixels = TileWidth * TileHeight
)

// Key addresses a tile by column and row. Keys may be negative.
type Key struct {
	Col, Row int
}

// KeyAt returns the key of the tile containing pixel (x, y).
func KeyAt(x, y int) Key {
	return Key{Col: floorDiv(x, TileWidth), Row: floorDiv(y, TileHeight)}
}

// Rect returns the pixel area covered by the tile.
func (k Key) Rect() image.Rectangle {
	x, y := k.Col*TileWidth, k.Row*TileHeight
	return image.Rect(x, y, x+TileWidth, y+TileHeight)
}

// Pack folds the key into one word, used as a hash key by the swap layer.
func (k Key) Pack() uint64 {
	return uint64(uint32(int32(k.Col)))<<32 | uint64(uint32(int32(k.Row))) //nolint:gosec // tile indices fit in 32 bits
}

// UnpackKey reverses Pack.
func UnpackKey(u uint64) Key {
	return Key{Col: int(int32(uint32(u >> 32))), Row: int(int32(uint32(u)))} //nolint:gosec // round trip of Pack
}

func (k Key) String() string { return fmt.Sprintf("(%d,%d)", k.Col, k.Row) }

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

// PixelOffset returns the byte offset of pixel (x, y) inside its tile.
func PixelOffset(x, y, pixelSize int) int {
	return (floorMod(y, TileHeight)*TileWidth + floorMod(x, TileWidth)) * pixelSize
}

// ForEachKey calls fn for every tile key intersecting r, row by row.
func ForEachKey(r image.Rectangle, fn func(Key)) {
	if r.Empty() {
		return
	}
	c0, c1 := floorDiv(r.Min.X, TileWidth), floorDiv(r.Max.X-1, TileWidth)
	r0, r1 := floorDiv(r.Min.Y, TileHeight), floorDiv(r.Max.Y-1, TileHeight)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			fn(Key{col, row})
		}
	}
}

// AlignRect grows r to whole tiles.
func AlignRect(r image.Rectangle) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	lo := KeyAt(r.Min.X, r.Min.Y).Rect().Min
	hi := KeyAt(r.Max.X-1, r.Max.Y-1).Rect().Max
	return image.Rectangle{Min: lo, Max: hi}
}

var (
	useClock   atomic.Int64
	swapHandle atomic.Uint64
)

// Data is a reference-counted tile pixel buffer.
//
// A buffer with more than one reference is immutable: writers go through
// Tile.LockForWrite, which clones shared buffers first. A buffer whose only
// reference is held by its store slot may be pushed out to a Swapper and is
// transparently restored by Bytes.
type Data struct {
	refs      atomic.Int32
	lastUse   atomic.Int64
	pixelSize int
	pool      *DataPool

	mu      sync.Mutex
	buf     []byte
	swapper Swapper
	handle  uint64
}

func newData(buf []byte, pixelSize int, pool *DataPool) *Data {
	d := &Data{buf: buf, pixelSize: pixelSize, pool: pool}
	d.refs.Store(1)
	d.lastUse.Store(useClock.Add(1))
	return d
}

// NewFilledData allocates a buffer with every pixel set to pixel.
func NewFilledData(pixel []byte, pool *DataPool) *Data {
	if pool == nil {
		pool = defaultPool
	}
	buf := pool.Get(len(pixel))
	fillPixels(buf, pixel)
	return newData(buf, len(pixel), pool)
}

// NewDataFrom wraps a copy of buf, which must hold exactly one tile.
func NewDataFrom(buf []byte, pixelSize int, pool *DataPool) *Data {
	if len(buf) != TilePixels*pixelSize {
		panic(fmt.Sprintf("tiles: buffer of %d bytes is not a %d-byte tile", len(buf), TilePixels*pixelSize))
	}
	if pool == nil {
		pool = defaultPool
	}
	b := pool.Get(pixelSize)
	copy(b, buf)
	return newData(b, pixelSize, pool)
}

// Acquire adds a reference and returns d.
func (d *Data) Acquire() *Data {
	d.refs.Add(1)
	return d
}

// Release drops a reference. The last release returns the buffer to its
// pool or tells the swapper the swapped copy is no longer needed.
func (d *Data) Release() {
	n := d.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("tiles: tile data released more times than acquired")
	}
	d.mu.Lock()
	buf, sw, h := d.buf, d.swapper, d.handle
	d.buf, d.swapper = nil, nil
	d.mu.Unlock()
	if buf != nil {
		d.pool.Put(buf)
	} else if sw != nil {
		sw.Forget(h)
	}
}

// RefCount returns the number of live references.
func (d *Data) RefCount() int { return int(d.refs.Load()) }

// PixelSize returns the bytes per pixel of the buffer.
func (d *Data) PixelSize() int { return d.pixelSize }

// Bytes returns the pixel buffer, restoring it from swap when needed.
// Losing swapped tile data is fatal.
func (d *Data) Bytes() []byte {
	d.lastUse.Store(useClock.Add(1))
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil && d.swapper != nil {
		buf := d.pool.Get(d.pixelSize)
		if err := d.swapper.SwapIn(d.handle, buf); err != nil {
			panic(fmt.Sprintf("tiles: swapped tile data lost: %v", err))
		}
		d.swapper.Forget(d.handle)
		d.buf, d.swapper = buf, nil
	}
	return d.buf
}

// Swapped reports whether the buffer currently lives in a Swapper.
func (d *Data) Swapped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf == nil && d.swapper != nil
}

// Clone returns an unshared copy of d with one reference.
func (d *Data) Clone() *Data {
	src := d.Bytes()
	buf := d.pool.Get(d.pixelSize)
	copy(buf, src)
	return newData(buf, d.pixelSize, d.pool)
}

func (d *Data) swapOut(s Swapper) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil {
		return nil
	}
	h := swapHandle.Add(1)
	if err := s.SwapOut(h, d.buf, d.pixelSize); err != nil {
		return err
	}
	d.pool.Put(d.buf)
	d.buf, d.swapper, d.handle = nil, s, h
	return nil
}

func fillPixels(buf, pixel []byte) {
	if len(pixel) == 0 {
		return
	}
	n := copy(buf, pixel)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

// Tile is a store slot: a tile position plus the lock guarding which Data
// buffer it points at.
//
// A rollback or removal detaches a Tile from its store; a detached tile
// has no data, and Snapshot and LockForWrite return nil for it.
type Tile struct {
	key  Key
	mu   sync.RWMutex
	data *Data
}

func newTile(k Key, d *Data) *Tile {
	return &Tile{key: k, data: d}
}

// Key returns the tile position.
func (t *Tile) Key() Key { return t.key }

// Rect returns the pixel area covered by the tile.
func (t *Tile) Rect() image.Rectangle { return t.key.Rect() }

// Snapshot returns a new reference to the tile's current data.
// The caller must Release it.
func (t *Tile) Snapshot() *Data {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return nil
	}
	return t.data.Acquire()
}

// LockForWrite takes the tile's write lock and returns an unshared buffer,
// cloning the current one if anybody else references it. The returned
// Data is owned by the tile; call Unlock when done writing.
func (t *Tile) LockForWrite() *Data {
	t.mu.Lock()
	if t.data == nil {
		t.mu.Unlock()
		return nil
	}
	if t.data.RefCount() > 1 {
		c := t.data.Clone()
		t.data.Release()
		t.data = c
	}
	return t.data
}

// Unlock releases the lock taken by LockForWrite.
func (t *Tile) Unlock() { t.mu.Unlock() }

// RefCount returns the reference count of the tile's current data.
func (t *Tile) RefCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return 0
	}
	return t.data.RefCount()
}

// setData replaces the tile's buffer with a new reference to d.
// It reports false if the tile was detached meanwhile.
func (t *Tile) setData(d *Data) bool {
	t.mu.Lock()
	old := t.data
	if old == nil {
		t.mu.Unlock()
		return false
	}
	t.data = d.Acquire()
	t.mu.Unlock()
	old.Release()
	return true
}

// detach waits for any writer and takes the tile's data reference.
func (t *Tile) detach() *Data {
	t.mu.Lock()
	d := t.data
	t.data = nil
	t.mu.Unlock()
	return d
}
