package tiles

import (
	"bytes"
	"fmt"
	"image"
	"slices"
	"sync"
)

// Store is a sparse grid of tiles sharing one pixel size and default pixel.
//
// Pixels outside any allocated tile read as the default pixel. Tiles are
// created by the first write to their area; reads never allocate.
//
// Thread safety: all methods are safe for concurrent use. A goroutine that
// holds a tile write lock (through an accessor) must not read the same tile
// through another path until it releases the lock.
type Store struct {
	mu           sync.RWMutex
	pixelSize    int
	defaultPixel []byte
	defaultData  *Data
	tiles        map[Key]*Tile
	extent       extentManager
	history      history

	pool     *DataPool
	swapper  Swapper
	readOnly bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDataPool makes the store allocate tile buffers from p.
func WithDataPool(p *DataPool) StoreOption {
	return func(s *Store) {
		if p != nil {
			s.pool = p
		}
	}
}

// WithSwapper enables SwapOut to push cold tiles to sw.
func WithSwapper(sw Swapper) StoreOption {
	return func(s *Store) { s.swapper = sw }
}

// ReadOnly makes every write-mode tile request panic.
func ReadOnly() StoreOption {
	return func(s *Store) { s.readOnly = true }
}

// NewStore creates an empty store. len(defaultPixel) is the pixel size.
func NewStore(defaultPixel []byte, opts ...StoreOption) *Store {
	if len(defaultPixel) == 0 {
		panic("tiles: default pixel must not be empty")
	}
	s := &Store{
		pixelSize: len(defaultPixel),
		tiles:     make(map[Key]*Tile),
		extent:    newExtentManager(),
		pool:      defaultPool,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setDefaultLocked(defaultPixel)
	return s
}

// PixelSize returns the number of bytes per pixel.
func (s *Store) PixelSize() int { return s.pixelSize }

// Pool returns the buffer pool used by the store.
func (s *Store) Pool() *DataPool { return s.pool }

// DefaultPixel returns a copy of the default pixel.
func (s *Store) DefaultPixel() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.defaultPixel)
}

// DefaultData returns a reference to the shared default tile buffer.
// The caller must Release it.
func (s *Store) DefaultData() *Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultData.Acquire()
}

// SetDefaultPixel changes the value of unallocated pixels. The change is
// recorded in the open transaction.
func (s *Store) SetDefaultPixel(pixel []byte) {
	s.checkPixel(pixel)
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.history.current; m != nil && m.oldDefault == nil {
		m.oldDefault = s.defaultPixel
	}
	s.setDefaultLocked(pixel)
}

func (s *Store) setDefaultLocked(pixel []byte) {
	s.defaultPixel = bytes.Clone(pixel)
	if s.defaultData != nil {
		s.defaultData.Release()
	}
	s.defaultData = NewFilledData(s.defaultPixel, s.pool)
}

func (s *Store) checkPixel(pixel []byte) {
	if len(pixel) != s.pixelSize {
		panic(fmt.Sprintf("tiles: pixel has %d bytes, store uses %d", len(pixel), s.pixelSize))
	}
}

// Tile returns the tile at (col, row).
//
// In read mode a missing tile is returned as a detached tile sharing the
// default buffer; the store is not modified. In write mode a missing tile
// is created from the default buffer, and the first write access inside a
// transaction records the tile's previous buffer in the open memento.
// Write mode on a read-only store panics.
func (s *Store) Tile(col, row int, writable bool) *Tile {
	k := Key{col, row}
	if !writable {
		s.mu.RLock()
		t := s.tiles[k]
		var def *Data
		if t == nil {
			def = s.defaultData.Acquire()
		}
		s.mu.RUnlock()
		if t == nil {
			return newTile(k, def)
		}
		return t
	}
	if s.readOnly {
		panic("tiles: write access to a read-only store")
	}

	s.mu.Lock()
	t, ok := s.tiles[k]
	if !ok {
		t = newTile(k, s.defaultData.Acquire())
		s.tiles[k] = t
		s.extent.add(k)
		if m := s.history.current; m != nil && !m.recorded(k) {
			m.add(k, nil)
		}
		s.mu.Unlock()
		return t
	}
	m := s.history.current
	needRecord := m != nil && !m.recorded(k)
	s.mu.Unlock()

	if needRecord {
		s.recordOld(m, t)
	}
	return t
}

// recordOld stores the current buffer of t as the pre-transaction state.
// The snapshot is taken without holding Store.mu; a concurrent first
// writer to the same tile loses the race and drops its snapshot.
func (s *Store) recordOld(m *Memento, t *Tile) {
	d := t.Snapshot()
	if d == nil {
		return
	}
	s.mu.Lock()
	if s.history.current == m && !m.recorded(t.key) {
		m.add(t.key, d)
		d = nil
	}
	s.mu.Unlock()
	if d != nil {
		d.Release()
	}
}

// LockTile returns the tile at (col, row) locked for writing together with
// its unshared buffer. Call Unlock on the tile when done.
func (s *Store) LockTile(col, row int) (*Tile, *Data) {
	for {
		t := s.Tile(col, row, true)
		if d := t.LockForWrite(); d != nil {
			return t, d
		}
	}
}

// SnapshotTile returns a reference to the current buffer of (col, row),
// the shared default buffer if the tile does not exist.
func (s *Store) SnapshotTile(col, row int) *Data {
	k := Key{col, row}
	for {
		s.mu.RLock()
		t := s.tiles[k]
		if t == nil {
			d := s.defaultData.Acquire()
			s.mu.RUnlock()
			return d
		}
		s.mu.RUnlock()
		if d := t.Snapshot(); d != nil {
			return d
		}
	}
}

// HasTile reports whether (col, row) is allocated.
func (s *Store) HasTile(col, row int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[Key{col, row}]
	return ok
}

// OldData returns the buffer that (col, row) held when the open
// transaction began, and true, if the tile was written in that
// transaction. Otherwise it returns nil and false: the tile is unchanged
// and its current data is also its old data.
func (s *Store) OldData(col, row int) (*Data, bool) {
	k := Key{col, row}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.history.current
	if m == nil {
		return nil, false
	}
	d, ok := m.records[k]
	if !ok || d == reserved {
		return nil, false
	}
	if d == nil {
		if m.oldDefault != nil {
			return NewFilledData(m.oldDefault, s.pool), true
		}
		return s.defaultData.Acquire(), true
	}
	return d.Acquire(), true
}

// OldTileData returns the pre-transaction buffer of (col, row), or its
// current buffer when no transaction recorded it. The caller must Release it.
func (s *Store) OldTileData(col, row int) *Data {
	if d, ok := s.OldData(col, row); ok {
		return d
	}
	return s.SnapshotTile(col, row)
}

// Extent returns the union of all allocated tile areas. It is empty when
// the store has no tiles.
func (s *Store) Extent() image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extent.rect()
}

// Region returns the area of every allocated tile, sorted by row then column.
func (s *Store) Region() []image.Rectangle {
	keys := s.keys()
	out := make([]image.Rectangle, len(keys))
	for i, k := range keys {
		out[i] = k.Rect()
	}
	return out
}

// NumTiles returns the number of allocated tiles.
func (s *Store) NumTiles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

func (s *Store) keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.tiles))
	for k := range s.tiles {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	slices.SortFunc(keys, func(a, b Key) int {
		if a.Row != b.Row {
			return a.Row - b.Row
		}
		return a.Col - b.Col
	})
	return keys
}

// ForEachTile calls fn with a snapshot of every allocated tile, in row
// order. The snapshot is released when fn returns.
func (s *Store) ForEachTile(fn func(k Key, d *Data)) {
	for _, k := range s.keys() {
		s.mu.RLock()
		t := s.tiles[k]
		s.mu.RUnlock()
		if t == nil {
			continue
		}
		d := t.Snapshot()
		if d == nil {
			continue
		}
		fn(k, d)
		d.Release()
	}
}

// NumContiguousColumns returns how many pixels starting at x lie in the
// same tile column.
func (s *Store) NumContiguousColumns(x int) int {
	return TileWidth - floorMod(x, TileWidth)
}

// NumContiguousRows returns how many pixels starting at y lie in the same
// tile row.
func (s *Store) NumContiguousRows(y int) int {
	return TileHeight - floorMod(y, TileHeight)
}

// RowStride returns the byte distance between vertically adjacent pixels
// inside a tile.
func (s *Store) RowStride() int { return TileWidth * s.pixelSize }

// Pixel returns a copy of the pixel at (x, y).
func (s *Store) Pixel(x, y int) []byte {
	k := KeyAt(x, y)
	d := s.SnapshotTile(k.Col, k.Row)
	defer d.Release()
	off := PixelOffset(x, y, s.pixelSize)
	return bytes.Clone(d.Bytes()[off : off+s.pixelSize])
}

// SetPixel writes one pixel.
func (s *Store) SetPixel(x, y int, pixel []byte) {
	s.checkPixel(pixel)
	k := KeyAt(x, y)
	t, d := s.LockTile(k.Col, k.Row)
	off := PixelOffset(x, y, s.pixelSize)
	copy(d.Bytes()[off:], pixel)
	t.Unlock()
}

// ReadBytes copies the pixels of r into dst, row-major without padding.
func (s *Store) ReadBytes(dst []byte, r image.Rectangle) {
	s.checkBuffer(dst, r)
	stride := r.Dx() * s.pixelSize
	ForEachKey(r, func(k Key) {
		d := s.SnapshotTile(k.Col, k.Row)
		copyRect(dst, stride, r.Min, d.Bytes(), k.Rect().Intersect(r), s.pixelSize, false)
		d.Release()
	})
}

// WriteBytes copies src, laid out like ReadBytes output, into r.
func (s *Store) WriteBytes(src []byte, r image.Rectangle) {
	s.checkBuffer(src, r)
	stride := r.Dx() * s.pixelSize
	ForEachKey(r, func(k Key) {
		t, d := s.LockTile(k.Col, k.Row)
		copyRect(src, stride, r.Min, d.Bytes(), k.Rect().Intersect(r), s.pixelSize, true)
		t.Unlock()
	})
}

func (s *Store) checkBuffer(b []byte, r image.Rectangle) {
	if r.Empty() {
		return
	}
	if need := r.Dx() * r.Dy() * s.pixelSize; len(b) < need {
		panic(fmt.Sprintf("tiles: buffer of %d bytes is too small for %v (%d bytes)", len(b), r, need))
	}
}

// copyRect moves the pixels of area between a linear buffer whose first
// pixel is at origin and a tile buffer. toTile selects the direction.
func copyRect(lin []byte, stride int, origin image.Point, tile []byte, area image.Rectangle, ps int, toTile bool) {
	n := area.Dx() * ps
	for y := area.Min.Y; y < area.Max.Y; y++ {
		lo := (y-origin.Y)*stride + (area.Min.X-origin.X)*ps
		to := PixelOffset(area.Min.X, y, ps)
		if toTile {
			copy(tile[to:to+n], lin[lo:lo+n])
		} else {
			copy(lin[lo:lo+n], tile[to:to+n])
		}
	}
}

func fillArea(tile []byte, area image.Rectangle, pixel []byte) {
	ps := len(pixel)
	n := area.Dx() * ps
	for y := area.Min.Y; y < area.Max.Y; y++ {
		off := PixelOffset(area.Min.X, y, ps)
		fillPixels(tile[off:off+n], pixel)
	}
}

// ClearRect fills r with pixel. Tiles entirely inside r share one
// pre-filled buffer. Filling with the default pixel removes the tiles
// entirely inside r, recording them in the open transaction, and only
// touches the allocated tiles r partly covers.
func (s *Store) ClearRect(r image.Rectangle, pixel []byte) {
	s.checkPixel(pixel)
	if r.Empty() {
		return
	}
	isDefault := bytes.Equal(pixel, s.DefaultPixel())
	if isDefault {
		s.removeTiles(func(k Key) bool { return k.Rect().In(r) })
		if r = r.Intersect(s.Extent()); r.Empty() {
			return
		}
	}
	var filled *Data
	ForEachKey(r, func(k Key) {
		if isDefault && !s.HasTile(k.Col, k.Row) {
			return
		}
		tr := k.Rect()
		if tr.In(r) && !isDefault {
			if filled == nil {
				filled = NewFilledData(pixel, s.pool)
			}
			s.setTileData(k, filled)
			return
		}
		t, d := s.LockTile(k.Col, k.Row)
		fillArea(d.Bytes(), tr.Intersect(r), pixel)
		t.Unlock()
	})
	if filled != nil {
		filled.Release()
	}
}

// setTileData points tile k at a new reference to d.
func (s *Store) setTileData(k Key, d *Data) {
	for {
		if s.Tile(k.Col, k.Row, true).setData(d) {
			return
		}
	}
}

// AddTile installs a copy of buf as tile (col, row). It is how persisted
// tiles are loaded back.
func (s *Store) AddTile(col, row int, buf []byte) {
	d := NewDataFrom(buf, s.pixelSize, s.pool)
	s.setTileData(Key{col, row}, d)
	d.Release()
}

// Clear removes every tile. The removal is recorded in the open transaction.
func (s *Store) Clear() {
	s.removeTiles(func(Key) bool { return true })
}

// removeTiles drops every tile selected by pick. Tiles not yet recorded in
// the open transaction keep their buffer as the recorded old state.
func (s *Store) removeTiles(pick func(Key) bool) int {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	type victim struct {
		t      *Tile
		record bool
	}
	var victims []victim

	s.mu.Lock()
	m := s.history.current
	for k, t := range s.tiles {
		if !pick(k) {
			continue
		}
		rec := m != nil && !m.recorded(k)
		if rec {
			m.add(k, reserved)
		}
		victims = append(victims, victim{t, rec})
		delete(s.tiles, k)
		s.extent.remove(k)
	}
	s.mu.Unlock()

	for _, v := range victims {
		d := v.t.detach()
		if !v.record {
			if d != nil {
				d.Release()
			}
			continue
		}
		s.mu.Lock()
		m.records[v.t.key] = d
		s.mu.Unlock()
	}
	return len(victims)
}

// SetExtent crops the store to r. Tiles outside r are removed and the part
// of boundary tiles outside r is reset to the default pixel.
func (s *Store) SetExtent(r image.Rectangle) {
	s.removeTiles(func(k Key) bool { return !k.Rect().Overlaps(r) })
	def := s.DefaultPixel()
	for _, k := range s.keys() {
		tr := k.Rect()
		if tr.In(r) {
			continue
		}
		inside := tr.Intersect(r)
		t, d := s.LockTile(k.Col, k.Row)
		buf := d.Bytes()
		for _, part := range subtract(tr, inside) {
			fillArea(buf, part, def)
		}
		t.Unlock()
	}
}

// subtract returns up to four rectangles covering outer minus inner, where
// inner lies within outer.
func subtract(outer, inner image.Rectangle) []image.Rectangle {
	if inner.Empty() {
		return []image.Rectangle{outer}
	}
	parts := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y),
		image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y),
		image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y),
	}
	out := parts[:0]
	for _, p := range parts {
		if !p.Empty() {
			out = append(out, p)
		}
	}
	return out
}

// Purge removes the tiles inside r whose pixels all equal the default
// pixel. It returns the number of tiles removed.
func (s *Store) Purge(r image.Rectangle) int {
	def := s.DefaultPixel()
	defaults := make(map[Key]bool)
	for _, k := range s.keys() {
		if !k.Rect().In(r) {
			continue
		}
		d := s.SnapshotTile(k.Col, k.Row)
		if isFilledWith(d.Bytes(), def) {
			defaults[k] = true
		}
		d.Release()
	}
	if len(defaults) == 0 {
		return 0
	}
	n := s.removeTiles(func(k Key) bool { return defaults[k] })
	slogger().Debug("tiles: purged default tiles", "count", n)
	return n
}

func isFilledWith(buf, pixel []byte) bool {
	ps := len(pixel)
	for i := 0; i < len(buf); i += ps {
		if !bytes.Equal(buf[i:i+ps], pixel) {
			return false
		}
	}
	return true
}

// Clone returns a store with the same pixels sharing every tile buffer.
// Transaction history is not copied.
func (s *Store) Clone() *Store {
	c := &Store{
		pixelSize: s.pixelSize,
		tiles:     make(map[Key]*Tile),
		extent:    newExtentManager(),
		pool:      s.pool,
		swapper:   s.swapper,
	}
	c.setDefaultLocked(s.DefaultPixel())
	s.ForEachTile(func(k Key, d *Data) {
		c.tiles[k] = newTile(k, d.Acquire())
		c.extent.add(k)
	})
	return c
}

// BitBlt copies r from src, which must have the same pixel size. Tiles
// entirely inside r share src's buffers instead of copying them.
func (s *Store) BitBlt(src *Store, r image.Rectangle) {
	s.bitBlt(src, r, src.SnapshotTile)
}

// BitBltOldData is BitBlt reading src as of the start of its open
// transaction.
func (s *Store) BitBltOldData(src *Store, r image.Rectangle) {
	s.bitBlt(src, r, src.OldTileData)
}

// BitBltRough is BitBlt with r grown to whole tiles, so every touched tile
// is shared rather than copied.
func (s *Store) BitBltRough(src *Store, r image.Rectangle) {
	s.bitBlt(src, AlignRect(r), src.SnapshotTile)
}

func (s *Store) bitBlt(src *Store, r image.Rectangle, fetch func(col, row int) *Data) {
	if src.pixelSize != s.pixelSize {
		panic(fmt.Sprintf("tiles: bitBlt between pixel sizes %d and %d", src.pixelSize, s.pixelSize))
	}
	if r.Empty() {
		return
	}
	sameDefault := bytes.Equal(src.DefaultPixel(), s.DefaultPixel())
	ForEachKey(r, func(k Key) {
		tr := k.Rect()
		full := tr.In(r)
		if full && sameDefault && !src.HasTile(k.Col, k.Row) {
			if s.HasTile(k.Col, k.Row) {
				s.removeTiles(func(x Key) bool { return x == k })
			}
			return
		}
		sd := fetch(k.Col, k.Row)
		if full {
			s.setTileData(k, sd)
		} else {
			area := tr.Intersect(r)
			t, d := s.LockTile(k.Col, k.Row)
			dst, from := d.Bytes(), sd.Bytes()
			n := area.Dx() * s.pixelSize
			for y := area.Min.Y; y < area.Max.Y; y++ {
				off := PixelOffset(area.Min.X, y, s.pixelSize)
				copy(dst[off:off+n], from[off:off+n])
			}
			t.Unlock()
		}
		sd.Release()
	})
}
