package access

import (
	"fmt"

	"github.com/gogpu/tiled/internal/tiles"
)

// Accessor is the surface shared by every cursor type.
type Accessor interface {
	X() int
	Y() int
	PixelSize() int
	RawData() []byte
	RawDataConst() []byte
	OldRawData() []byte
	NConseqPixels() int
	Close()
}

var (
	_ Accessor = (*RandomAccessor)(nil)
	_ Accessor = (*HLineIterator)(nil)
	_ Accessor = (*VLineIterator)(nil)
	_ Accessor = (*RectIterator)(nil)
)

// RandomAccessor reads and writes pixels at arbitrary positions.
type RandomAccessor struct {
	cursor
}

// NewRandomAccessor returns an accessor positioned at (0, 0).
func NewRandomAccessor(s *tiles.Store, writable bool) *RandomAccessor {
	a := &RandomAccessor{cursor: newCursor(s, writable)}
	a.moveTo(0, 0)
	return a
}

// MoveTo moves the cursor to (x, y).
func (a *RandomAccessor) MoveTo(x, y int) { a.moveTo(x, y) }

// NumContiguousColumns returns how many pixels starting at column x share
// a tile column.
func (a *RandomAccessor) NumContiguousColumns(x int) int {
	return a.cache.store.NumContiguousColumns(x)
}

// NumContiguousRows returns how many pixels starting at row y share a
// tile row.
func (a *RandomAccessor) NumContiguousRows(y int) int {
	return a.cache.store.NumContiguousRows(y)
}

// RowStride returns the byte distance between vertically adjacent pixels.
func (a *RandomAccessor) RowStride() int { return a.cache.store.RowStride() }

// NConseqPixels is not supported by random accessors and panics.
func (a *RandomAccessor) NConseqPixels() int {
	panic("access: NConseqPixels is not supported by RandomAccessor")
}

// HLineIterator walks pixels left to right along one row at a time.
type HLineIterator struct {
	cursor
	left, right int
}

// NewHLineIterator returns an iterator over the w pixels starting at (x, y).
func NewHLineIterator(s *tiles.Store, x, y, w int, writable bool) *HLineIterator {
	if w <= 0 {
		panic(fmt.Sprintf("access: horizontal line of width %d", w))
	}
	it := &HLineIterator{cursor: newCursor(s, writable), left: x, right: x + w}
	it.moveTo(x, y)
	return it
}

// NextPixel advances one pixel and reports whether the cursor is still on
// the line.
func (it *HLineIterator) NextPixel() bool {
	if it.x+1 >= it.right {
		it.x = it.right
		return false
	}
	if it.x+1 >= it.cur.rect.Max.X {
		it.moveTo(it.x+1, it.y)
	} else {
		it.x++
		it.off += it.pixelSize
	}
	return true
}

// NextPixels advances n pixels and reports whether the cursor is still on
// the line.
func (it *HLineIterator) NextPixels(n int) bool {
	if it.x+n >= it.right {
		it.x = it.right
		return false
	}
	it.moveTo(it.x+n, it.y)
	return true
}

// NextRow moves the cursor to the start of the line one row down.
func (it *HLineIterator) NextRow() { it.moveTo(it.left, it.y+1) }

// NConseqPixels returns how many pixels from the cursor on are stored
// consecutively in the current tile.
func (it *HLineIterator) NConseqPixels() int {
	return min(it.right-it.x, it.cur.rect.Max.X-it.x)
}

// VLineIterator walks pixels top to bottom along one column at a time.
type VLineIterator struct {
	cursor
	top, bottom int
}

// NewVLineIterator returns an iterator over the h pixels starting at (x, y).
func NewVLineIterator(s *tiles.Store, x, y, h int, writable bool) *VLineIterator {
	if h <= 0 {
		panic(fmt.Sprintf("access: vertical line of height %d", h))
	}
	it := &VLineIterator{cursor: newCursor(s, writable), top: y, bottom: y + h}
	it.moveTo(x, y)
	return it
}

// NextPixel advances one pixel down and reports whether the cursor is
// still on the line.
func (it *VLineIterator) NextPixel() bool {
	if it.y+1 >= it.bottom {
		it.y = it.bottom
		return false
	}
	if it.y+1 >= it.cur.rect.Max.Y {
		it.moveTo(it.x, it.y+1)
	} else {
		it.y++
		it.off += tiles.TileWidth * it.pixelSize
	}
	return true
}

// NextPixels advances n pixels down and reports whether the cursor is
// still on the line.
func (it *VLineIterator) NextPixels(n int) bool {
	if it.y+n >= it.bottom {
		it.y = it.bottom
		return false
	}
	it.moveTo(it.x, it.y+n)
	return true
}

// NextColumn moves the cursor to the top of the line one column right.
func (it *VLineIterator) NextColumn() { it.moveTo(it.x+1, it.top) }

// NConseqPixels returns how many pixels from the cursor on lie in the
// current tile. They are RowStride bytes apart.
func (it *VLineIterator) NConseqPixels() int {
	return min(it.bottom-it.y, it.cur.rect.Max.Y-it.y)
}

// RowStride returns the byte distance between vertically adjacent pixels.
func (it *VLineIterator) RowStride() int { return it.cache.store.RowStride() }
