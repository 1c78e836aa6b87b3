package parallel

import (
	"image"
	"math/bits"
	"sync/atomic"

	"github.com/gogpu/tiled/internal/tiles"
)

// DirtyRegion records which tiles of an image changed since the last
// TakeDirty, using one bit per tile.
//
// The grid covers the image bounds starting at tile (0,0). All methods are
// safe for concurrent use without external synchronization.
type DirtyRegion struct {
	// Bit index = row*cols + col.
	words []atomic.Uint64

	cols int
	rows int
}

// NewDirtyRegion creates a tracker for an image of the given pixel size.
// All tiles start clean. Returns nil if the size is not positive.
func NewDirtyRegion(width, height int) *DirtyRegion {
	if width <= 0 || height <= 0 {
		return nil
	}
	cols := (width + tiles.TileWidth - 1) / tiles.TileWidth
	rows := (height + tiles.TileHeight - 1) / tiles.TileHeight
	return &DirtyRegion{
		words: make([]atomic.Uint64, (cols*rows+63)/64),
		cols:  cols,
		rows:  rows,
	}
}

// Mark marks one tile dirty. Keys outside the grid are ignored.
func (d *DirtyRegion) Mark(k tiles.Key) {
	if k.Col < 0 || k.Col >= d.cols || k.Row < 0 || k.Row >= d.rows {
		return
	}
	idx := k.Row*d.cols + k.Col
	d.words[idx/64].Or(1 << (idx & 63))
}

// MarkRect marks every tile intersecting the pixel rect r.
func (d *DirtyRegion) MarkRect(r image.Rectangle) {
	r = r.Intersect(image.Rect(0, 0, d.cols*tiles.TileWidth, d.rows*tiles.TileHeight))
	if r.Empty() {
		return
	}
	lo := tiles.KeyAt(r.Min.X, r.Min.Y)
	hi := tiles.KeyAt(r.Max.X-1, r.Max.Y-1)
	for row := lo.Row; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			d.Mark(tiles.Key{Col: col, Row: row})
		}
	}
}

// Count returns the number of marked tiles.
func (d *DirtyRegion) Count() int {
	n := 0
	for i := range d.words {
		n += bits.OnesCount64(d.words[i].Load())
	}
	return n
}

// TakeDirty atomically clears the region and returns the keys that were
// marked, in row-major order.
func (d *DirtyRegion) TakeDirty() []tiles.Key {
	var out []tiles.Key
	for wi := range d.words {
		d.appendKeys(&out, wi, d.words[wi].Swap(0))
	}
	return out
}

func (d *DirtyRegion) appendKeys(out *[]tiles.Key, wi int, word uint64) {
	for word != 0 {
		bit := bits.TrailingZeros64(word)
		idx := wi*64 + bit
		*out = append(*out, tiles.Key{Col: idx % d.cols, Row: idx / d.cols})
		word &^= 1 << bit
	}
}
