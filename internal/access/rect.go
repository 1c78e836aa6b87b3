package access

import (
	"image"

	"github.com/gogpu/tiled/internal/tiles"
)

// RectIterator walks every pixel of a rectangle row by row.
//
//	it := access.NewRectIterator(s, r, false)
//	defer it.Close()
//	for !it.IsDone() {
//		n := it.NConseqPixels()
//		process(it.RawDataConst()[:n*it.PixelSize()])
//		it.NextPixels(n)
//	}
type RectIterator struct {
	line *HLineIterator
	rect image.Rectangle
	done bool
}

// NewRectIterator returns an iterator over r. An empty r yields an
// iterator that is already done.
func NewRectIterator(s *tiles.Store, r image.Rectangle, writable bool) *RectIterator {
	it := &RectIterator{rect: r, done: r.Empty()}
	if !it.done {
		it.line = NewHLineIterator(s, r.Min.X, r.Min.Y, r.Dx(), writable)
	}
	return it
}

// IsDone reports whether every pixel has been visited.
func (it *RectIterator) IsDone() bool { return it.done }

// NextPixel advances one pixel, wrapping to the next row, and reports
// whether a pixel remains.
func (it *RectIterator) NextPixel() bool {
	if it.done {
		return false
	}
	if it.line.NextPixel() {
		return true
	}
	return it.nextRow()
}

// NextPixels advances n pixels within the current row, wrapping to the
// start of the next row when the row is exhausted, and reports whether a
// pixel remains.
func (it *RectIterator) NextPixels(n int) bool {
	if it.done {
		return false
	}
	if it.line.NextPixels(n) {
		return true
	}
	return it.nextRow()
}

func (it *RectIterator) nextRow() bool {
	if it.line.Y()+1 >= it.rect.Max.Y {
		it.done = true
		return false
	}
	it.line.NextRow()
	return true
}

// X returns the column of the current pixel.
func (it *RectIterator) X() int { return it.line.X() }

// Y returns the row of the current pixel.
func (it *RectIterator) Y() int { return it.line.Y() }

// PixelSize returns the number of bytes per pixel.
func (it *RectIterator) PixelSize() int { return it.line.PixelSize() }

// RawData returns the current pixel for writing; see HLineIterator.
func (it *RectIterator) RawData() []byte { return it.line.RawData() }

// RawDataConst returns the current pixel for reading.
func (it *RectIterator) RawDataConst() []byte { return it.line.RawDataConst() }

// OldRawData returns the pre-transaction bytes of the current pixel.
func (it *RectIterator) OldRawData() []byte { return it.line.OldRawData() }

// NConseqPixels returns how many pixels of the current row are stored
// consecutively from the cursor on.
func (it *RectIterator) NConseqPixels() int {
	if it.done {
		return 0
	}
	return it.line.NConseqPixels()
}

// Close releases every cached tile.
func (it *RectIterator) Close() {
	if it.line != nil {
		it.line.Close()
	}
}
