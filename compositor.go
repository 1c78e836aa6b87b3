package tiled

import (
	"bytes"
	"image"

	"github.com/gogpu/tiled/internal/access"
)

// Compositor merges layer projections. Implementations own the pixel
// format; the engine only moves bytes.
type Compositor interface {
	// Composite draws src over dst inside r.
	Composite(dst, src *Device, r image.Rectangle)

	// ApplySelection removes the parts of dst inside r that the one-byte
	// selection sel does not cover.
	ApplySelection(dst, sel *Device, r image.Rectangle)
}

// OverwriteCompositor copies every source pixel that differs from the
// source's default pixel. It never does color math.
type OverwriteCompositor struct{}

// Composite copies the non-default pixels of src into dst.
func (OverwriteCompositor) Composite(dst, src *Device, r image.Rectangle) {
	def := src.store.DefaultPixel()
	ps := src.store.PixelSize()
	in := access.NewRectIterator(src.store, r, false)
	defer in.Close()
	out := access.NewRectIterator(dst.store, r, true)
	defer out.Close()
	for !in.IsDone() {
		if px := in.RawDataConst()[:ps]; !bytes.Equal(px, def) {
			copy(out.RawData()[:ps], px)
		}
		in.NextPixel()
		out.NextPixel()
	}
}

// ApplySelection resets every pixel of dst whose selection byte is zero
// to dst's default pixel.
func (OverwriteCompositor) ApplySelection(dst, sel *Device, r image.Rectangle) {
	def := dst.store.DefaultPixel()
	ps := dst.store.PixelSize()
	in := access.NewRectIterator(sel.store, r, false)
	defer in.Close()
	out := access.NewRectIterator(dst.store, r, true)
	defer out.Close()
	for !in.IsDone() {
		if in.RawDataConst()[0] == 0 {
			copy(out.RawData()[:ps], def)
		}
		in.NextPixel()
		out.NextPixel()
	}
}

// Filter computes an adjustment layer or a filter mask. Apply writes the
// filtered pixels of src into dst inside r; it may read src up to the
// node's need margin around r.
type Filter interface {
	Apply(dst, src *Device, r image.Rectangle)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(dst, src *Device, r image.Rectangle)

// Apply calls f.
func (f FilterFunc) Apply(dst, src *Device, r image.Rectangle) { f(dst, src, r) }
