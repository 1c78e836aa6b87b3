package tiled

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"golang.org/x/image/draw"

	"github.com/gogpu/tiled/internal/swap"
	"github.com/gogpu/tiled/internal/tiles"
)

// ErrPixelSize is returned for operations that need a particular pixel size.
var ErrPixelSize = errors.New("tiled: unsupported pixel size")

// Device is a sparse tiled pixel plane: a paint layer's original, a mask's
// selection or a layer projection. All methods are safe for concurrent use.
type Device struct {
	store *tiles.Store
	codec *swap.Codec

	// txMu serializes transactions opened by paint commands.
	txMu sync.Mutex
}

func newDevice(s *tiles.Store, codec *swap.Codec) *Device {
	return &Device{store: s, codec: codec}
}

// NewDevice returns a standalone device. len(defaultPixel) is the pixel size.
func NewDevice(defaultPixel []byte) *Device {
	return newDevice(tiles.NewStore(defaultPixel), swap.NewCodec(nil))
}

// PixelSize returns the number of bytes per pixel.
func (d *Device) PixelSize() int { return d.store.PixelSize() }

// DefaultPixel returns a copy of the pixel read outside any tile.
func (d *Device) DefaultPixel() []byte { return d.store.DefaultPixel() }

// SetDefaultPixel changes the default pixel. The change is recorded in the
// open transaction.
func (d *Device) SetDefaultPixel(pixel []byte) { d.store.SetDefaultPixel(pixel) }

// Fill sets every pixel of r.
func (d *Device) Fill(r image.Rectangle, pixel []byte) { d.store.ClearRect(r, pixel) }

// Clear removes every tile.
func (d *Device) Clear() { d.store.Clear() }

// Pixel returns a copy of the pixel at (x, y).
func (d *Device) Pixel(x, y int) []byte { return d.store.Pixel(x, y) }

// SetPixel writes the pixel at (x, y).
func (d *Device) SetPixel(x, y int, pixel []byte) { d.store.SetPixel(x, y, pixel) }

// ReadBytes copies r into dst, row by row without padding.
func (d *Device) ReadBytes(dst []byte, r image.Rectangle) { d.store.ReadBytes(dst, r) }

// WriteBytes copies src, laid out as ReadBytes produces it, into r.
func (d *Device) WriteBytes(src []byte, r image.Rectangle) { d.store.WriteBytes(src, r) }

// Extent returns the area covered by allocated tiles.
func (d *Device) Extent() image.Rectangle { return d.store.Extent() }

// NumTiles returns the number of allocated tiles.
func (d *Device) NumTiles() int { return d.store.NumTiles() }

// Crop removes everything outside r.
func (d *Device) Crop(r image.Rectangle) { d.store.SetExtent(r) }

// Begin opens a transaction. Every tile written until End is recorded so
// the transaction can be undone. A transaction that is still open is
// committed first.
func (d *Device) Begin() *Transaction {
	return &Transaction{store: d.store, m: d.store.Begin()}
}

// Save writes every tile to w in the tile stream format and returns the
// number of tiles written.
func (d *Device) Save(w io.Writer) (int, error) {
	return swap.WriteStore(w, d.store, d.codec)
}

// Load reads a tile stream written by Save into d, replacing the tiles it
// contains. The load is one committed transaction.
func (d *Device) Load(r io.Reader) (int, error) {
	return swap.ReadStore(r, d.store)
}

// Thumbnail scales the device's extent into a w x h image. Only 4-byte
// pixels are supported; their bytes are taken as RGBA.
func (d *Device) Thumbnail(w, h int) (*image.RGBA, error) {
	if d.store.PixelSize() != 4 {
		return nil, fmt.Errorf("%w: thumbnails need 4-byte pixels, got %d", ErrPixelSize, d.store.PixelSize())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	ext := d.store.Extent()
	if ext.Empty() || w <= 0 || h <= 0 {
		return dst, nil
	}
	src := &image.RGBA{
		Pix:    make([]byte, ext.Dx()*ext.Dy()*4),
		Stride: ext.Dx() * 4,
		Rect:   ext,
	}
	d.store.ReadBytes(src.Pix, ext)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, ext, draw.Src, nil)
	return dst, nil
}

// Transaction is an open or committed set of device changes. After End it
// is a command: Undo reverts the changes, Redo applies them again.
type Transaction struct {
	store *tiles.Store
	m     *tiles.Memento
}

// End commits the transaction.
func (t *Transaction) End() {
	if t.store.Current() == t.m {
		t.store.Commit()
	}
}

// Cancel closes an open transaction without recording it. Pixels are
// left as they are.
func (t *Transaction) Cancel() error { return t.store.Discard(t.m) }

// Rect returns the union of the tiles the transaction touched.
func (t *Transaction) Rect() image.Rectangle { return t.m.Rect() }

// Undo reverts the transaction and every later one on the same device.
// Undoing a transaction already reverted along with an earlier one does
// nothing.
func (t *Transaction) Undo(context.Context) error {
	if t.store.RolledBack(t.m) {
		return nil
	}
	return t.store.Rollback(t.m)
}

// Redo re-applies an undone transaction and every earlier undone one.
// Redoing a transaction already re-applied along with a later one does
// nothing.
func (t *Transaction) Redo(context.Context) error {
	if t.store.Committed(t.m) {
		return nil
	}
	return t.store.Rollforward(t.m)
}
