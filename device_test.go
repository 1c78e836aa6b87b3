package tiled

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"testing"
)

// =============================================================================
// Pixels
// =============================================================================

func TestDevicePixels(t *testing.T) {
	d := NewDevice([]byte{0, 0})
	if d.PixelSize() != 2 {
		t.Fatalf("PixelSize() = %d, want 2", d.PixelSize())
	}
	if d.NumTiles() != 0 || !d.Extent().Empty() {
		t.Fatalf("new device has %d tiles, extent %v", d.NumTiles(), d.Extent())
	}

	d.Fill(image.Rect(10, 10, 70, 20), []byte{1, 2})
	if got := d.Pixel(69, 19); !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("Pixel(69,19) = %v, want [1 2]", got)
	}
	if got := d.Pixel(70, 19); !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("Pixel(70,19) = %v, want default", got)
	}
	if d.NumTiles() != 2 {
		t.Errorf("NumTiles() = %d, want 2", d.NumTiles())
	}
	if want := image.Rect(0, 0, 128, 64); d.Extent() != want {
		t.Errorf("Extent() = %v, want %v", d.Extent(), want)
	}

	d.SetPixel(-1, -1, []byte{9, 9})
	if got := d.Pixel(-1, -1); !bytes.Equal(got, []byte{9, 9}) {
		t.Errorf("Pixel(-1,-1) = %v, want [9 9]", got)
	}

	r := image.Rect(60, 12, 66, 14)
	buf := make([]byte, r.Dx()*r.Dy()*2)
	d.ReadBytes(buf, r)
	for i := range buf {
		buf[i]++
	}
	d.WriteBytes(buf, r)
	if got := d.Pixel(65, 13); !bytes.Equal(got, []byte{2, 3}) {
		t.Errorf("Pixel(65,13) after WriteBytes = %v, want [2 3]", got)
	}

	d.Crop(image.Rect(0, 0, 64, 64))
	if d.NumTiles() != 1 {
		t.Errorf("NumTiles() after Crop = %d, want 1", d.NumTiles())
	}

	d.SetDefaultPixel([]byte{5, 5})
	if got := d.DefaultPixel(); !bytes.Equal(got, []byte{5, 5}) {
		t.Errorf("DefaultPixel() = %v, want [5 5]", got)
	}
	d.Clear()
	if d.NumTiles() != 0 || !bytes.Equal(d.Pixel(20, 20), []byte{5, 5}) {
		t.Error("Clear() should drop every tile")
	}
}

// =============================================================================
// Transactions
// =============================================================================

func TestTransactionUndoRedo(t *testing.T) {
	ctx := context.Background()
	d := NewDevice([]byte{0})

	first := d.Begin()
	d.Fill(image.Rect(0, 0, 10, 10), []byte{1})
	first.End()
	if want := image.Rect(0, 0, 64, 64); first.Rect() != want {
		t.Errorf("Rect() = %v, want %v", first.Rect(), want)
	}

	second := d.Begin()
	d.Fill(image.Rect(5, 5, 100, 10), []byte{2})
	second.End()

	tests := []struct {
		name   string
		op     func() error
		samples [3]byte // (2,2), (7,7), (80,7)
	}{
		{"undo second", func() error { return second.Undo(ctx) }, [3]byte{1, 1, 0}},
		{"redo second", func() error { return second.Redo(ctx) }, [3]byte{1, 2, 2}},
		{"undo first reverts both", func() error { return first.Undo(ctx) }, [3]byte{0, 0, 0}},
		{"redo first only", func() error { return first.Redo(ctx) }, [3]byte{1, 1, 0}},
		{"redo second", func() error { return second.Redo(ctx) }, [3]byte{1, 2, 2}},
	}
	for _, tt := range tests {
		if err := tt.op(); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		got := [3]byte{d.Pixel(2, 2)[0], d.Pixel(7, 7)[0], d.Pixel(80, 7)[0]}
		if got != tt.samples {
			t.Errorf("%s: pixels = %v, want %v", tt.name, got, tt.samples)
		}
	}
}

func TestTransactionCancel(t *testing.T) {
	d := NewDevice([]byte{0})
	tx := d.Begin()
	d.Fill(image.Rect(0, 0, 4, 4), []byte{3})
	if err := tx.Cancel(); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}
	if d.Pixel(1, 1)[0] != 3 {
		t.Error("Cancel() should leave pixels as they are")
	}
	if err := tx.Undo(context.Background()); err == nil {
		t.Error("Undo() of a cancelled transaction should fail")
	}
}

// =============================================================================
// Persistence
// =============================================================================

func TestDeviceSaveLoad(t *testing.T) {
	src := NewDevice([]byte{0, 0, 0})
	src.Fill(image.Rect(-20, -20, 100, 30), []byte{1, 2, 3})
	src.SetPixel(99, 29, []byte{7, 8, 9})

	var buf bytes.Buffer
	n, err := src.Save(&buf)
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if n != src.NumTiles() {
		t.Errorf("Save() wrote %d tiles, want %d", n, src.NumTiles())
	}
	saved := slices.Clone(buf.Bytes())

	dst := NewDevice([]byte{0, 0, 0})
	if n, err := dst.Load(bytes.NewReader(saved)); err != nil || n != src.NumTiles() {
		t.Fatalf("Load() = %d, %v", n, err)
	}
	if dst.Extent() != src.Extent() {
		t.Errorf("Extent() = %v, want %v", dst.Extent(), src.Extent())
	}
	for _, p := range []image.Point{{-20, -20}, {50, 0}, {99, 29}, {100, 30}} {
		if got, want := dst.Pixel(p.X, p.Y), src.Pixel(p.X, p.Y); !bytes.Equal(got, want) {
			t.Errorf("Pixel(%v) = %v, want %v", p, got, want)
		}
	}

	if _, err := NewDevice([]byte{0}).Load(bytes.NewReader(saved)); err == nil {
		t.Error("Load() into a device with another pixel size should fail")
	}
	if _, err := NewDevice([]byte{0, 0, 0}).Load(bytes.NewReader(saved[:len(saved)/2])); err == nil {
		t.Error("Load() of a truncated stream should fail")
	}
}

func TestDeviceThumbnail(t *testing.T) {
	if _, err := NewDevice([]byte{0}).Thumbnail(8, 8); !errors.Is(err, ErrPixelSize) {
		t.Errorf("Thumbnail() of 1-byte pixels error = %v, want ErrPixelSize", err)
	}

	d := NewDevice([]byte{0, 0, 0, 0})
	empty, err := d.Thumbnail(4, 4)
	if err != nil {
		t.Fatalf("Thumbnail() = %v", err)
	}
	if empty.Bounds() != image.Rect(0, 0, 4, 4) || empty.RGBAAt(1, 1) != (color.RGBA{}) {
		t.Error("thumbnail of an empty device should be transparent")
	}

	red := color.RGBA{R: 255, A: 255}
	d.Fill(image.Rect(0, 0, 128, 64), []byte{red.R, red.G, red.B, red.A})
	thumb, err := d.Thumbnail(16, 8)
	if err != nil {
		t.Fatalf("Thumbnail() = %v", err)
	}
	if got := thumb.RGBAAt(8, 4); got != red {
		t.Errorf("thumbnail pixel = %v, want %v", got, red)
	}
}
