package filter

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/tiled"
)

// applyPixel runs f over a single premultiplied RGBA pixel.
func applyPixel(f *ColorMatrix, px []byte) []byte {
	src := tiled.NewDevice([]byte{0, 0, 0, 0})
	src.SetPixel(0, 0, px)
	dst := tiled.NewDevice([]byte{0, 0, 0, 0})
	f.Apply(dst, src, image.Rect(0, 0, 1, 1))
	return dst.Pixel(0, 0)
}

func TestNewColorMatrix(t *testing.T) {
	matrix := [20]float32{
		1, 2, 3, 4, 5,
		6, 7, 8, 9, 10,
		11, 12, 13, 14, 15,
		16, 17, 18, 19, 20,
	}
	if f := NewColorMatrix(matrix); f.Matrix != matrix {
		t.Errorf("Matrix = %v, want %v", f.Matrix, matrix)
	}
}

func TestColorMatrixSpec(t *testing.T) {
	f := NewInvert()
	spec := f.Spec()
	if spec.Filter != f || spec.ChangeMargin != 0 || spec.NeedMargin != 0 {
		t.Errorf("Spec() = %+v, want the matrix with no margins", spec)
	}
}

func TestColorMatrixApply(t *testing.T) {
	tests := []struct {
		name string
		f    *ColorMatrix
		in   []byte
		want []byte
	}{
		{"identity opaque", NewIdentity(), []byte{200, 100, 50, 255}, []byte{200, 100, 50, 255}},
		{"identity premultiplied", NewIdentity(), []byte{100, 50, 25, 200}, []byte{100, 50, 25, 200}},
		{"identity transparent", NewIdentity(), []byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}},
		{"invert", NewInvert(), []byte{10, 20, 30, 255}, []byte{245, 235, 225, 255}},
		{"invert transparent", NewInvert(), []byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}},
		{"brightness", NewBrightness(0.5), []byte{200, 100, 50, 255}, []byte{100, 50, 25, 255}},
		{"contrast", NewContrast(2), []byte{200, 50, 128, 255}, []byte{255, 0, 129, 255}},
		{"grayscale", NewGrayscale(), []byte{255, 0, 0, 255}, []byte{54, 54, 54, 255}},
		{"sepia", NewSepia(), []byte{100, 100, 100, 255}, []byte{135, 120, 94, 255}},
		{"opacity", NewOpacity(0.5), []byte{200, 100, 50, 255}, []byte{100, 50, 25, 128}},
		{"tint", NewColorTint(color.NRGBA{R: 255, A: 255}), []byte{10, 200, 30, 255}, []byte{255, 0, 0, 255}},
		{"hue rotate zero", NewHueRotate(0), []byte{200, 100, 50, 255}, []byte{200, 100, 50, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyPixel(tt.f, tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("Apply(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestColorMatrixKeepsPremultiplied(t *testing.T) {
	// Brightening a half-transparent pixel must not push color past alpha.
	got := applyPixel(NewBrightness(4), []byte{100, 60, 20, 128})
	for i, c := range got[:3] {
		if c > got[3] {
			t.Errorf("channel %d = %d exceeds alpha %d", i, c, got[3])
		}
	}
}

func TestHueRotateFullTurn(t *testing.T) {
	got := applyPixel(NewHueRotate(360), []byte{200, 100, 50, 255})
	want := []byte{200, 100, 50, 255}
	for i := range want {
		if d := int(got[i]) - int(want[i]); d < -1 || d > 1 {
			t.Errorf("channel %d = %d, want %d ±1", i, got[i], want[i])
		}
	}
}

func TestColorMatrixThen(t *testing.T) {
	first, next := NewBrightness(0.5), NewInvert()
	in := []byte{200, 100, 50, 255}

	got := applyPixel(first.Then(next), in)
	want := applyPixel(next, applyPixel(first, in))
	if !bytes.Equal(got, want) {
		t.Errorf("Then() = %v, sequential = %v", got, want)
	}
	if !bytes.Equal(got, []byte{155, 205, 230, 255}) {
		t.Errorf("Then() = %v, want [155 205 230 255]", got)
	}
}

func TestColorMatrixApplyRect(t *testing.T) {
	src := tiled.NewDevice([]byte{0, 0, 0, 255})
	src.Fill(image.Rect(0, 0, 100, 100), []byte{10, 20, 30, 255})
	dst := tiled.NewDevice([]byte{0, 0, 0, 255})

	NewInvert().Apply(dst, src, image.Rect(10, 10, 90, 90))

	if got := dst.Pixel(50, 50); !bytes.Equal(got, []byte{245, 235, 225, 255}) {
		t.Errorf("inside = %v, want inverted", got)
	}
	if got := dst.Pixel(5, 5); !bytes.Equal(got, []byte{0, 0, 0, 255}) {
		t.Errorf("outside = %v, want untouched", got)
	}
}

func TestColorMatrixPixelSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Apply on 1-byte pixels did not panic")
		}
	}()
	d := tiled.NewDevice([]byte{0})
	NewInvert().Apply(d, d, image.Rect(0, 0, 1, 1))
}

func BenchmarkColorMatrix(b *testing.B) {
	src := tiled.NewDevice([]byte{128, 64, 32, 255})
	dst := tiled.NewDevice([]byte{0, 0, 0, 0})
	f := NewSepia()
	r := image.Rect(0, 0, 256, 256)

	b.ResetTimer()
	for b.Loop() {
		f.Apply(dst, src, r)
	}
}
