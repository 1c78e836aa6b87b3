package filter

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/tiled"
)

// ColorMatrix applies a 4x5 color matrix to premultiplied RGBA pixels,
// laid out like image.RGBA. Rows produce R, G, B and A; the fifth column
// is a constant offset in the 0-255 range. The matrix works on straight
// alpha, so Apply un-premultiplies before and re-premultiplies after.
type ColorMatrix struct {
	Matrix [20]float32
}

// NewColorMatrix creates a filter from a matrix in row-major order.
func NewColorMatrix(matrix [20]float32) *ColorMatrix {
	return &ColorMatrix{Matrix: matrix}
}

// NewIdentity creates a matrix that leaves pixels unchanged.
func NewIdentity() *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			1, 0, 0, 0, 0,
			0, 1, 0, 0, 0,
			0, 0, 1, 0, 0,
			0, 0, 0, 1, 0,
		},
	}
}

// NewBrightness scales RGB by factor. 1 leaves pixels unchanged.
func NewBrightness(factor float32) *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			factor, 0, 0, 0, 0,
			0, factor, 0, 0, 0,
			0, 0, factor, 0, 0,
			0, 0, 0, 1, 0,
		},
	}
}

// NewContrast scales RGB around mid-gray. 1 leaves pixels unchanged.
func NewContrast(factor float32) *ColorMatrix {
	offset := 127.5 * (1 - factor)
	return &ColorMatrix{
		Matrix: [20]float32{
			factor, 0, 0, 0, offset,
			0, factor, 0, 0, offset,
			0, 0, factor, 0, offset,
			0, 0, 0, 1, 0,
		},
	}
}

// NewSaturation blends between luminance (0) and the original color (1).
// Uses Rec. 709 luminance weights.
func NewSaturation(factor float32) *ColorMatrix {
	const (
		lumR = 0.2126
		lumG = 0.7152
		lumB = 0.0722
	)
	inv := 1 - factor
	return &ColorMatrix{
		Matrix: [20]float32{
			lumR*inv + factor, lumG * inv, lumB * inv, 0, 0,
			lumR * inv, lumG*inv + factor, lumB * inv, 0, 0,
			lumR * inv, lumG * inv, lumB*inv + factor, 0, 0,
			0, 0, 0, 1, 0,
		},
	}
}

// NewGrayscale converts to Rec. 709 luminance.
func NewGrayscale() *ColorMatrix {
	return NewSaturation(0)
}

// NewSepia applies a sepia tone.
func NewSepia() *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			0.393, 0.769, 0.189, 0, 0,
			0.349, 0.686, 0.168, 0, 0,
			0.272, 0.534, 0.131, 0, 0,
			0, 0, 0, 1, 0,
		},
	}
}

// NewInvert inverts RGB and keeps alpha.
func NewInvert() *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			-1, 0, 0, 0, 255,
			0, -1, 0, 0, 255,
			0, 0, -1, 0, 255,
			0, 0, 0, 1, 0,
		},
	}
}

// NewHueRotate rotates hue by degrees.
func NewHueRotate(degrees float64) *ColorMatrix {
	rad := degrees * math.Pi / 180
	cos := float32(math.Cos(rad))
	sin := float32(math.Sin(rad))

	const (
		lumR = 0.213
		lumG = 0.715
		lumB = 0.072
	)
	return &ColorMatrix{
		Matrix: [20]float32{
			lumR + cos*(1-lumR) + sin*(-lumR), lumG + cos*(-lumG) + sin*(-lumG), lumB + cos*(-lumB) + sin*(1-lumB), 0, 0,
			lumR + cos*(-lumR) + sin*(0.143), lumG + cos*(1-lumG) + sin*(0.140), lumB + cos*(-lumB) + sin*(-0.283), 0, 0,
			lumR + cos*(-lumR) + sin*(-(1 - lumR)), lumG + cos*(-lumG) + sin*(lumG), lumB + cos*(1-lumB) + sin*(lumB), 0, 0,
			0, 0, 0, 1, 0,
		},
	}
}

// NewOpacity multiplies alpha by factor.
func NewOpacity(factor float32) *ColorMatrix {
	return &ColorMatrix{
		Matrix: [20]float32{
			1, 0, 0, 0, 0,
			0, 1, 0, 0, 0,
			0, 0, 1, 0, 0,
			0, 0, 0, factor, 0,
		},
	}
}

// NewColorTint blends RGB toward tint by the tint's alpha.
func NewColorTint(tint color.NRGBA) *ColorMatrix {
	f := float32(tint.A) / 255
	inv := 1 - f
	return &ColorMatrix{
		Matrix: [20]float32{
			inv, 0, 0, 0, float32(tint.R) * f,
			0, inv, 0, 0, float32(tint.G) * f,
			0, 0, inv, 0, float32(tint.B) * f,
			0, 0, 0, 1, 0,
		},
	}
}

// Spec returns the matrix as an adjustment layer or filter mask. A color
// matrix works per pixel, so it needs no margins.
func (f *ColorMatrix) Spec() tiled.FilterSpec {
	return tiled.FilterSpec{Filter: f}
}

// Apply transforms the pixels of src inside r into dst.
// It panics if src does not hold 4-byte pixels.
func (f *ColorMatrix) Apply(dst, src *tiled.Device, r image.Rectangle) {
	if ps := src.PixelSize(); ps != 4 {
		panic(fmt.Sprintf("filter: color matrix needs 4-byte pixels, got %d", ps))
	}
	if r.Empty() {
		return
	}
	buf := make([]byte, r.Dx()*r.Dy()*4)
	src.ReadBytes(buf, r)

	m := &f.Matrix
	for i := 0; i < len(buf); i += 4 {
		pr, pg, pb, a := float32(buf[i]), float32(buf[i+1]), float32(buf[i+2]), float32(buf[i+3])

		var r, g, b float32
		if a > 0 {
			r = pr * 255 / a
			g = pg * 255 / a
			b = pb * 255 / a
		}

		nr := m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4]
		ng := m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9]
		nb := m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14]
		na := clampUint8(m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19] + 0.5)

		// Premultiplied color never exceeds alpha.
		k := float32(na) / 255
		buf[i] = min(clampUint8(nr*k+0.5), na)
		buf[i+1] = min(clampUint8(ng*k+0.5), na)
		buf[i+2] = min(clampUint8(nb*k+0.5), na)
		buf[i+3] = na
	}
	dst.WriteBytes(buf, r)
}

// Then returns a matrix that applies f first and then next.
func (f *ColorMatrix) Then(next *ColorMatrix) *ColorMatrix {
	a, b := &f.Matrix, &next.Matrix
	out := &ColorMatrix{}
	m := &out.Matrix
	for row := range 4 {
		for col := range 4 {
			var sum float32
			for k := range 4 {
				sum += b[row*5+k] * a[k*5+col]
			}
			m[row*5+col] = sum
		}
		m[row*5+4] = b[row*5]*a[4] + b[row*5+1]*a[9] + b[row*5+2]*a[14] + b[row*5+3]*a[19] + b[row*5+4]
	}
	return out
}
