package filter

import (
	"image"
	"sync"

	"github.com/gogpu/tiled"
	"github.com/gogpu/tiled/internal/parallel"
)

// bandRows is the height of the row bands a pass is split into.
const bandRows = 32

// bandPool runs the bands of large passes.
var bandPool = sync.OnceValue(func() *parallel.WorkerPool {
	return parallel.NewWorkerPool(0)
})

// Blur applies a separable Gaussian blur. Every byte of a pixel is blurred
// as an independent channel, so it works on devices of any pixel size.
// The separable passes cost O(w*h*(rx+ry)) instead of O(w*h*rx*ry).
type Blur struct {
	// RadiusX is the horizontal blur radius in pixels.
	RadiusX float64

	// RadiusY is the vertical blur radius in pixels.
	RadiusY float64
}

// NewBlur creates a blur with equal radius in both directions.
func NewBlur(radius float64) *Blur {
	return &Blur{RadiusX: radius, RadiusY: radius}
}

// NewBlurXY creates a blur with different X and Y radii.
func NewBlurXY(radiusX, radiusY float64) *Blur {
	return &Blur{RadiusX: radiusX, RadiusY: radiusY}
}

// Margin returns how many pixels the blur reads beyond each side of the
// rect it writes.
func (f *Blur) Margin() (x, y int) {
	return KernelMargin(f.RadiusX), KernelMargin(f.RadiusY)
}

// Spec returns the blur as an adjustment layer or filter mask.
func (f *Blur) Spec() tiled.FilterSpec {
	mx, my := f.Margin()
	m := max(mx, my)
	return tiled.FilterSpec{Filter: f, ChangeMargin: m, NeedMargin: m}
}

// Apply blurs src over r and writes the result into dst.
//  1. Horizontal pass: convolve each row of the padded source
//  2. Vertical pass: convolve each column of the horizontal result
func (f *Blur) Apply(dst, src *tiled.Device, r image.Rectangle) {
	if r.Empty() {
		return
	}
	ps := src.PixelSize()
	mx, my := f.Margin()
	in := image.Rect(r.Min.X-mx, r.Min.Y-my, r.Max.X+mx, r.Max.Y+my)

	padded := make([]byte, in.Dx()*in.Dy()*ps)
	src.ReadBytes(padded, in)

	w, h := r.Dx(), r.Dy()
	temp := getTempBuffer(w * in.Dy() * ps)
	defer putTempBuffer(temp)

	kx := CachedGaussianKernel(f.RadiusX)
	forBands(in.Dy(), func(y0, y1 int) {
		blurHorizontal(padded, temp, in.Dx(), w, y0, y1, ps, kx)
	})

	out := make([]byte, w*h*ps)
	ky := CachedGaussianKernel(f.RadiusY)
	forBands(h, func(y0, y1 int) {
		blurVertical(temp, out, w, y0, y1, ps, ky)
	})
	dst.WriteBytes(out, r)
}

// forBands calls fn for consecutive bands of at most bandRows rows
// covering [0, rows). More than one band runs on bandPool.
func forBands(rows int, fn func(y0, y1 int)) {
	if rows <= bandRows {
		fn(0, rows)
		return
	}
	work := make([]func(), 0, (rows+bandRows-1)/bandRows)
	for y0 := 0; y0 < rows; y0 += bandRows {
		y1 := min(y0+bandRows, rows)
		work = append(work, func() { fn(y0, y1) })
	}
	bandPool().ExecuteAll(work)
}

// blurHorizontal convolves rows y0..y1-1 of src (srcW wide) into dst
// (w wide). Output column x reads src columns x .. x+len(kernel)-1.
func blurHorizontal(src []byte, dst []float32, srcW, w, y0, y1, ps int, kernel []float32) {
	for y := y0; y < y1; y++ {
		srow := src[y*srcW*ps : (y+1)*srcW*ps]
		drow := dst[y*w*ps : (y+1)*w*ps]
		for x := range w {
			for c := range ps {
				var sum float32
				for k, kv := range kernel {
					sum += float32(srow[(x+k)*ps+c]) * kv
				}
				drow[x*ps+c] = sum
			}
		}
	}
}

// blurVertical convolves columns of src into rows y0..y1-1 of dst.
// Output row y reads src rows y .. y+len(kernel)-1.
func blurVertical(src []float32, dst []byte, w, y0, y1, ps int, kernel []float32) {
	stride := w * ps
	for y := y0; y < y1; y++ {
		for i := range stride {
			var sum float32
			for k, kv := range kernel {
				sum += src[(y+k)*stride+i] * kv
			}
			dst[y*stride+i] = clampUint8(sum + 0.5)
		}
	}
}

var tempPool = sync.Pool{
	New: func() any { return new([]float32) },
}

func getTempBuffer(n int) []float32 {
	p := tempPool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
	}
	return (*p)[:n]
}

func putTempBuffer(buf []float32) {
	tempPool.Put(&buf)
}

func clampUint8(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
