package filter

import (
	"math"

	"github.com/gogpu/tiled/cache"
)

// GaussianKernel generates a 1D Gaussian kernel for the given radius.
// The kernel is normalized so all values sum to 1.0.
//
// The kernel size is 2 * KernelMargin(radius) + 1, which covers 99.7% of
// the Gaussian distribution (3 standard deviations).
//
// For radius <= 0, returns a single-element kernel [1.0] (identity).
func GaussianKernel(radius float64) []float32 {
	if radius <= 0 {
		return []float32{1.0}
	}

	sigma := radius
	halfSize := KernelMargin(radius)
	kernel := make([]float32, halfSize*2+1)

	// G(x) = exp(-x²/(2σ²)); the normalization constant cancels out.
	twoSigmaSq := 2 * sigma * sigma
	sum := float64(0)
	for i := range kernel {
		x := float64(i - halfSize)
		val := math.Exp(-(x * x) / twoSigmaSq)
		kernel[i] = float32(val)
		sum += val
	}

	invSum := float32(1.0 / sum)
	for i := range kernel {
		kernel[i] *= invSum
	}
	return kernel
}

// KernelMargin returns how many pixels a Gaussian kernel of the given
// radius reaches on each side of its center.
func KernelMargin(radius float64) int {
	if radius <= 0 {
		return 0
	}
	return int(math.Ceil(radius * 3))
}

// kernels caches Gaussian kernels by radius quantized to 0.01.
var kernels = cache.NewSharded[int, []float32](64, func(k int) uint64 {
	return cache.Uint64Hasher(uint64(k)) //nolint:gosec // radii are non-negative
}, nil)

// CachedGaussianKernel returns a cached Gaussian kernel for the radius.
// The returned slice must not be modified.
func CachedGaussianKernel(radius float64) []float32 {
	key := int(radius * 100)
	if k, ok := kernels.Get(key); ok {
		return k
	}
	k := GaussianKernel(radius)
	kernels.Set(key, k)
	return k
}
