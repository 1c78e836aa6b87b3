package filter

import (
	"math"
	"testing"
)

func TestGaussianKernelIdentity(t *testing.T) {
	for _, radius := range []float64{0, -5} {
		k := GaussianKernel(radius)
		if len(k) != 1 || k[0] != 1 {
			t.Errorf("GaussianKernel(%v) = %v, want [1]", radius, k)
		}
	}
}

func TestGaussianKernelNormalized(t *testing.T) {
	for _, radius := range []float64{0.5, 1, 2.5, 5, 10} {
		var sum float64
		for _, v := range GaussianKernel(radius) {
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("GaussianKernel(%v) sums to %v, want 1", radius, sum)
		}
	}
}

func TestGaussianKernelShape(t *testing.T) {
	k := GaussianKernel(3)
	if len(k) != 2*KernelMargin(3)+1 {
		t.Fatalf("len = %d, want %d", len(k), 2*KernelMargin(3)+1)
	}
	mid := len(k) / 2
	for i := range mid {
		if k[i] != k[len(k)-1-i] {
			t.Errorf("k[%d] = %v, k[%d] = %v, want symmetric", i, k[i], len(k)-1-i, k[len(k)-1-i])
		}
		if k[i] >= k[i+1] {
			t.Errorf("k[%d] = %v >= k[%d] = %v, want rising toward the center", i, k[i], i+1, k[i+1])
		}
	}
}

func TestKernelMargin(t *testing.T) {
	tests := []struct {
		radius float64
		want   int
	}{
		{-1, 0},
		{0, 0},
		{0.1, 1},
		{1, 3},
		{2.5, 8},
		{5, 15},
	}
	for _, tt := range tests {
		if got := KernelMargin(tt.radius); got != tt.want {
			t.Errorf("KernelMargin(%v) = %d, want %d", tt.radius, got, tt.want)
		}
	}
}

func TestCachedGaussianKernel(t *testing.T) {
	k1 := CachedGaussianKernel(4.25)
	k2 := CachedGaussianKernel(4.25)
	if &k1[0] != &k2[0] {
		t.Error("second lookup did not return the cached kernel")
	}
	want := GaussianKernel(4.25)
	if len(k1) != len(want) {
		t.Fatalf("cached len = %d, want %d", len(k1), len(want))
	}
	for i := range want {
		if k1[i] != want[i] {
			t.Errorf("cached[%d] = %v, want %v", i, k1[i], want[i])
		}
	}

	if k3 := CachedGaussianKernel(1.5); len(k3) == len(k1) {
		t.Errorf("different radius returned a kernel of the same size %d", len(k3))
	}
}

func BenchmarkGaussianKernel(b *testing.B) {
	for b.Loop() {
		_ = GaussianKernel(10)
	}
}

func BenchmarkCachedGaussianKernel(b *testing.B) {
	_ = CachedGaussianKernel(10)
	for b.Loop() {
		_ = CachedGaussianKernel(10)
	}
}
