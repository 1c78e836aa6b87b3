package swap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts swap traffic.
type Metrics struct {
	// TilesOut counts tiles moved out of memory.
	TilesOut prometheus.Counter

	// TilesIn counts tiles restored into memory.
	// Labels: tier (memory|backend)
	TilesIn *prometheus.CounterVec

	// CompressedBytes counts encoded bytes produced by SwapOut.
	CompressedBytes prometheus.Counter

	// BackendErrors counts failed backend operations.
	// Labels: op (put|get|delete)
	BackendErrors *prometheus.CounterVec

	// MemoryTier is the number of blobs held in the compressed memory tier.
	MemoryTier prometheus.Gauge
}

// NewMetrics creates swap metrics registered with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TilesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "tiled_swap_tiles_out_total",
			Help: "Tiles moved out of memory",
		}),
		TilesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiled_swap_tiles_in_total",
			Help: "Tiles restored into memory by source tier",
		}, []string{"tier"}),
		CompressedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "tiled_swap_compressed_bytes_total",
			Help: "Encoded bytes written by swap-out",
		}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiled_swap_backend_errors_total",
			Help: "Failed backend operations",
		}, []string{"op"}),
		MemoryTier: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiled_swap_memory_tier_blobs",
			Help: "Blobs held in the compressed memory tier",
		}),
	}
}
