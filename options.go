package tiled

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Image during creation.
//
// Example:
//
//	cfg, _ := tiled.LoadConfig("tiled.yaml")
//	img, _ := tiled.NewImage(800, 600, []byte{0, 0, 0, 0},
//	    tiled.WithConfig(cfg),
//	    tiled.WithMetrics(prometheus.DefaultRegisterer))
type Option func(*options)

type options struct {
	cfg        Config
	compositor Compositor
	progress   ProgressFunc
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
}

func defaultOptions() options {
	return options{
		cfg:        DefaultConfig(),
		compositor: OverwriteCompositor{},
	}
}

// WithConfig replaces the whole configuration. Zero fields take their
// defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		applyDefaults(&cfg)
		o.cfg = cfg
	}
}

// WithWorkers sets the size of the update worker pool.
func WithWorkers(n int) Option {
	return func(o *options) { o.cfg.Workers = n }
}

// WithPatchSize bounds the side of a single update job.
func WithPatchSize(n int) Option {
	return func(o *options) { o.cfg.PatchSize = n }
}

// WithMaxMergeAlpha enables merging of queued update requests.
func WithMaxMergeAlpha(alpha float64) Option {
	return func(o *options) { o.cfg.MaxMergeAlpha = alpha }
}

// WithCompositor sets the compositor used to merge layers.
func WithCompositor(c Compositor) Option {
	return func(o *options) {
		if c != nil {
			o.compositor = c
		}
	}
}

// WithProgress receives the update queue progress.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithMetrics registers the scheduler and swap metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracerProvider traces update jobs with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}
