package tiled

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/tiled/internal/swap"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("tiled: invalid config")

// Config holds the engine settings that can come from a YAML file.
//
//	workers: 8
//	patch_size: 512
//	max_merge_alpha: 1.0
//	progress_interval: 100ms
//	swap:
//	  backend: sqlite
//	  path: /tmp/tiles.db
//	  compression: zstd
//	  memory_tier: 64
type Config struct {
	// Workers is the size of the update worker pool.
	Workers int `yaml:"workers"`

	// PatchSize bounds the side of a single update job.
	PatchSize int `yaml:"patch_size"`

	// MaxMergeAlpha enables folding new update requests into queued ones.
	// Zero disables merging.
	MaxMergeAlpha float64 `yaml:"max_merge_alpha"`

	// ProgressInterval is the period of progress reports.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	Swap SwapConfig `yaml:"swap"`
}

// SwapConfig selects where cold tiles go.
type SwapConfig struct {
	// Backend is none, file or sqlite.
	Backend string `yaml:"backend"`

	// Path is the swap file or database. Empty means a temporary file for
	// the file backend and an in-memory database for sqlite.
	Path string `yaml:"path"`

	// Compression is raw, rle or zstd.
	Compression string `yaml:"compression"`

	// MemoryTier is the number of compressed tiles kept in memory per
	// cache shard before they are written to the backend.
	MemoryTier int `yaml:"memory_tier"`
}

// Swap backends.
const (
	SwapNone   = "none"
	SwapFile   = "file"
	SwapSQLite = "sqlite"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          runtime.GOMAXPROCS(0),
		PatchSize:        512,
		ProgressInterval: 100 * time.Millisecond,
		Swap: SwapConfig{
			Backend:     SwapNone,
			Compression: swap.MethodRLE.String(),
			MemoryTier:  16,
		},
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tiled: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, fills unset fields from DefaultConfig and
// validates the result. Environment variables in data are expanded and
// unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("tiled: parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.Workers == 0 {
		cfg.Workers = d.Workers
	}
	if cfg.PatchSize == 0 {
		cfg.PatchSize = d.PatchSize
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = d.ProgressInterval
	}
	if cfg.Swap.Backend == "" {
		cfg.Swap.Backend = d.Swap.Backend
	}
	if cfg.Swap.Compression == "" {
		cfg.Swap.Compression = d.Swap.Compression
	}
	if cfg.Swap.MemoryTier == 0 {
		cfg.Swap.MemoryTier = d.Swap.MemoryTier
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.PatchSize < 1:
		return fmt.Errorf("%w: patch_size must be positive, got %d", ErrInvalidConfig, c.PatchSize)
	case c.MaxMergeAlpha < 0:
		return fmt.Errorf("%w: max_merge_alpha must not be negative", ErrInvalidConfig)
	case c.ProgressInterval <= 0:
		return fmt.Errorf("%w: progress_interval must be positive", ErrInvalidConfig)
	case c.Swap.MemoryTier < 0:
		return fmt.Errorf("%w: swap.memory_tier must not be negative", ErrInvalidConfig)
	}
	switch c.Swap.Backend {
	case SwapNone, SwapFile, SwapSQLite:
	default:
		return fmt.Errorf("%w: unknown swap backend %q", ErrInvalidConfig, c.Swap.Backend)
	}
	if _, err := swap.ParseMethod(c.Swap.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
