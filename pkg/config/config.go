// Package config is a plain struct tree mirroring the core's
// configuration surface: compression, storage, queue, and
// governor options. It only validates/clamps; flag/env binding is
// cmd/chunkengine's job, keeping the core collaborator-agnostic.
package config

import (
	"fmt"

	"github.com/pyroclast-games/chunkengine/pkg/codec"
	"github.com/pyroclast-games/chunkengine/pkg/governor"
	"github.com/pyroclast-games/chunkengine/pkg/region"
)

// Compression mirrors the compression.* configuration surface.
type Compression struct {
	Algorithm        string
	Level            int
	FallbackEnabled  bool
	RecompressOnLoad bool
}

// CachePools mirrors storage.pools.*: "auto" or an explicit size.
type CachePools struct {
	Load, Write, Compress, Decompress string
}

// Cache mirrors storage.cache.*.
type Cache struct {
	MaxBytes int64
	TTLSecs  int
	Enabled  bool
}

// Storage mirrors storage.*.
type Storage struct {
	Format          string
	ConversionMode  string
	BackupOriginal  bool
	Cache           Cache
	Pools           CachePools
}

// QueueConfig mirrors queue.*.
type QueueConfig struct {
	MaxConcurrent      int
	PrefetchClassCap   int
	BackgroundClassCap int
}

// GovernorConfig mirrors governor.*.
type GovernorConfig struct {
	Mode                  string
	AdjustIntervalSeconds int
}

// Config is the full configuration surface the core consumes.
type Config struct {
	Compression Compression
	Storage     Storage
	Queue       QueueConfig
	Governor    GovernorConfig
}

// Default returns a sensible baseline configuration: Zstd level 3, LRF auto-detected storage, a 256MiB cache with
// a 10-minute TTL, auto pool sizing, and Balanced governor mode.
func Default() Config {
	return Config{
		Compression: Compression{
			Algorithm:        "zstd",
			Level:            3,
			FallbackEnabled:  true,
			RecompressOnLoad: false,
		},
		Storage: Storage{
			Format:         "auto",
			ConversionMode: "on_demand",
			BackupOriginal: true,
			Cache: Cache{
				MaxBytes: 256 << 20,
				TTLSecs:  600,
				Enabled:  true,
			},
			Pools: CachePools{Load: "auto", Write: "auto", Compress: "auto", Decompress: "auto"},
		},
		Queue: QueueConfig{
			MaxConcurrent:      16,
			PrefetchClassCap:   4,
			BackgroundClassCap: 8,
		},
		Governor: GovernorConfig{
			Mode:                  "balanced",
			AdjustIntervalSeconds: 30,
		},
	}
}

// Validate clamps/rejects out-of-range values, mirroring the codec
// layer's own level-validator narrowing.
func (c *Config) Validate() error {
	alg, ok := codec.ParseAlgorithm(c.Compression.Algorithm)
	if !ok {
		return fmt.Errorf("config: unknown compression.algorithm %q", c.Compression.Algorithm)
	}

	clamped, _ := codec.ClampLevel(alg, c.Compression.Level, codec.ContextRuntime)
	c.Compression.Level = clamped

	if _, ok := region.ParseMigrationPolicy(c.Storage.ConversionMode); !ok {
		return fmt.Errorf("config: unknown storage.conversion_mode %q", c.Storage.ConversionMode)
	}

	switch c.Storage.Format {
	case "auto", "lrf", "mca":
	default:
		return fmt.Errorf("config: unknown storage.format %q", c.Storage.Format)
	}

	if c.Storage.Cache.MaxBytes < 0 {
		return fmt.Errorf("config: storage.cache.max_bytes must be >= 0")
	}

	if c.Queue.MaxConcurrent < 1 {
		c.Queue.MaxConcurrent = 1
	}

	if _, ok := governor.ParseAdjustmentMode(c.Governor.Mode); !ok {
		return fmt.Errorf("config: unknown governor.mode %q", c.Governor.Mode)
	}

	if c.Governor.AdjustIntervalSeconds < 1 {
		c.Governor.AdjustIntervalSeconds = 30
	}

	return nil
}
