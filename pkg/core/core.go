// Package core wires the codec, region, storage, queue, and governor
// layers into the single explicit value collaborators construct at
// startup, in place of process-wide singletons.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
	"github.com/pyroclast-games/chunkengine/pkg/codec"
	"github.com/pyroclast-games/chunkengine/pkg/config"
	"github.com/pyroclast-games/chunkengine/pkg/governor"
	"github.com/pyroclast-games/chunkengine/pkg/queue"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/storage"
	"github.com/rs/zerolog"
)

// WorldRegistry resolves a world/region coordinate to an on-disk path,
// a callback the core requires rather than computing itself.
type WorldRegistry interface {
	RegionPath(worldID string, rx, rz int32) string
}

// ClockProvider is an injectable time source for tests.
type ClockProvider interface {
	Now() time.Time
}

// SystemClock is the default ClockProvider backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Core is the single value wiring every layer together for a
// collaborator. Tests construct a fresh Core per case.
type Core struct {
	cfg config.Config
	log zerolog.Logger

	world WorldRegistry
	clock ClockProvider

	codecSvc  *codec.Service
	converter *region.RegionConverter
	recovery  *region.ConversionRecoveryManager

	storage *storage.Manager
	queue   *queue.Queue
	gov     *governor.Governor

	migrator *Migrator
}

// New builds a fully wired Core from cfg. health/hardware may be nil, in
// which case a static healthy snapshot and a detected hardware profile
// are used.
func New(cfg config.Config, world WorldRegistry, clock ClockProvider, health governor.HealthProvider, hardware governor.HardwareProvider, log zerolog.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: invalid config: %w", err)
	}

	if clock == nil {
		clock = SystemClock{}
	}

	if health == nil {
		health = governor.StaticHealthProvider{Snap: governor.HealthSnapshot{MSPT: 45, TPS: 20}}
	}

	if hardware == nil {
		hardware = governor.StaticHardwareProvider{Prof: governor.DetectHardwareProfile()}
	}

	alg, _ := codec.ParseAlgorithm(cfg.Compression.Algorithm)

	primary := newCodecForAlgorithm(alg, cfg.Compression.Level, codec.ContextRuntime)

	var fallback codec.Codec
	if cfg.Compression.FallbackEnabled {
		fallback = newCodecForAlgorithm(fallbackAlgorithm(alg), cfg.Compression.Level, codec.ContextRuntime)
	}

	registry, err := codec.NewDefault(codec.ContextRuntime)
	if err != nil {
		return nil, fmt.Errorf("core: build codec registry: %w", err)
	}

	svc := codec.NewService(primary, fallback, registry, cfg.Compression.FallbackEnabled, codec.ContextRuntime, log)

	converter := region.NewRegionConverter(svc, log)
	recovery := region.NewConversionRecoveryManager(converter, log)

	var cache storage.Cache
	if cfg.Storage.Cache.Enabled {
		cache = storage.NewActiveCache(cfg.Storage.Cache.MaxBytes, time.Duration(cfg.Storage.Cache.TTLSecs)*time.Second)
	} else {
		cache = storage.NewDisabledCache()
	}

	overrides := governor.PoolOverrides{
		Load:       parsePoolSize(cfg.Storage.Pools.Load),
		Write:      parsePoolSize(cfg.Storage.Pools.Write),
		Compress:   parsePoolSize(cfg.Storage.Pools.Compress),
		Decompress: parsePoolSize(cfg.Storage.Pools.Decompress),
	}

	mgr := storage.NewManager(svc, cache,
		initialPoolSize(overrides.Load),
		initialPoolSize(overrides.Write),
		initialPoolSize(overrides.Compress),
		initialPoolSize(overrides.Decompress),
		log)

	q := queue.New(cfg.Queue.MaxConcurrent, log)
	q.SetClassCap(queue.HyperViewPrefetch, cfg.Queue.PrefetchClassCap)
	q.SetClassCap(queue.BackgroundGeneration, cfg.Queue.BackgroundClassCap)

	mode, _ := governor.ParseAdjustmentMode(cfg.Governor.Mode)
	gov := governor.New(health, hardware, mgr, q, mode, log)
	gov.SetAdjustInterval(time.Duration(cfg.Governor.AdjustIntervalSeconds) * time.Second)
	gov.SetPoolOverrides(overrides)
	gov.AdjustNow()

	policy, _ := region.ParseMigrationPolicy(cfg.Storage.ConversionMode)

	c := &Core{
		cfg:       cfg,
		log:       log.With().Str("component", "core").Logger(),
		world:     world,
		clock:     clock,
		codecSvc:  svc,
		converter: converter,
		recovery:  recovery,
		storage:   mgr,
		queue:     q,
		gov:       gov,
	}

	c.migrator = NewMigrator(c, policy)

	return c, nil
}

// parsePoolSize maps a storage.pools.* value onto an override: "auto"
// (or anything unparseable) means governor-managed, a positive integer
// pins the pool.
func parsePoolSize(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0
	}

	return n
}

// initialPoolSize seeds a pool before the governor's first adjustment:
// a pinned size is honored immediately, auto pools start small and grow
// on the AdjustNow call during construction.
func initialPoolSize(override int) int {
	if override > 0 {
		return override
	}

	return 2
}

func newCodecForAlgorithm(alg codec.Algorithm, level int, ctx codec.Context) codec.Codec {
	switch alg {
	case codec.LZ4:
		return codec.NewLZ4(level, ctx)
	case codec.Zstd:
		return codec.NewZstd(level, ctx)
	default:
		return codec.NewZlib(level, ctx)
	}
}

// fallbackAlgorithm returns a sensible default fallback for primary:
// Zlib is the slowest but most universally available, so anything not
// already Zlib falls back to it; Zlib itself falls back to LZ4.
func fallbackAlgorithm(primary codec.Algorithm) codec.Algorithm {
	if primary == codec.Zlib {
		return codec.LZ4
	}
	return codec.Zlib
}

// Start launches the governor's background adjustment cadence.
func (c *Core) Start() { c.gov.Start() }

// Stop halts the governor's background worker and shuts down the queue,
// which cancels every task still waiting in it. It does not wait for
// running tasks and does not drain the storage pools; collaborators that
// need a graceful shutdown should stop submitting, drain running work,
// then call Stop.
func (c *Core) Stop() {
	c.gov.Stop()
	c.queue.Shutdown()
}

// Storage exposes the chunk load/save/invalidate entry points.
func (c *Core) Storage() StorageFacade { return StorageFacade{c: c} }

// Queue exposes the unified queue entry points.
func (c *Core) Queue() QueueFacade { return QueueFacade{c: c} }

// Governor exposes the governor entry points.
func (c *Core) Governor() GovernorFacade { return GovernorFacade{c: c} }

// Migrator exposes the migration entry point.
func (c *Core) Migrator() *Migrator { return c.migrator }

// resolveRegionPath resolves a chunk's region file path through the
// wired WorldRegistry, plus the OnDemand migration hook: when the
// registry hands back an MCA path, a previously migrated LRF
// sibling is preferred, and under the OnDemand policy a first read
// migrates the region right here before the load proceeds. Migration
// failures fall back to serving the MCA directly; the region stays
// readable either way.
func (c *Core) resolveRegionPath(chunk chunkpos.Chunk) string {
	r := chunk.Region()
	path := c.world.RegionPath(r.World, r.X, r.Z)

	if region.DetectFormat(path) != region.FormatMCA {
		return path
	}

	lrfPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".lrf"
	if _, err := os.Stat(lrfPath); err == nil {
		return lrfPath
	}

	if c.migrator.Policy() != region.OnDemand {
		return path
	}

	if _, err := os.Stat(path); err != nil {
		// Nothing on disk yet; let the load path report NotFound.
		return path
	}

	migrated, err := c.migrator.MigrateRegion(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("on-demand migration failed, serving mca directly")
		return path
	}

	c.recovery.MarkMigrated(r.World, r.X, r.Z)

	return migrated
}
