package governor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pyroclast-games/chunkengine/pkg/queue"
	"github.com/pyroclast-games/chunkengine/pkg/storage"
	"github.com/rs/zerolog"
)

// AdjustmentMode scales the tier-derived baseline pool sizes.
type AdjustmentMode int

const (
	Conservative AdjustmentMode = iota
	Balanced
	Aggressive
	Adaptive
)

func (m AdjustmentMode) String() string {
	switch m {
	case Conservative:
		return "conservative"
	case Balanced:
		return "balanced"
	case Aggressive:
		return "aggressive"
	case Adaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseAdjustmentMode maps a configuration string onto an AdjustmentMode.
func ParseAdjustmentMode(s string) (AdjustmentMode, bool) {
	switch s {
	case "Conservative", "conservative":
		return Conservative, true
	case "Balanced", "balanced":
		return Balanced, true
	case "Aggressive", "aggressive":
		return Aggressive, true
	case "Adaptive", "adaptive":
		return Adaptive, true
	default:
		return 0, false
	}
}

func (m AdjustmentMode) multiplier(tier Tier) float64 {
	if m == Adaptive {
		// Adaptive derives its own multiplier straight from tier instead
		// of applying a fixed scalar on top of it.
		switch tier {
		case LowEnd:
			return 0.5
		case MidRange:
			return 1.0
		case HighEnd:
			return 1.5
		case Server:
			return 2.0
		}
	}

	switch m {
	case Conservative:
		return 0.5
	case Balanced:
		return 1.0
	case Aggressive:
		return 1.5
	default:
		return 1.0
	}
}

// tierBaseline returns the per-pool worker baseline for tier before any
// AdjustmentMode multiplier is applied.
func tierBaseline(tier Tier) (load, write, compress, decompress int) {
	switch tier {
	case LowEnd:
		return 1, 1, 1, 1
	case MidRange:
		return 2, 2, 2, 2
	case HighEnd:
		return 4, 3, 4, 4
	case Server:
		return 8, 6, 8, 8
	default:
		return 2, 2, 2, 2
	}
}

// baseConcurrency is the global queue concurrency bound baseline per tier.
func baseConcurrency(tier Tier) int {
	switch tier {
	case LowEnd:
		return 4
	case MidRange:
		return 8
	case HighEnd:
		return 16
	case Server:
		return 32
	default:
		return 8
	}
}

func scale(n int, mult float64) int {
	v := int(float64(n) * mult)
	if v < 1 {
		v = 1
	}
	return v
}

// adjustInterval is the default cadence a governor re-evaluates on.
const adjustInterval = 30 * time.Second

// PoolOverrides pins individual storage pools to an operator-chosen size
// instead of the governor's tier-derived one. A zero field means "auto":
// the governor keeps managing that pool.
type PoolOverrides struct {
	Load, Write, Compress, Decompress int
}

// Governor is the single authority driving the storage manager's pool
// sizes and the unified queue's concurrency/admission inputs from a
// hardware profile and a rolling health snapshot.
type Governor struct {
	health   HealthProvider
	hardware HardwareProvider

	storage *storage.Manager
	queue   *queue.Queue

	mode atomic.Int32 // AdjustmentMode

	interval  time.Duration
	overrides PoolOverrides

	stop chan struct{}
	wg   sync.WaitGroup

	log zerolog.Logger
}

// New builds a governor. Call Start to begin its adjustment cadence.
func New(health HealthProvider, hardware HardwareProvider, mgr *storage.Manager, q *queue.Queue, mode AdjustmentMode, log zerolog.Logger) *Governor {
	g := &Governor{
		health:   health,
		hardware: hardware,
		storage:  mgr,
		queue:    q,
		interval: adjustInterval,
		stop:     make(chan struct{}),
		log:      log.With().Str("component", "governor").Logger(),
	}
	g.mode.Store(int32(mode))

	return g
}

// SetAdjustInterval overrides the re-evaluation cadence. Must be called
// before Start; the running worker does not re-read it.
func (g *Governor) SetAdjustInterval(d time.Duration) {
	if d > 0 {
		g.interval = d
	}
}

// SetPoolOverrides pins explicitly configured pool sizes. Must be called
// before Start (or before the next AdjustNow) to take effect.
func (g *Governor) SetPoolOverrides(o PoolOverrides) {
	g.overrides = o
}

// SetMode updates the adjustment mode. Re-applying the same mode is a
// no-op log-wise; the next adjustment cycle still recomputes sizes so a
// distinct mode takes effect promptly.
func (g *Governor) SetMode(mode AdjustmentMode) {
	old := AdjustmentMode(g.mode.Swap(int32(mode)))
	if old == mode {
		return
	}

	g.log.Info().Str("from", old.String()).Str("to", mode.String()).Msg("governor mode changed")
}

// Mode returns the current adjustment mode.
func (g *Governor) Mode() AdjustmentMode {
	return AdjustmentMode(g.mode.Load())
}

// Start launches the low-priority background worker that re-evaluates
// pool sizes and the concurrency bound every adjustInterval.
func (g *Governor) Start() {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				g.AdjustNow()
			}
		}
	}()
}

// Stop halts the background adjustment worker.
func (g *Governor) Stop() {
	close(g.stop)
	g.wg.Wait()
}

// AdjustNow forces an immediate adjustment cycle, for tests and
// tick-driven collaborators that want synchronous control.
func (g *Governor) AdjustNow() {
	profile := g.hardware.Profile()
	snapshot := g.health.Snapshot()
	mode := g.Mode()

	mult := mode.multiplier(profile.Tier)
	load, write, compress, decompress := tierBaseline(profile.Tier)

	g.storage.UpdateExecutors(
		orOverride(scale(load, mult), g.overrides.Load),
		orOverride(scale(write, mult), g.overrides.Write),
		orOverride(scale(compress, mult), g.overrides.Compress),
		orOverride(scale(decompress, mult), g.overrides.Decompress),
	)

	concurrency := scale(baseConcurrency(profile.Tier), mult)
	g.queue.SetMaxConcurrent(concurrency)
	g.queue.SetClassCap(queue.HyperViewPrefetch, maxInt(1, concurrency/4))
	g.queue.SetClassCap(queue.BackgroundGeneration, maxInt(1, concurrency/2))

	g.queue.SetSeverity(snapshot.Severity())

	g.log.Debug().
		Str("tier", profile.Tier.String()).
		Str("mode", mode.String()).
		Float64("mspt", snapshot.MSPT).
		Float64("tps", snapshot.TPS).
		Int("concurrency", concurrency).
		Msg("governor adjustment applied")
}

// EffectivePrefetchRadius derives the radius collaborators doing area
// prefetch should actually use, from the hardware tier, the
// collaborator's requested radius, and current health: halved under
// struggle, clamped to 8 under critical.
func (g *Governor) EffectivePrefetchRadius(requested int) int {
	profile := g.hardware.Profile()
	snapshot := g.health.Snapshot()

	radius := requested

	tierCap := tierRadiusCap(profile.Tier)
	if radius > tierCap {
		radius = tierCap
	}

	switch {
	case snapshot.IsCritical():
		if radius > 8 {
			radius = 8
		}
	case snapshot.IsStruggling():
		radius /= 2
	}

	if radius < 0 {
		radius = 0
	}

	return radius
}

func tierRadiusCap(tier Tier) int {
	switch tier {
	case LowEnd:
		return 16
	case MidRange:
		return 32
	case HighEnd:
		return 48
	case Server:
		return 64
	default:
		return 32
	}
}

// orOverride prefers an operator-pinned pool size over the computed one.
func orOverride(computed, pinned int) int {
	if pinned > 0 {
		return pinned
	}
	return computed
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
