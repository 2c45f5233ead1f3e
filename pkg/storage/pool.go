package storage

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"
)

// maxPoolSlots bounds how many distinct worker identities a single pool
// can hand out. Pools are sized from a tier baseline (at most a few
// dozen workers per pool even under Server/Aggressive), so this is
// generous headroom rather than a real operating limit.
const maxPoolSlots = 256

// Pool is one of the storage manager's four resizable worker pools
// (load, write, compress, decompress). It shrinks by attrition: a
// resize to a smaller size never interrupts an in-flight
// task, it just lets workers retire after their current job once the
// live count exceeds the new target.
type Pool struct {
	name   string
	tasks  chan func()
	target atomic.Int64
	live   atomic.Int64
	wg     sync.WaitGroup
	log    zerolog.Logger

	slotsMu sync.Mutex
	slots   *bitset.BitSet
}

// NewPool starts a pool of size workers pulling from a task channel
// buffered to 1024 entries; Submit blocks once it is full (admission
// control is the unified queue's job, not the pool's).
func NewPool(name string, size int, log zerolog.Logger) *Pool {
	p := &Pool{
		name:  name,
		tasks: make(chan func(), 1024),
		log:   log.With().Str("component", "storage_pool").Str("pool", name).Logger(),
		slots: bitset.New(maxPoolSlots),
	}

	p.target.Store(int64(size))

	for i := 0; i < size; i++ {
		p.spawn()
	}

	return p
}

// acquireSlot hands out the lowest-numbered free worker identity, the
// same bounded-slot idiom a device pool uses to hand out device
// numbers: a worker's slot shows up in its log lines for the life of
// the goroutine instead of every worker logging anonymously.
func (p *Pool) acquireSlot() (uint, bool) {
	p.slotsMu.Lock()
	defer p.slotsMu.Unlock()

	slot, ok := p.slots.NextClear(0)
	if !ok || slot >= maxPoolSlots {
		return 0, false
	}

	p.slots.Set(slot)

	return slot, true
}

func (p *Pool) releaseSlot(slot uint) {
	p.slotsMu.Lock()
	p.slots.Clear(slot)
	p.slotsMu.Unlock()
}

func (p *Pool) spawn() {
	p.live.Add(1)
	p.wg.Add(1)

	slot, hasSlot := p.acquireSlot()
	workerLog := p.log
	if hasSlot {
		workerLog = p.log.With().Uint("slot", slot).Logger()
	}

	go func() {
		defer p.wg.Done()
		if hasSlot {
			defer p.releaseSlot(slot)
		}

		for task := range p.tasks {
			task()

			// Attrition: if the pool has shrunk below the live worker
			// count, this worker retires instead of looping for more
			// work, rather than cancelling whatever it was just doing.
			// The retirement is claimed with a compare-and-swap on the
			// live count, so workers finishing together cannot all
			// retire and take the pool below its target.
			for live := p.live.Load(); live > p.target.Load(); live = p.live.Load() {
				if p.live.CompareAndSwap(live, live-1) {
					workerLog.Debug().Msg("worker retiring by attrition")
					return
				}
			}
		}

		p.live.Add(-1)
	}()
}

// Submit enqueues fn for execution on this pool.
func (p *Pool) Submit(fn func()) {
	p.tasks <- fn
}

// Resize adjusts the pool's target worker count. Growing spawns new
// workers immediately; shrinking lets existing workers retire by
// attrition as described on Pool.
func (p *Pool) Resize(size int) {
	old := p.target.Swap(int64(size))
	if int64(size) <= old {
		p.log.Debug().Int("from", int(old)).Int("to", size).Msg("pool shrinking by attrition")
		return
	}

	for i := old; i < int64(size); i++ {
		p.spawn()
	}

	p.log.Debug().Int("from", int(old)).Int("to", size).Msg("pool grown")
}

// Size returns the pool's current live worker count (may briefly exceed
// Target immediately after a shrink, until attrition catches up).
func (p *Pool) Size() int {
	return int(p.live.Load())
}

// Target returns the pool's requested worker count.
func (p *Pool) Target() int {
	return int(p.target.Load())
}

// Shutdown closes the task channel and waits for all live workers to
// drain their remaining queued work.
func (p *Pool) Shutdown() {
	close(p.tasks)
	p.wg.Wait()
}
