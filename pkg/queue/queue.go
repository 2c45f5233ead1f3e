package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
	"github.com/rs/zerolog"
)

// Severity mirrors the governor's derived health severity. It lives
// here (rather than being imported from the governor package) because
// the queue's admission policy is the thing that consumes it; the
// governor package calls SetSeverity to drive it, avoiding a dependency
// from this package back onto the governor's hardware/health model.
type Severity int

const (
	Healthy Severity = iota
	Struggling
	Critical
)

// ErrShutdown is returned by Submit and by a blocked NextTask call once
// the queue has been shut down.
var ErrShutdown = errors.New("queue: shut down")

// ErrOverloaded marks an admission refusal: the governor reported
// critical load or a class watermark was crossed. It maps to a Cancelled
// outcome at the queue boundary rather than a distinct failure state.
var ErrOverloaded = errors.New("queue: refused under load")

// backgroundDepthWatermark bounds how deep BackgroundGeneration work may
// queue before new submissions of that class are refused while the
// governor reports critical load.
const backgroundDepthWatermark = 512

// heapItem is one pending task tracked by the internal priority heap.
type heapItem struct {
	task  *Task
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Class != h[j].task.Class {
		return h[i].task.Class < h[j].task.Class
	}
	return h[i].task.EnqueueTime.Before(h[j].task.EnqueueTime)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the Unified Chunk Queue: a single global priority structure
// over all chunk-directed work, guarded by one mutex + condition
// variable.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	heap priorityHeap
	byItem map[*Task]*heapItem

	dedup map[chunkpos.Chunk]*Task

	nextID uint64

	maxConcurrent int
	classCaps     map[Class]int
	running       int
	runningByClass map[Class]int

	severity Severity
	closed   bool

	log zerolog.Logger
}

// New builds a queue with the given global concurrency bound. Class caps
// default to unbounded (0 means "no explicit cap" and falls through to
// maxConcurrent); SetClassCap narrows individual classes.
func New(maxConcurrent int, log zerolog.Logger) *Queue {
	q := &Queue{
		heap:           priorityHeap{},
		byItem:         make(map[*Task]*heapItem),
		dedup:          make(map[chunkpos.Chunk]*Task),
		maxConcurrent:  maxConcurrent,
		classCaps:      make(map[Class]int),
		runningByClass: make(map[Class]int),
		log:            log.With().Str("component", "unified_queue").Logger(),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// SetMaxConcurrent sets the global concurrency bound, called by the
// governor on each adjustment cycle.
func (q *Queue) SetMaxConcurrent(n int) {
	q.mu.Lock()
	q.maxConcurrent = n
	q.mu.Unlock()
	q.cond.Broadcast()
}

// SetClassCap sets a per-class concurrency cap (0 clears it).
func (q *Queue) SetClassCap(class Class, n int) {
	q.mu.Lock()
	if n <= 0 {
		delete(q.classCaps, class)
	} else {
		q.classCaps[class] = n
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// SetSeverity updates the queue's admission policy input, called by the
// governor whenever a fresh health snapshot is evaluated.
func (q *Queue) SetSeverity(s Severity) {
	q.mu.Lock()
	q.severity = s
	q.mu.Unlock()
}

// Submit enqueues class-priority work for chunk, collapsing with any
// already pending-or-running task for the same chunk regardless of
// class, except that a higher-priority class promotes the pending task.
func (q *Queue) Submit(class Class, chunk chunkpos.Chunk) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrShutdown
	}

	if existing, ok := q.dedup[chunk]; ok {
		if class < existing.Class {
			q.promoteLocked(existing, class)
		}

		return existing, nil
	}

	if refused, outcome := q.admissionLocked(class); refused {
		t := &Task{
			ID: q.allocateIDLocked(), RequestID: newRequestID(), Chunk: chunk,
			Class: class, EnqueueTime: time.Now(), future: newTaskFuture(),
		}
		t.future.complete(outcome)
		return t, nil
	}

	t := &Task{
		ID:          q.allocateIDLocked(),
		RequestID:   newRequestID(),
		Chunk:       chunk,
		Class:       class,
		EnqueueTime: time.Now(),
		future:      newTaskFuture(),
	}

	q.dedup[chunk] = t
	item := &heapItem{task: t}
	heap.Push(&q.heap, item)
	q.byItem[t] = item

	q.cond.Signal()

	return t, nil
}

func (q *Queue) allocateIDLocked() uint64 {
	q.nextID++
	return q.nextID
}

// admissionLocked implements the admission policy. It must be called
// with q.mu held.
func (q *Queue) admissionLocked(class Class) (refused bool, outcome Outcome) {
	if class == PriorityLoad {
		return false, Outcome{}
	}

	if q.severity != Critical {
		return false, Outcome{}
	}

	if class == HyperViewPrefetch {
		return true, Outcome{State: Cancelled, Err: ErrOverloaded}
	}

	if class == BackgroundGeneration && q.heap.Len() >= backgroundDepthWatermark {
		return true, Outcome{State: Cancelled, Err: ErrOverloaded}
	}

	return false, Outcome{}
}

// promoteLocked raises an already-queued task's effective class,
// re-heapifying it at its new priority.
func (q *Queue) promoteLocked(t *Task, class Class) {
	item, ok := q.byItem[t]
	if !ok {
		// Already dequeued/running: no heap position to fix, but the
		// task's observable class still upgrades for dedup purposes. Its
		// running permit moves with it, so CompleteTask releases the
		// permit of the class it now carries.
		q.runningByClass[t.Class]--
		q.runningByClass[class]++
		t.Class = class
		return
	}

	t.Class = class
	heap.Fix(&q.heap, item.index)
}

// Cancel completes the pending task for chunk (if any) with Cancelled
// and removes it from the heap and dedup table. Running tasks are not
// interrupted: they are marked so that their eventual CompleteTask
// reports Cancelled whatever the worker's outcome, and their dedup slot
// and running permit stay held until then.
func (q *Queue) Cancel(chunk chunkpos.Chunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.dedup[chunk]
	if !ok {
		return false
	}

	item, queued := q.byItem[t]
	if !queued {
		// Already running: cooperative cancellation only. The dedup
		// slot and running-permit release wait for CompleteTask.
		t.cancelRequested = true
		return true
	}

	heap.Remove(&q.heap, item.index)
	delete(q.byItem, t)
	delete(q.dedup, chunk)
	t.future.complete(Outcome{State: Cancelled})

	return true
}

// NextTask blocks until a task is available to run or the queue shuts
// down, honoring the global and per-class concurrency bounds.
func (q *Queue) NextTask() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed && q.heap.Len() == 0 {
			return nil, ErrShutdown
		}

		if t := q.popRunnableLocked(); t != nil {
			return t, nil
		}

		q.cond.Wait()
	}
}

// popRunnableLocked scans the heap in priority order for the first task
// whose class still has room under both the global and class-specific
// concurrency caps.
func (q *Queue) popRunnableLocked() *Task {
	if q.heap.Len() == 0 || q.running >= q.maxConcurrent {
		return nil
	}

	// A plain binary heap doesn't support "peek past the head for a
	// runnable item" without popping; for the class counts involved
	// (four), a linear scan over the backing slice is simpler and fast
	// enough than maintaining per-class sub-heaps.
	var best *heapItem
	for _, item := range q.heap {
		if cap, ok := q.classCaps[item.task.Class]; ok && q.runningByClass[item.task.Class] >= cap {
			continue
		}

		if best == nil || higherPriority(item.task, best.task) {
			best = item
		}
	}

	if best == nil {
		return nil
	}

	heap.Remove(&q.heap, best.index)
	delete(q.byItem, best.task)
	// best.task.Chunk stays in q.dedup while Running, so a second
	// submission for the same key still collapses onto this task's
	// future; CompleteTask releases the dedup slot.

	q.running++
	q.runningByClass[best.task.Class]++

	return best.task
}

// higherPriority reports whether a should run before b: lower Class
// value wins, ties broken by earlier EnqueueTime (FIFO within class).
func higherPriority(a, b *Task) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	return a.EnqueueTime.Before(b.EnqueueTime)
}

// CompleteTask releases the task's concurrency permit and resolves its
// future. success=false with err set reports Failed; success=false with
// err nil reports Cancelled (cooperative cancellation discarding an
// in-flight result).
func (q *Queue) CompleteTask(t *Task, success bool, err error) {
	q.mu.Lock()
	q.running--
	q.runningByClass[t.Class]--
	if current, ok := q.dedup[t.Chunk]; ok && current == t {
		delete(q.dedup, t.Chunk)
	}
	cancelled := t.cancelRequested
	q.mu.Unlock()

	state := Cancelled
	switch {
	case cancelled:
		state = Cancelled
	case success:
		state = Completed
	case err != nil:
		state = Failed
	}

	t.future.complete(Outcome{State: state, Err: err})
	q.cond.Broadcast()
}

// Wait blocks until t completes and returns its outcome. Deduplicated
// submissions for the same key share the same future instance.
func (t *Task) Wait() Outcome {
	return t.future.Wait()
}

// Shutdown cancels every queued-but-not-running task and wakes any
// blocked NextTask callers. It does not wait for running tasks; callers
// that need a bounded grace period should track running tasks
// themselves and call Shutdown once they've awaited (or timed out)
// them.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true

	for _, item := range q.heap {
		item.task.future.complete(Outcome{State: Cancelled})
	}
	q.heap = priorityHeap{}
	q.byItem = make(map[*Task]*heapItem)
	q.dedup = make(map[chunkpos.Chunk]*Task)

	q.mu.Unlock()
	q.cond.Broadcast()
}

// Depth returns the number of tasks currently queued (not running).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.heap.Len()
}

// Running returns the number of tasks currently running.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.running
}
