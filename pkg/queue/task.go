// Package queue implements the Unified Chunk Queue: the sole scheduling
// authority for chunk-directed work, deduplicating by (world, chunk),
// ordering by task class priority, and bounding concurrency per the
// governor's admission policy.
package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
)

// Class is one of the four task classes, ordered by
// ascending priority value (0 is most urgent).
type Class int

const (
	PriorityLoad         Class = 0
	ParallelGeneration   Class = 2
	BackgroundGeneration Class = 5
	HyperViewPrefetch    Class = 8
)

func (c Class) String() string {
	switch c {
	case PriorityLoad:
		return "priority_load"
	case ParallelGeneration:
		return "parallel_generation"
	case BackgroundGeneration:
		return "background_generation"
	case HyperViewPrefetch:
		return "hyper_view_prefetch"
	default:
		return "unknown"
	}
}

// State is a task's position in the state machine:
// Submitted -> Queued -> Running -> {Completed, Failed, Cancelled}.
type State int

const (
	Submitted State = iota
	Queued
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is what a submitter's future resolves to.
type Outcome struct {
	State State
	Err   error
}

// Task is one unit of chunk-directed work tracked by the queue.
type Task struct {
	ID          uint64
	RequestID   string
	Chunk       chunkpos.Chunk
	Class       Class
	EnqueueTime time.Time

	future *taskFuture

	// cancelRequested is set by Cancel on a task that is already running
	// (and so cannot be pulled out of the heap): CompleteTask checks it
	// and reports Cancelled regardless of the worker's own success/err:
	// I/O in flight runs to completion but its result is discarded.
	cancelRequested bool
}

// taskFuture is the shared completion object every deduplicated
// submission for the same (world, chunk) observes.
type taskFuture struct {
	done chan struct{}
	out  Outcome
}

func newTaskFuture() *taskFuture {
	return &taskFuture{done: make(chan struct{})}
}

func (f *taskFuture) complete(out Outcome) {
	select {
	case <-f.done:
		return // already completed; ignore a second completion attempt
	default:
	}

	f.out = out
	close(f.done)
}

// Wait blocks until the task completes and returns its outcome.
func (f *taskFuture) Wait() Outcome {
	<-f.done
	return f.out
}

// newRequestID mints an opaque request identifier.
func newRequestID() string {
	return uuid.NewString()
}
