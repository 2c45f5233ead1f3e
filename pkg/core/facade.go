package core

import (
	"github.com/pyroclast-games/chunkengine/pkg/chunkpos"
	"github.com/pyroclast-games/chunkengine/pkg/governor"
	"github.com/pyroclast-games/chunkengine/pkg/queue"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/storage"
)

// StorageFacade is the thin, collaborator-facing view of the storage
// manager.
type StorageFacade struct{ c *Core }

// Load resolves (world, cx, cz) to its region path and returns a future
// for the chunk's decompressed payload.
func (s StorageFacade) Load(world string, cx, cz int32) *storage.Future[region.ChunkEntry] {
	chunk := chunkpos.Chunk{World: world, X: cx, Z: cz}
	return s.c.storage.LoadChunk(s.c.resolveRegionPath(chunk), cx, cz)
}

// Save compresses and writes entry for (world, cx, cz).
func (s StorageFacade) Save(world string, entry region.ChunkEntry) *storage.Future[struct{}] {
	chunk := chunkpos.Chunk{World: world, X: entry.ChunkX, Z: entry.ChunkZ}
	return s.c.storage.SaveChunk(s.c.resolveRegionPath(chunk), entry)
}

// Invalidate drops (world, cx, cz) from the RAM cache.
func (s StorageFacade) Invalidate(world string, cx, cz int32) {
	chunk := chunkpos.Chunk{World: world, X: cx, Z: cz}
	s.c.storage.Invalidate(s.c.resolveRegionPath(chunk), cx, cz)
}

// QueueFacade is the collaborator-facing view of the unified queue.
type QueueFacade struct{ c *Core }

// Submit enqueues class-priority work for (world, cx, cz), returning a
// task whose Wait blocks for the eventual Outcome.
func (q QueueFacade) Submit(class queue.Class, world string, cx, cz int32) (*queue.Task, error) {
	return q.c.queue.Submit(class, chunkpos.Chunk{World: world, X: cx, Z: cz})
}

// Cancel cancels the pending or running task for (world, cx, cz), if any.
func (q QueueFacade) Cancel(world string, cx, cz int32) bool {
	return q.c.queue.Cancel(chunkpos.Chunk{World: world, X: cx, Z: cz})
}

// NextTask blocks a worker goroutine for the next runnable task.
func (q QueueFacade) NextTask() (*queue.Task, error) {
	return q.c.queue.NextTask()
}

// CompleteTask reports a task's outcome back to the queue.
func (q QueueFacade) CompleteTask(t *queue.Task, success bool, err error) {
	q.c.queue.CompleteTask(t, success, err)
}

// GovernorFacade is the collaborator-facing view of the governor.
type GovernorFacade struct{ c *Core }

// SetMode updates the governor's adjustment mode.
func (g GovernorFacade) SetMode(mode governor.AdjustmentMode) {
	g.c.gov.SetMode(mode)
}

// EffectivePrefetchRadius derives the radius collaborators doing area
// prefetch should use.
func (g GovernorFacade) EffectivePrefetchRadius(requested int) int {
	return g.c.gov.EffectivePrefetchRadius(requested)
}

// AdjustNow forces an immediate governor adjustment cycle.
func (g GovernorFacade) AdjustNow() {
	g.c.gov.AdjustNow()
}
