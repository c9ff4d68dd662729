package vsched

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
)

// Recording is the open pair of command buffers that the current frame is being recorded into. The
// resource command buffer receives copies and uploads, and is submitted ahead of the render command
// buffer. A Recording is valid from Scheduler.PrepareCommandBuffer until the next Scheduler.Submit.
type Recording struct {
	scheduler *Scheduler
	mutex     utils.OptionalMutex

	generation uint64
	pair       *commandBufferPair

	tracker          UsageTracker
	resourceBarriers BarrierBatch
	renderBarriers   BarrierBatch

	waitSemaphores []Semaphore
	waitStages     []PipelineStageFlags

	// ended is set once the command buffers have been ended but the queue has not yet
	// accepted them
	ended  bool
	closed bool
}

func (r *Recording) init(scheduler *Scheduler, generation uint64, pair *commandBufferPair) {
	r.scheduler = scheduler
	r.mutex.UseMutex = scheduler.useMutex
	r.generation = generation
	r.pair = pair
	r.tracker.Open(generation)
	r.resourceBarriers.Init(scheduler.barrierLookback)
	r.renderBarriers.Init(scheduler.barrierLookback)
}

// Generation identifies this recording among every recording made by its scheduler
func (r *Recording) Generation() uint64 {
	return r.generation
}

// RenderCommands returns the command buffer draws are recorded into
func (r *Recording) RenderCommands() CommandBuffer {
	return r.pair.render
}

// ResourceCommands returns the command buffer copies and uploads are recorded into
func (r *Recording) ResourceCommands() CommandBuffer {
	return r.pair.resource
}

// IsActive returns true until the recording has been submitted
func (r *Recording) IsActive() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return !r.ended && !r.closed
}

func (r *Recording) checkActiveLocked() error {
	err := r.scheduler.Poisoned()
	if err != nil {
		return err
	}

	if r.ended || r.closed {
		return errors.Mark(errors.Newf("recording %d has already been submitted", r.generation), ErrNotRecording)
	}

	return nil
}

func (r *Recording) trackLocked(resource *Resource) error {
	if resource.IsDestroyed() {
		return errors.Mark(errors.Newf("resource %s (%s) was used after it was destroyed", resource.name, resource.kind), ErrAlreadyDestroyed)
	}

	r.tracker.AddResource(resource)
	return nil
}

// TrackResource records that a command in this recording refers to the resource. Every resource a
// recorded command refers to must be tracked before the command is encoded, or it may be freed while
// the GPU is still using it. Tracking the same resource more than once in a recording has no further
// effect.
//
// If an error is returned, the command must not be encoded.
func (r *Recording) TrackResource(resource *Resource) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.checkActiveLocked()
	if err != nil {
		return err
	}

	return r.trackLocked(resource)
}

// WaitSemaphore makes the submission of this recording wait on the semaphore before the provided
// stages execute
func (r *Recording) WaitSemaphore(semaphore Semaphore, stages PipelineStageFlags) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.checkActiveLocked()
	if err != nil {
		return err
	}

	r.waitSemaphores = append(r.waitSemaphores, semaphore)
	r.waitStages = append(r.waitStages, stages)
	return nil
}

func (r *Recording) requestBufferBarrier(batch *BarrierBatch, srcStages, dstStages PipelineStageFlags, barrier BufferBarrier) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.checkActiveLocked()
	if err != nil {
		return err
	}

	if barrier.Resource != nil {
		err = r.trackLocked(barrier.Resource)
		if err != nil {
			return err
		}
	}

	return batch.RequestBufferBarrier(srcStages, dstStages, barrier)
}

func (r *Recording) requestImageBarrier(batch *BarrierBatch, srcStages, dstStages PipelineStageFlags, barrier ImageBarrier) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.checkActiveLocked()
	if err != nil {
		return err
	}

	if barrier.Resource != nil {
		err = r.trackLocked(barrier.Resource)
		if err != nil {
			return err
		}
	}

	return batch.RequestImageBarrier(srcStages, dstStages, barrier)
}

// RequestBufferBarrier queues a buffer barrier for the render command buffer. The barrier is emitted
// at the next FlushBarriers or at submission. The buffer is tracked by the recording.
func (r *Recording) RequestBufferBarrier(srcStages, dstStages PipelineStageFlags, barrier BufferBarrier) error {
	return r.requestBufferBarrier(&r.renderBarriers, srcStages, dstStages, barrier)
}

// RequestImageBarrier queues an image barrier for the render command buffer. The barrier is emitted
// at the next FlushBarriers or at submission. The image is tracked by the recording.
func (r *Recording) RequestImageBarrier(srcStages, dstStages PipelineStageFlags, barrier ImageBarrier) error {
	return r.requestImageBarrier(&r.renderBarriers, srcStages, dstStages, barrier)
}

// RequestResourceBufferBarrier queues a buffer barrier that is emitted at the end of the resource
// command buffer, ahead of every render command
func (r *Recording) RequestResourceBufferBarrier(srcStages, dstStages PipelineStageFlags, barrier BufferBarrier) error {
	return r.requestBufferBarrier(&r.resourceBarriers, srcStages, dstStages, barrier)
}

// RequestResourceImageBarrier queues an image barrier that is emitted at the end of the resource
// command buffer, ahead of every render command
func (r *Recording) RequestResourceImageBarrier(srcStages, dstStages PipelineStageFlags, barrier ImageBarrier) error {
	return r.requestImageBarrier(&r.resourceBarriers, srcStages, dstStages, barrier)
}

// FlushBarriers emits every queued render barrier into the render command buffer. It must be called
// before recording a command that depends on the barriers.
func (r *Recording) FlushBarriers() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.checkActiveLocked()
	if err != nil {
		return err
	}

	return r.renderBarriers.Flush(r.pair.render)
}

// PendingBarriers returns the number of barriers waiting to be emitted
func (r *Recording) PendingBarriers() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.resourceBarriers.Len() + r.renderBarriers.Len()
}

// TrackedResources returns the number of distinct resources the recording refers to
func (r *Recording) TrackedResources() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.tracker.Len()
}

// endLocked flushes both barrier batches and ends both command buffers
func (r *Recording) endLocked() error {
	err := r.resourceBarriers.Flush(r.pair.resource)
	if err != nil {
		return err
	}

	err = r.renderBarriers.Flush(r.pair.render)
	if err != nil {
		return err
	}

	err = r.pair.resource.End()
	if err != nil {
		return errors.Wrapf(err, "failed to end resource command buffer for recording %d", r.generation)
	}

	err = r.pair.render.End()
	if err != nil {
		return errors.Wrapf(err, "failed to end render command buffer for recording %d", r.generation)
	}

	return nil
}

func (r *Recording) submitBatchLocked(signal Semaphore) SubmitBatch {
	batch := SubmitBatch{
		CommandBuffers: []CommandBuffer{r.pair.resource, r.pair.render},
		WaitSemaphores: r.waitSemaphores,
		WaitStages:     r.waitStages,
	}

	if signal != nil {
		batch.SignalSemaphores = []Semaphore{signal}
	}

	return batch
}

// abandonLocked closes the recording without it ever reaching the GPU
func (r *Recording) abandonLocked() {
	r.tracker.Abandon()
	r.resourceBarriers.Clear()
	r.renderBarriers.Clear()
	r.closed = true
}
