// Package vsched pipelines GPU command submission across several frames while guaranteeing that no
// resource is mutated or freed while the GPU may still be using it.
package vsched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
	"github.com/vkngwrapper/arsenal/vsched/lifetime"
	"golang.org/x/exp/slog"
)

// Scheduler owns the submission pipeline for one device queue. It hands out recordings, submits them
// into a bounded ring of in-flight submissions, and frees destroyed resources once the GPU has
// finished every submission that used them.
//
// If the device is lost or a submission fails, the scheduler is poisoned: every queued resource is
// freed immediately, and every later call returns the error that poisoned it.
type Scheduler struct {
	useMutex bool
	logger   *slog.Logger
	device   Device
	queue    Queue

	createFlags     CreateFlags
	fenceTimeout    time.Duration
	barrierLookback int

	ring     fenceRing
	deferred DeferredQueue
	contexts ResourceContextPool

	recordingMutex      utils.OptionalMutex
	recording           *Recording
	recordingGeneration uint64
	lastSignal          Semaphore

	frameNumber atomic.Uint64
	vsync       atomic.Bool

	surfacesMutex utils.OptionalMutex
	surfaces      *swiss.Map[uint64, *RenderSurface]
	nextSurfaceID uint64

	renderPasses lifetime.Arena[*RenderPassData]

	poisonErr atomic.Pointer[error]
}

// Poisoned returns the error that poisoned the scheduler, or nil if it is still usable
func (s *Scheduler) Poisoned() error {
	err := s.poisonErr.Load()
	if err == nil {
		return nil
	}

	return *err
}

// poison marks the scheduler unusable and frees every queued resource. If the scheduler was
// already poisoned, the original error is kept. The poisoning error is returned.
func (s *Scheduler) poison(err error) error {
	if !s.poisonErr.CompareAndSwap(nil, &err) {
		return s.Poisoned()
	}

	s.logger.Error("scheduler poisoned", slog.Any("error", err))

	freeErr := s.deferred.ForceFree()
	if freeErr != nil {
		s.logger.Error("error attempting to free resources after the scheduler was poisoned", slog.Any("error", freeErr))
	}

	return err
}

// checkFatal poisons the scheduler if the error is a device loss or submission failure
func (s *Scheduler) checkFatal(err error) error {
	if isFatal(err) {
		return s.poison(err)
	}

	return err
}

// Logger returns the logger the scheduler was created with
func (s *Scheduler) Logger() *slog.Logger {
	return s.logger
}

// ResourceContexts returns the pool that resource goroutines acquire their contexts from
func (s *Scheduler) ResourceContexts() *ResourceContextPool {
	return &s.contexts
}

// FrameNumber returns the number of frames that have ended
func (s *Scheduler) FrameNumber() uint64 {
	return s.frameNumber.Load()
}

// FinishedSubmitCount returns the index of the newest submission that is known to have finished
// along with every submission before it
func (s *Scheduler) FinishedSubmitCount() uint64 {
	return s.ring.FinishedSubmitCount()
}

// SubmitCount returns the index of the most recent submission
func (s *Scheduler) SubmitCount() uint64 {
	return s.ring.SubmitCount()
}

// SetVSync changes whether render surfaces present with vsync. Surfaces pick up the change the
// next time they are updated or drawn to.
func (s *Scheduler) SetVSync(vsync bool) {
	s.logger.Debug("Scheduler::SetVSync")
	s.vsync.Store(vsync)
}

// VSync returns whether render surfaces present with vsync
func (s *Scheduler) VSync() bool {
	return s.vsync.Load()
}

func (s *Scheduler) prepareLocked() (*Recording, error) {
	pair, err := s.ring.takePair()
	if err != nil {
		return nil, err
	}

	if pair.used {
		err = pair.resource.Reset()
		if err == nil {
			err = pair.render.Reset()
		}
		if err != nil {
			s.ring.returnPair(pair)
			return nil, errors.Wrap(err, "failed to reset command buffers")
		}
	}
	pair.used = true

	err = pair.resource.Begin()
	if err == nil {
		err = pair.render.Begin()
	}
	if err != nil {
		s.ring.returnPair(pair)
		return nil, errors.Wrap(err, "failed to begin command buffers")
	}

	s.recordingGeneration++
	recording := &Recording{}
	recording.init(s, s.recordingGeneration, pair)
	s.recording = recording

	return recording, nil
}

// PrepareCommandBuffer returns the recording for the current frame, beginning one if none is open.
// The recording remains valid until the next Submit.
func (s *Scheduler) PrepareCommandBuffer() (*Recording, error) {
	s.logger.Debug("Scheduler::PrepareCommandBuffer")

	err := s.Poisoned()
	if err != nil {
		return nil, err
	}

	s.recordingMutex.Lock()
	defer s.recordingMutex.Unlock()

	if s.recording != nil {
		if s.recording.ended {
			return nil, errors.Mark(errors.Newf("recording %d is waiting to be resubmitted", s.recording.generation), ErrNotRecording)
		}
		return s.recording, nil
	}

	recording, err := s.prepareLocked()
	if err != nil {
		return nil, s.checkFatal(err)
	}

	return recording, nil
}

// RecordResourceCommands calls the callback with the resource command buffer of the current recording,
// beginning a recording if none is open. Submission is held off until the callback returns, so the
// callback must not call Submit, SwapBuffers, PrepareCommandBuffer, RecordResourceCommands or
// LastSignalSemaphore: it would deadlock. The resource context must be held by the calling goroutine.
func (s *Scheduler) RecordResourceCommands(resourceContext *ResourceContext, callback func(commands CommandBuffer, recording *Recording) error) error {
	s.logger.Debug("Scheduler::RecordResourceCommands")

	if !resourceContext.Valid() {
		return errors.Mark(errors.New("resource commands were recorded without a valid resource context"), ErrNoResourceContext)
	}

	err := s.Poisoned()
	if err != nil {
		return err
	}

	s.recordingMutex.Lock()
	defer s.recordingMutex.Unlock()

	recording := s.recording
	if recording == nil {
		recording, err = s.prepareLocked()
		if err != nil {
			return s.checkFatal(err)
		}
	} else if recording.ended {
		return errors.Mark(errors.Newf("recording %d is waiting to be resubmitted", recording.generation), ErrNotRecording)
	}

	return callback(recording.pair.resource, recording)
}

// Submit ends the current recording and submits it to the queue, returning its submit index. If no
// recording is open, an empty one is submitted. If the ring of in-flight submissions is full, Submit
// blocks until the oldest submission finishes.
//
// If the submission fails with ErrOutOfMemory or ErrTimeout, the recording is kept and Submit may be
// called again to retry it.
func (s *Scheduler) Submit(ctx context.Context) (uint64, error) {
	s.logger.Debug("Scheduler::Submit")

	index, _, err := s.submit(ctx, false)
	return index, err
}

func (s *Scheduler) submit(ctx context.Context, signal bool) (uint64, Semaphore, error) {
	err := s.Poisoned()
	if err != nil {
		return 0, nil, err
	}

	s.recordingMutex.Lock()
	defer s.recordingMutex.Unlock()

	recording := s.recording
	if recording == nil {
		recording, err = s.prepareLocked()
		if err != nil {
			return 0, nil, s.checkFatal(err)
		}
	}

	slot, err := s.ring.acquire(ctx, signal)
	if err != nil {
		return 0, nil, s.checkFatal(err)
	}

	recording.mutex.Lock()
	defer recording.mutex.Unlock()

	if !recording.ended {
		utils.DebugValidate(&recording.tracker)

		err = recording.endLocked()
		if err != nil {
			recording.abandonLocked()
			s.recording = nil
			return 0, nil, s.poison(errors.Mark(err, ErrSubmissionFailed))
		}
		recording.ended = true
	}

	var signalSemaphore Semaphore
	if signal {
		signalSemaphore = slot.signal
	}

	batch := recording.submitBatchLocked(signalSemaphore)
	err = s.queue.Submit([]SubmitBatch{batch}, slot.Fence)
	if err != nil {
		err = classifySubmitError(err, "failed to submit recording %d", recording.generation)
		if isFatal(err) {
			recording.abandonLocked()
			s.recording = nil
			return 0, nil, s.poison(err)
		}

		s.logger.Warn("submission will be retried", slog.Uint64("Recording", recording.generation), slog.Any("error", err))
		return 0, nil, err
	}

	index := s.ring.commit(slot, recording.pair)
	recording.tracker.Close(index)
	recording.closed = true
	s.recording = nil
	if signalSemaphore != nil {
		s.lastSignal = signalSemaphore
	}

	s.logger.Debug("    Submitted", slog.Uint64("SubmitIndex", index), slog.Uint64("Recording", recording.generation))
	return index, signalSemaphore, nil
}

// LastSignalSemaphore returns the semaphore signaled by the most recent submission that was made
// for presentation
func (s *Scheduler) LastSignalSemaphore() Semaphore {
	s.recordingMutex.Lock()
	defer s.recordingMutex.Unlock()

	return s.lastSignal
}

// PollFinished checks in-flight submissions, oldest first, without blocking and returns the updated
// finished submit count. The count only advances over a contiguous run of finished submissions.
func (s *Scheduler) PollFinished() (uint64, error) {
	s.logger.Debug("Scheduler::PollFinished")

	err := s.Poisoned()
	if err != nil {
		return s.ring.FinishedSubmitCount(), err
	}

	finished, err := s.ring.Poll()
	if err != nil {
		return finished, s.checkFatal(err)
	}

	return finished, nil
}

// WaitForSubmit blocks until the submission with the provided index has finished. Each fence wait
// is bounded by timeout, or by CreateOptions.FenceTimeout if timeout is 0. WaitTimeout is returned
// without an error if a wait runs out of time.
func (s *Scheduler) WaitForSubmit(ctx context.Context, submitIndex uint64, timeout time.Duration) (WaitResult, error) {
	s.logger.Debug("Scheduler::WaitForSubmit", slog.Uint64("SubmitIndex", submitIndex))

	err := s.Poisoned()
	if err != nil {
		return WaitSuccess, err
	}

	if submitIndex > s.ring.SubmitCount() {
		return WaitSuccess, errors.Newf("submit %d has not been made yet: the most recent submit is %d", submitIndex, s.ring.SubmitCount())
	}

	if timeout <= 0 {
		timeout = s.fenceTimeout
	}

	err = s.ring.WaitFor(ctx, submitIndex, timeout)
	if errors.Is(err, ErrTimeout) {
		return WaitTimeout, nil
	}
	if err != nil {
		return WaitSuccess, s.checkFatal(err)
	}

	return WaitSuccess, nil
}

// WaitForIdle blocks until every submission made so far has finished
func (s *Scheduler) WaitForIdle(ctx context.Context) error {
	s.logger.Debug("Scheduler::WaitForIdle")

	err := s.Poisoned()
	if err != nil {
		return err
	}

	err = s.ring.WaitFor(ctx, s.ring.SubmitCount(), s.fenceTimeout)
	if err != nil {
		return s.checkFatal(err)
	}

	return nil
}

// MarkForDestruction queues a resource to be freed once the GPU has finished every submission that
// used it. The resource must not be used again.
func (s *Scheduler) MarkForDestruction(resource *Resource) error {
	s.logger.Debug("Scheduler::MarkForDestruction")

	err := s.Poisoned()
	if err != nil {
		return err
	}

	_, err = s.ring.TryPoll()
	if err != nil {
		return s.checkFatal(err)
	}

	return s.deferred.Destroy(resource)
}

// BeginFrame moves every resource destroyed during the previous frame into the delete queue and
// frees everything in the delete queue the GPU has finished with
func (s *Scheduler) BeginFrame() error {
	s.logger.Debug("Scheduler::BeginFrame")

	finished, err := s.PollFinished()
	if err != nil {
		return err
	}

	s.deferred.BeginFrame()

	_, err = s.deferred.Reconcile(finished)
	utils.DebugValidate(&s.deferred)
	return err
}

// EndFrame advances the frame number
func (s *Scheduler) EndFrame() error {
	s.logger.Debug("Scheduler::EndFrame")

	err := s.Poisoned()
	if err != nil {
		return err
	}

	s.frameNumber.Add(1)
	return nil
}

// Shutdown waits for the GPU to finish all submitted work, frees every queued resource and render
// surface, and destroys the objects the scheduler created. If the scheduler is poisoned or the wait
// fails, resources are freed without waiting.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.logger.Debug("Scheduler::Shutdown")

	var err error
	if s.Poisoned() == nil {
		waitErr := s.WaitForIdle(ctx)
		if waitErr != nil {
			s.logger.Warn("freeing resources without waiting for the GPU", slog.Any("error", waitErr))
			err = waitErr
		}
	}

	s.recordingMutex.Lock()
	if s.recording != nil {
		s.recording.mutex.Lock()
		s.recording.abandonLocked()
		s.recording.mutex.Unlock()
		s.ring.returnPair(s.recording.pair)
		s.recording = nil
	}
	s.lastSignal = nil
	s.recordingMutex.Unlock()

	s.surfacesMutex.Lock()
	var surfaces []*RenderSurface
	s.surfaces.Iter(func(id uint64, surface *RenderSurface) bool {
		surfaces = append(surfaces, surface)
		return false
	})
	s.surfacesMutex.Unlock()

	for _, surface := range surfaces {
		err = errors.CombineErrors(err, surface.destroy())
	}

	err = errors.CombineErrors(err, s.deferred.ForceFree())
	s.ring.Destroy()

	return err
}
