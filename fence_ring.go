package vsched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
	"golang.org/x/exp/slog"
)

const (
	// DelayFrames is the number of frames the CPU may run ahead of the GPU
	DelayFrames int = 3
	// ExpectedFrameFlushes is the number of submissions a typical frame makes
	ExpectedFrameFlushes int = 10
	// DefaultMaxInFlightSubmits is the size of the fence ring when CreateOptions does not specify one
	DefaultMaxInFlightSubmits int = DelayFrames * ExpectedFrameFlushes
	// DefaultFenceTimeout is the longest a single fence wait blocks before ErrTimeout is returned
	DefaultFenceTimeout time.Duration = 10 * time.Second
)

// SubmitSlot is one entry in the ring of in-flight submissions. A slot is only reused once its fence
// has been observed signaled. The fence stays signaled after retirement and is reset when the slot is
// next acquired.
type SubmitSlot struct {
	// SubmitIndex is the index assigned to the submission occupying this slot
	SubmitIndex      uint64
	ResourceCommands CommandBuffer
	RenderCommands   CommandBuffer
	Fence            Fence

	signal     Semaphore
	pair       *commandBufferPair
	needsReset bool
}

// commandBufferPair is the resource and render command buffer for one recording. Pairs are handed
// to a slot at submission and go back to the free list when the slot retires.
type commandBufferPair struct {
	resource CommandBuffer
	render   CommandBuffer
	used     bool
}

// fenceRing is the bounded ring of in-flight submissions. Submissions enter at the tail in submit
// order and retire from the head in the same order, so the finished submit count only ever advances
// over a contiguous run of signaled fences.
type fenceRing struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex
	device Device

	fenceTimeout time.Duration

	slots []SubmitSlot
	head  int
	count int

	submitCount uint64
	finished    atomic.Uint64

	freePairs []*commandBufferPair
	pairCount int
}

func (r *fenceRing) Init(useMutex bool, logger *slog.Logger, device Device, maxInFlightSubmits int, fenceTimeout time.Duration) {
	r.logger = logger
	r.mutex.UseMutex = useMutex
	r.device = device
	r.fenceTimeout = fenceTimeout
	r.slots = make([]SubmitSlot, maxInFlightSubmits)
}

// SubmitCount returns the index of the most recent submission
func (r *fenceRing) SubmitCount() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.submitCount
}

// FinishedSubmitCount returns the index of the newest submission for which it and every earlier
// submission are known to have finished
func (r *fenceRing) FinishedSubmitCount() uint64 {
	return r.finished.Load()
}

// InFlight returns the number of submissions that have not yet been retired
func (r *fenceRing) InFlight() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.count
}

func (r *fenceRing) retireHeadLocked() {
	slot := &r.slots[r.head]

	r.finished.Store(slot.SubmitIndex)
	slot.needsReset = true
	if slot.pair != nil {
		r.freePairs = append(r.freePairs, slot.pair)
	}
	slot.pair = nil
	slot.ResourceCommands = nil
	slot.RenderCommands = nil

	r.head = (r.head + 1) % len(r.slots)
	r.count--
}

// pollLocked retires slots from oldest to newest until it finds one whose fence is not yet signaled
func (r *fenceRing) pollLocked() error {
	for r.count > 0 {
		slot := &r.slots[r.head]

		signaled, err := slot.Fence.IsSignaled()
		if err != nil {
			return classifyWaitError(err, "failed to query fence for submit %d", slot.SubmitIndex)
		}

		if !signaled {
			return nil
		}

		r.retireHeadLocked()
	}

	return nil
}

// Poll retires every finished submission without blocking and returns the finished submit count
func (r *fenceRing) Poll() (uint64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.pollLocked()
	return r.finished.Load(), err
}

// TryPoll behaves like Poll, but does nothing if another goroutine is already using the ring
func (r *fenceRing) TryPoll() (uint64, error) {
	if !r.mutex.TryLock() {
		return r.finished.Load(), nil
	}
	defer r.mutex.Unlock()

	err := r.pollLocked()
	return r.finished.Load(), err
}

// WaitFor blocks until the submission with the provided index has finished. Each fence wait is
// bounded by timeout: if it passes, ErrTimeout is returned.
func (r *fenceRing) WaitFor(ctx context.Context, submitIndex uint64, timeout time.Duration) error {
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}

		r.mutex.Lock()
		err = r.pollLocked()
		if err != nil {
			r.mutex.Unlock()
			return err
		}

		if r.count == 0 || r.finished.Load() >= submitIndex {
			r.mutex.Unlock()
			return nil
		}

		fence := r.slots[r.head].Fence
		oldestIndex := r.slots[r.head].SubmitIndex
		r.mutex.Unlock()

		signaled, err := fence.Wait(timeout)
		if err != nil {
			return classifyWaitError(err, "failed to wait for submit %d", oldestIndex)
		}

		r.mutex.Lock()
		if r.finished.Load() >= oldestIndex {
			// Another caller retired the submission while this one was waiting on its fence
			r.mutex.Unlock()
			continue
		}

		if !signaled {
			r.mutex.Unlock()
			return errors.Mark(errors.Newf("submit %d did not finish within %s", oldestIndex, timeout), ErrTimeout)
		}

		r.retireHeadLocked()
		r.mutex.Unlock()
	}
}

// acquire returns the slot the next submission will occupy, waiting on the oldest in-flight
// submission if the ring is full. The slot is not part of the ring until commit is called with it.
func (r *fenceRing) acquire(ctx context.Context, needsSignal bool) (*SubmitSlot, error) {
	r.mutex.Lock()
	err := r.pollLocked()
	if err != nil {
		r.mutex.Unlock()
		return nil, err
	}

	for r.count == len(r.slots) {
		oldestIndex := r.slots[r.head].SubmitIndex
		r.mutex.Unlock()

		r.logger.Debug("    fenceRing::acquire waiting on full ring", slog.Uint64("OldestSubmit", oldestIndex))
		err = r.WaitFor(ctx, oldestIndex, r.fenceTimeout)
		if err != nil {
			return nil, err
		}

		r.mutex.Lock()
	}
	defer r.mutex.Unlock()

	slot := &r.slots[(r.head+r.count)%len(r.slots)]
	if slot.Fence == nil {
		slot.Fence, err = r.device.CreateFence()
		if err != nil {
			slot.Fence = nil
			return nil, errors.Wrap(err, "failed to create submit fence")
		}
	} else if slot.needsReset {
		err = slot.Fence.Reset()
		if err != nil {
			return nil, classifyWaitError(err, "failed to reset fence for submit %d", slot.SubmitIndex)
		}
		slot.needsReset = false
	}

	if needsSignal && slot.signal == nil {
		slot.signal, err = r.device.CreateSemaphore()
		if err != nil {
			slot.signal = nil
			return nil, errors.Wrap(err, "failed to create submit semaphore")
		}
	}

	return slot, nil
}

// commit places a slot returned by acquire into the ring and assigns its submit index
func (r *fenceRing) commit(slot *SubmitSlot, pair *commandBufferPair) uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.submitCount++
	slot.SubmitIndex = r.submitCount
	slot.pair = pair
	slot.ResourceCommands = pair.resource
	slot.RenderCommands = pair.render
	r.count++

	utils.DebugValidate(r)
	return r.submitCount
}

// takePair returns a command buffer pair that no in-flight submission is using, creating a new one
// if every existing pair is in flight
func (r *fenceRing) takePair() (*commandBufferPair, error) {
	r.mutex.Lock()
	if len(r.freePairs) > 0 {
		pair := r.freePairs[len(r.freePairs)-1]
		r.freePairs[len(r.freePairs)-1] = nil
		r.freePairs = r.freePairs[:len(r.freePairs)-1]
		r.mutex.Unlock()
		return pair, nil
	}
	r.mutex.Unlock()

	resource, err := r.device.CreateCommandBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource command buffer")
	}

	render, err := r.device.CreateCommandBuffer()
	if err != nil {
		resource.Destroy()
		return nil, errors.Wrap(err, "failed to create render command buffer")
	}

	r.mutex.Lock()
	r.pairCount++
	r.mutex.Unlock()

	return &commandBufferPair{resource: resource, render: render}, nil
}

// returnPair gives back a pair that was taken but never submitted
func (r *fenceRing) returnPair(pair *commandBufferPair) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.freePairs = append(r.freePairs, pair)
}

// PairCount returns the number of command buffer pairs the ring has created
func (r *fenceRing) PairCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.pairCount
}

// Destroy releases every fence, semaphore and command buffer the ring owns. The GPU must be idle.
func (r *fenceRing) Destroy() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.slots {
		slot := &r.slots[i]
		if slot.pair != nil {
			r.freePairs = append(r.freePairs, slot.pair)
			slot.pair = nil
		}
		if slot.Fence != nil {
			slot.Fence.Destroy()
			slot.Fence = nil
		}
		slot.needsReset = false
		if slot.signal != nil {
			slot.signal.Destroy()
			slot.signal = nil
		}
		slot.ResourceCommands = nil
		slot.RenderCommands = nil
	}

	for _, pair := range r.freePairs {
		pair.resource.Destroy()
		pair.render.Destroy()
	}
	r.freePairs = nil
	r.pairCount = 0
	r.head = 0
	r.count = 0
}

func (r *fenceRing) Validate() error {
	if r.count > len(r.slots) {
		return errors.Newf("fence ring holds %d submits but only has %d slots", r.count, len(r.slots))
	}

	finished := r.finished.Load()
	if finished > r.submitCount {
		return errors.Newf("finished submit count %d is ahead of submit count %d", finished, r.submitCount)
	}

	previous := finished
	for i := 0; i < r.count; i++ {
		slot := &r.slots[(r.head+i)%len(r.slots)]
		if slot.SubmitIndex <= previous {
			return errors.Newf("in-flight submit %d is not after submit %d", slot.SubmitIndex, previous)
		}
		if slot.pair == nil {
			return errors.Newf("in-flight submit %d has no command buffers", slot.SubmitIndex)
		}
		previous = slot.SubmitIndex
	}

	if r.count > 0 && previous != r.submitCount {
		return errors.Newf("newest in-flight submit is %d but submit count is %d", previous, r.submitCount)
	}

	return nil
}

func (r *fenceRing) BuildStatsString(json *jwriter.ObjectState) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	json.Name("SubmitCount").Int(int(r.submitCount))
	json.Name("FinishedSubmitCount").Int(int(r.finished.Load()))
	json.Name("MaxInFlightSubmits").Int(len(r.slots))
	json.Name("CommandBufferPairs").Int(r.pairCount)

	arrayState := json.Name("InFlight").Array()
	defer arrayState.End()

	for i := 0; i < r.count; i++ {
		slot := &r.slots[(r.head+i)%len(r.slots)]

		obj := arrayState.Object()
		obj.Name("SubmitIndex").Int(int(slot.SubmitIndex))
		obj.Name("Slot").Int((r.head + i) % len(r.slots))
		obj.Name("HasSignalSemaphore").Bool(slot.signal != nil)
		obj.End()
	}
}
