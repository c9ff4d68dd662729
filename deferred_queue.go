package vsched

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
	"golang.org/x/exp/slog"
)

// DeferredQueue holds resources that have been destroyed by their owner but may still be in use by
// the GPU. Newly destroyed resources go into the current pending bucket. At each frame boundary the
// pending bucket is swapped out and its resources become candidates in the delete bucket, where
// Reconcile frees each one as soon as the submission that last used it has finished.
//
// Both pending and delete are double-buffered so that resources can be destroyed from other
// goroutines while a frame boundary or a reconcile pass is underway.
type DeferredQueue struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	pending    [2][]*Resource
	delete     [2][]*Resource
	curPending int
	curDelete  int

	freedCount uint64
}

func (q *DeferredQueue) Init(useMutex bool, logger *slog.Logger) {
	q.logger = logger
	q.mutex.UseMutex = useMutex
}

// Destroy queues a resource for destruction. No GPU object is released by this call.
func (q *DeferredQueue) Destroy(resource *Resource) error {
	err := resource.markPending()
	if err != nil {
		return err
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pending[q.curPending] = append(q.pending[q.curPending], resource)
	return nil
}

// BeginFrame swaps the pending buckets. Everything destroyed since the last frame boundary becomes
// a candidate for the next Reconcile.
func (q *DeferredQueue) BeginFrame() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	previous := q.curPending
	q.curPending = (q.curPending + 1) % 2

	q.delete[q.curDelete] = append(q.delete[q.curDelete], q.pending[previous]...)
	for i := range q.pending[previous] {
		q.pending[previous][i] = nil
	}
	q.pending[previous] = q.pending[previous][:0]
}

// Reconcile frees every delete candidate that is no longer referenced by an unsubmitted recording
// and whose last submission is at or before finishedSubmitCount. Candidates that are not yet safe
// stay queued for a later pass. It returns the number of resources freed, along with any errors
// returned by their destroyers.
func (q *DeferredQueue) Reconcile(finishedSubmitCount uint64) (int, error) {
	q.mutex.Lock()
	candidates := q.delete[q.curDelete]
	q.delete[q.curDelete] = nil
	q.curDelete = (q.curDelete + 1) % 2
	q.mutex.Unlock()

	if len(candidates) == 0 {
		return 0, nil
	}

	var err error
	freed := 0
	kept := candidates[:0]
	for _, resource := range candidates {
		if !resource.isSafeToFree(finishedSubmitCount) {
			kept = append(kept, resource)
			continue
		}

		err = errors.CombineErrors(err, resource.free())
		freed++
	}
	for i := len(kept); i < len(candidates); i++ {
		candidates[i] = nil
	}

	q.mutex.Lock()
	q.delete[q.curDelete] = append(q.delete[q.curDelete], kept...)
	q.freedCount += uint64(freed)
	q.mutex.Unlock()

	if freed > 0 {
		q.logger.Debug("DeferredQueue::Reconcile", slog.Int("Freed", freed), slog.Int("Kept", len(kept)), slog.Uint64("FinishedSubmitCount", finishedSubmitCount))
	}

	return freed, err
}

// ForceFree frees every queued resource regardless of GPU progress. It is only safe once the device
// is idle or lost.
func (q *DeferredQueue) ForceFree() error {
	q.mutex.Lock()
	var all []*Resource
	for i := 0; i < 2; i++ {
		all = append(all, q.pending[i]...)
		all = append(all, q.delete[i]...)
		q.pending[i] = nil
		q.delete[i] = nil
	}
	q.freedCount += uint64(len(all))
	q.mutex.Unlock()

	if len(all) > 0 {
		q.logger.Warn("DeferredQueue::ForceFree", slog.Int("Count", len(all)))
	}

	var err error
	for _, resource := range all {
		err = errors.CombineErrors(err, resource.free())
	}

	return err
}

// PendingCount returns the number of resources destroyed since the last frame boundary
func (q *DeferredQueue) PendingCount() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.pending[0]) + len(q.pending[1])
}

// DeleteCount returns the number of resources waiting on the GPU before they can be freed
func (q *DeferredQueue) DeleteCount() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.delete[0]) + len(q.delete[1])
}

// FreedCount returns the number of resources this queue has freed over its lifetime
func (q *DeferredQueue) FreedCount() uint64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.freedCount
}

func (q *DeferredQueue) Validate() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	seen := swiss.NewMap[*Resource, struct{}](42)
	check := func(bucket []*Resource, name string) error {
		for _, resource := range bucket {
			if seen.Has(resource) {
				return errors.Newf("resource %s appears in the deferred queue more than once", resource.name)
			}
			seen.Put(resource, struct{}{})

			if resourceState(resource.state.Load()) != resourcePendingDestroy {
				return errors.Newf("resource %s is in the %s bucket with state %s", resource.name, name, resourceState(resource.state.Load()))
			}
		}
		return nil
	}

	for i := 0; i < 2; i++ {
		if err := check(q.pending[i], "pending"); err != nil {
			return err
		}
		if err := check(q.delete[i], "delete"); err != nil {
			return err
		}
	}

	return nil
}
