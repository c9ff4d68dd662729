package vsched

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

type resourceState int32

const (
	resourceLive resourceState = iota
	resourcePendingDestroy
	resourceFreed
)

var resourceStateMapping = make(map[resourceState]string)

func (s resourceState) String() string {
	return resourceStateMapping[s]
}

func init() {
	resourceStateMapping[resourceLive] = "resourceLive"
	resourceStateMapping[resourcePendingDestroy] = "resourcePendingDestroy"
	resourceStateMapping[resourceFreed] = "resourceFreed"
}

// Resource is the lifetime record for a GPU object whose commands go through the scheduler. Buffers,
// textures, framebuffers and other GPU objects embed a Resource, call Init when they are created,
// and pass it to Recording.TrackResource whenever a recorded command refers to them.
//
// A Resource is never physically destroyed while a submission that used it may still be executing
// on the GPU, or while a recording that refers to it has not yet been submitted.
type Resource struct {
	kind      ResourceKind
	name      string
	handle    any
	destroyer Destroyer

	lastUsedSubmit     atomic.Uint64
	commandBufferCount atomic.Int32
	trackedRecording   atomic.Uint64
	state              atomic.Int32
}

// NewResource creates a standalone Resource
func NewResource(kind ResourceKind, name string, handle any, destroyer Destroyer) *Resource {
	r := &Resource{}
	r.Init(kind, name, handle, destroyer)
	return r
}

// Init prepares a Resource for use. handle is the underlying API object, which is passed through to
// the CommandBuffer when barriers are emitted. destroyer is called exactly once, when the resource is
// safe to free after MarkForDestruction.
func (r *Resource) Init(kind ResourceKind, name string, handle any, destroyer Destroyer) {
	r.kind = kind
	r.name = name
	r.handle = handle
	r.destroyer = destroyer

	r.lastUsedSubmit.Store(0)
	r.commandBufferCount.Store(0)
	r.trackedRecording.Store(0)
	r.state.Store(int32(resourceLive))
}

func (r *Resource) Kind() ResourceKind {
	return r.kind
}

func (r *Resource) Name() string {
	return r.name
}

// Handle returns the API object this resource was initialized with
func (r *Resource) Handle() any {
	return r.handle
}

// LastUsedSubmit returns the index of the most recent submission that used this resource, or 0
// if it has never been submitted
func (r *Resource) LastUsedSubmit() uint64 {
	return r.lastUsedSubmit.Load()
}

// CommandBufferCount returns the number of open recordings that refer to this resource
func (r *Resource) CommandBufferCount() int {
	return int(r.commandBufferCount.Load())
}

// IsDestroyed returns true once the resource has been marked for destruction
func (r *Resource) IsDestroyed() bool {
	return resourceState(r.state.Load()) != resourceLive
}

// IsFreed returns true once the destroyer has been called
func (r *Resource) IsFreed() bool {
	return resourceState(r.state.Load()) == resourceFreed
}

func (r *Resource) isSafeToFree(finishedSubmitCount uint64) bool {
	return r.commandBufferCount.Load() == 0 && r.lastUsedSubmit.Load() <= finishedSubmitCount
}

func (r *Resource) markPending() error {
	if !r.state.CompareAndSwap(int32(resourceLive), int32(resourcePendingDestroy)) {
		return errors.Mark(errors.Newf("resource %s (%s) was destroyed twice", r.name, r.kind), ErrAlreadyDestroyed)
	}

	return nil
}

func (r *Resource) free() error {
	if resourceState(r.state.Swap(int32(resourceFreed))) == resourceFreed {
		return nil
	}

	if r.destroyer == nil {
		return nil
	}

	err := r.destroyer.Destroy()
	if err != nil {
		return errors.Wrapf(err, "failed to destroy %s (%s)", r.name, r.kind)
	}

	return nil
}
