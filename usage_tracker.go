package vsched

import (
	"github.com/cockroachdb/errors"
)

// ResourceList is the set of resources gathered during one recording
type ResourceList struct {
	resources []*Resource
}

func (l *ResourceList) Add(resource *Resource) {
	l.resources = append(l.resources, resource)
}

func (l *ResourceList) Len() int {
	return len(l.resources)
}

func (l *ResourceList) Resources() []*Resource {
	return l.resources
}

// Clear empties the list without releasing its storage
func (l *ResourceList) Clear() {
	for i := range l.resources {
		l.resources[i] = nil
	}
	l.resources = l.resources[:0]
}

// UsageTracker records which resources an open recording refers to. A resource is recorded once per
// recording no matter how many commands use it, and its command buffer count is raised until the
// recording is closed.
//
// UsageTracker is not synchronized: Recording guards it.
type UsageTracker struct {
	generation uint64
	open       bool
	list       ResourceList
}

// Open begins tracking for a new recording. generation must be unique for every recording made by the
// same scheduler and must never be 0.
func (t *UsageTracker) Open(generation uint64) {
	t.generation = generation
	t.open = true
	t.list.Clear()
}

func (t *UsageTracker) IsOpen() bool {
	return t.open
}

// AddResource adds a resource to the tracker. It returns true if the resource was added and false if
// it was already tracked by this recording. Calling AddResource on a closed tracker is a no-op that
// returns false.
func (t *UsageTracker) AddResource(resource *Resource) bool {
	if !t.open {
		return false
	}

	if resource.trackedRecording.Swap(t.generation) == t.generation {
		return false
	}

	resource.commandBufferCount.Add(1)
	t.list.Add(resource)
	return true
}

func (t *UsageTracker) Len() int {
	return t.list.Len()
}

// Close stops tracking and stamps every tracked resource with the submission that carries the
// recording to the GPU. The command buffer count taken by AddResource is released.
func (t *UsageTracker) Close(submitIndex uint64) {
	for _, resource := range t.list.Resources() {
		resource.lastUsedSubmit.Store(submitIndex)
		resource.commandBufferCount.Add(-1)
	}

	t.list.Clear()
	t.open = false
}

// Abandon stops tracking without stamping any resource. It is used when the recording will never
// reach the GPU.
func (t *UsageTracker) Abandon() {
	for _, resource := range t.list.Resources() {
		resource.commandBufferCount.Add(-1)
	}

	t.list.Clear()
	t.open = false
}

func (t *UsageTracker) Validate() error {
	for _, resource := range t.list.Resources() {
		if resource.trackedRecording.Load() != t.generation {
			return errors.Newf("resource %s is in the tracker for recording %d but is stamped with recording %d",
				resource.name, t.generation, resource.trackedRecording.Load())
		}

		if resource.commandBufferCount.Load() <= 0 {
			return errors.Newf("resource %s is tracked but has a command buffer count of %d",
				resource.name, resource.commandBufferCount.Load())
		}
	}

	return nil
}
