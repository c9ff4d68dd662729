package vsched_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
	mock_vsched "github.com/vkngwrapper/arsenal/vsched/mocks"
	"go.uber.org/mock/gomock"
)

func newDeferredQueue() *vsched.DeferredQueue {
	queue := &vsched.DeferredQueue{}
	queue.Init(true, testLogger())
	return queue
}

func TestDeferredQueue_FreesUnusedResourceAtNextFrame(t *testing.T) {
	queue := newDeferredQueue()
	buffer := newTrackedBuffer("buffer")

	require.NoError(t, queue.Destroy(&buffer.Resource))
	require.True(t, buffer.IsDestroyed())
	require.False(t, buffer.IsFreed())
	require.Equal(t, 1, queue.PendingCount())

	freed, err := queue.Reconcile(0)
	require.NoError(t, err)
	require.Equal(t, 0, freed)
	require.Equal(t, 0, buffer.destroyCount)

	queue.BeginFrame()
	require.Equal(t, 0, queue.PendingCount())
	require.Equal(t, 1, queue.DeleteCount())

	freed, err = queue.Reconcile(0)
	require.NoError(t, err)
	require.Equal(t, 1, freed)
	require.Equal(t, 1, buffer.destroyCount)
	require.True(t, buffer.IsFreed())
	require.Equal(t, uint64(1), queue.FreedCount())
	require.NoError(t, queue.Validate())
}

func TestDeferredQueue_WaitsForLastUsedSubmit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	destroyer := mock_vsched.NewMockDestroyer(ctrl)
	resource := vsched.NewResource(vsched.ResourceKindTexture, "texture", nil, destroyer)

	var tracker vsched.UsageTracker
	tracker.Open(1)
	tracker.AddResource(resource)
	tracker.Close(3)

	queue := newDeferredQueue()
	require.NoError(t, queue.Destroy(resource))
	queue.BeginFrame()

	for finished := uint64(0); finished < 3; finished++ {
		freed, err := queue.Reconcile(finished)
		require.NoError(t, err)
		require.Equal(t, 0, freed)
		require.False(t, resource.IsFreed())
		require.Equal(t, 1, queue.DeleteCount())
	}

	destroyer.EXPECT().Destroy().Return(nil)

	freed, err := queue.Reconcile(3)
	require.NoError(t, err)
	require.Equal(t, 1, freed)
	require.True(t, resource.IsFreed())
	require.Equal(t, 0, queue.DeleteCount())

	// Nothing left to free
	freed, err = queue.Reconcile(10)
	require.NoError(t, err)
	require.Equal(t, 0, freed)
}

func TestDeferredQueue_KeepsResourcesInOpenRecordings(t *testing.T) {
	queue := newDeferredQueue()
	buffer := newTrackedBuffer("buffer")

	var tracker vsched.UsageTracker
	tracker.Open(7)
	tracker.AddResource(&buffer.Resource)

	require.NoError(t, queue.Destroy(&buffer.Resource))
	queue.BeginFrame()

	freed, err := queue.Reconcile(100)
	require.NoError(t, err)
	require.Equal(t, 0, freed)
	require.Equal(t, 0, buffer.destroyCount)

	tracker.Abandon()

	freed, err = queue.Reconcile(100)
	require.NoError(t, err)
	require.Equal(t, 1, freed)
	require.Equal(t, 1, buffer.destroyCount)
}

func TestDeferredQueue_DestroyTwice(t *testing.T) {
	queue := newDeferredQueue()
	buffer := newTrackedBuffer("buffer")

	require.NoError(t, queue.Destroy(&buffer.Resource))
	err := queue.Destroy(&buffer.Resource)
	require.Error(t, err)
	require.True(t, errors.Is(err, vsched.ErrAlreadyDestroyed))
	require.Equal(t, 1, queue.PendingCount())
	require.NoError(t, queue.Validate())
}

func TestDeferredQueue_ForceFree(t *testing.T) {
	queue := newDeferredQueue()

	var tracker vsched.UsageTracker
	tracker.Open(1)

	inDelete := newTrackedBuffer("in-delete")
	tracker.AddResource(&inDelete.Resource)
	tracker.Close(50)
	require.NoError(t, queue.Destroy(&inDelete.Resource))
	queue.BeginFrame()

	inPending := newTrackedBuffer("in-pending")
	require.NoError(t, queue.Destroy(&inPending.Resource))

	require.Equal(t, 1, queue.PendingCount())
	require.Equal(t, 1, queue.DeleteCount())

	require.NoError(t, queue.ForceFree())
	require.Equal(t, 1, inDelete.destroyCount)
	require.Equal(t, 1, inPending.destroyCount)
	require.Equal(t, 0, queue.PendingCount())
	require.Equal(t, 0, queue.DeleteCount())

	// Freed resources are never freed again
	require.NoError(t, queue.ForceFree())
	require.Equal(t, 1, inDelete.destroyCount)
}

func TestDeferredQueue_DestroyerErrorsAreReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	first := mock_vsched.NewMockDestroyer(ctrl)
	first.EXPECT().Destroy().Return(errors.New("first failure"))
	second := mock_vsched.NewMockDestroyer(ctrl)
	second.EXPECT().Destroy().Return(nil)

	queue := newDeferredQueue()
	require.NoError(t, queue.Destroy(vsched.NewResource(vsched.ResourceKindBuffer, "first", nil, first)))
	require.NoError(t, queue.Destroy(vsched.NewResource(vsched.ResourceKindBuffer, "second", nil, second)))
	queue.BeginFrame()

	freed, err := queue.Reconcile(0)
	require.Error(t, err)
	require.ErrorContains(t, err, "first failure")
	require.Equal(t, 2, freed)
}
