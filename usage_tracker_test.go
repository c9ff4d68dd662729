package vsched_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
)

func TestUsageTracker_AddResourceIsIdempotent(t *testing.T) {
	resource := vsched.NewResource(vsched.ResourceKindBuffer, "buffer", nil, nil)

	var tracker vsched.UsageTracker
	tracker.Open(1)
	require.True(t, tracker.IsOpen())

	require.True(t, tracker.AddResource(resource))
	require.False(t, tracker.AddResource(resource))
	require.False(t, tracker.AddResource(resource))

	require.Equal(t, 1, tracker.Len())
	require.Equal(t, 1, resource.CommandBufferCount())
	require.NoError(t, tracker.Validate())
}

func TestUsageTracker_CloseStampsSubmitIndex(t *testing.T) {
	first := vsched.NewResource(vsched.ResourceKindBuffer, "first", nil, nil)
	second := vsched.NewResource(vsched.ResourceKindTexture, "second", nil, nil)

	var tracker vsched.UsageTracker
	tracker.Open(1)
	tracker.AddResource(first)
	tracker.AddResource(second)
	tracker.Close(4)

	require.False(t, tracker.IsOpen())
	require.Equal(t, 0, tracker.Len())
	require.Equal(t, uint64(4), first.LastUsedSubmit())
	require.Equal(t, uint64(4), second.LastUsedSubmit())
	require.Equal(t, 0, first.CommandBufferCount())

	// A later recording may track the same resource again
	tracker.Open(2)
	require.True(t, tracker.AddResource(first))
	tracker.Close(9)

	require.Equal(t, uint64(9), first.LastUsedSubmit())
	require.Equal(t, uint64(4), second.LastUsedSubmit())
}

func TestUsageTracker_SharedAcrossRecordings(t *testing.T) {
	resource := vsched.NewResource(vsched.ResourceKindBuffer, "buffer", nil, nil)

	var first, second vsched.UsageTracker
	first.Open(1)
	second.Open(2)

	require.True(t, first.AddResource(resource))
	require.True(t, second.AddResource(resource))
	require.Equal(t, 2, resource.CommandBufferCount())

	first.Close(1)
	require.Equal(t, 1, resource.CommandBufferCount())
	second.Close(2)
	require.Equal(t, 0, resource.CommandBufferCount())
	require.Equal(t, uint64(2), resource.LastUsedSubmit())
}

func TestUsageTracker_Abandon(t *testing.T) {
	resource := vsched.NewResource(vsched.ResourceKindBuffer, "buffer", nil, nil)

	var tracker vsched.UsageTracker
	tracker.Open(1)
	tracker.AddResource(resource)
	tracker.Abandon()

	require.Equal(t, 0, resource.CommandBufferCount())
	require.Equal(t, uint64(0), resource.LastUsedSubmit())
	require.False(t, tracker.AddResource(resource))
}
