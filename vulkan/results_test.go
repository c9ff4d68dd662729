package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
	mock_vsched "github.com/vkngwrapper/arsenal/vsched/mocks"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
)

func TestResultErrorSuccess(t *testing.T) {
	require.NoError(t, resultError(core1_0.VKSuccess, nil, "no error"))
	require.NoError(t, resultError(core1_0.VKNotReady, nil, "no error"))
}

func TestResultErrorSentinels(t *testing.T) {
	testCases := []struct {
		name     string
		result   common.VkResult
		sentinel error
	}{
		{"DeviceLost", core1_0.VKErrorDeviceLost, vsched.ErrDeviceLost},
		{"OutOfHostMemory", core1_0.VKErrorOutOfHostMemory, vsched.ErrOutOfMemory},
		{"OutOfDeviceMemory", core1_0.VKErrorOutOfDeviceMemory, vsched.ErrOutOfMemory},
		{"Timeout", core1_0.VKTimeout, vsched.ErrTimeout},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := resultError(testCase.result, errors.New("driver error"), "operation %d", 1)
			require.Error(t, err)
			require.True(t, errors.Is(err, testCase.sentinel))
			require.Contains(t, err.Error(), "operation 1")

			err = resultError(testCase.result, nil, "operation %d", 2)
			require.Error(t, err)
			require.True(t, errors.Is(err, testCase.sentinel))
		})
	}
}

func TestResultErrorUnclassified(t *testing.T) {
	err := resultError(core1_0.VKErrorInitializationFailed, errors.New("driver error"), "operation")
	require.Error(t, err)
	require.False(t, errors.Is(err, vsched.ErrDeviceLost))
	require.False(t, errors.Is(err, vsched.ErrOutOfMemory))
}

func TestUnwrapForeignObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	_, err := unwrapFence(mock_vsched.NewMockFence(ctrl))
	require.Error(t, err)

	_, err = unwrapSemaphores([]vsched.Semaphore{mock_vsched.NewMockSemaphore(ctrl)})
	require.Error(t, err)

	_, err = unwrapCommandBuffers([]vsched.CommandBuffer{mock_vsched.NewMockCommandBuffer(ctrl)})
	require.Error(t, err)

	fence, err := unwrapFence(nil)
	require.NoError(t, err)
	require.Nil(t, fence)
}

func TestBarrierConversionRejectsForeignHandles(t *testing.T) {
	resource := vsched.NewResource(vsched.ResourceKindBuffer, "buffer", "not a buffer", nil)

	_, err := convertBufferBarriers([]vsched.BufferBarrier{{Resource: resource, Size: vsched.WholeSize}})
	require.Error(t, err)

	_, err = convertImageBarriers([]vsched.ImageBarrier{{Resource: resource}})
	require.Error(t, err)
}

func TestBarrierSizes(t *testing.T) {
	require.Equal(t, vkRemaining, bufferSize(vsched.WholeSize))
	require.Equal(t, 256, bufferSize(256))
	require.Equal(t, vkRemaining, subresourceCount(vsched.RemainingCount))
	require.Equal(t, 4, subresourceCount(4))
}
