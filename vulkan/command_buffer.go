package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// CommandBuffer adapts a primary core1_0.CommandBuffer to vsched.CommandBuffer. Barrier resources
// must have been initialized with a core1_0.Buffer or core1_0.Image handle.
type CommandBuffer struct {
	commandBuffer core1_0.CommandBuffer
}

func NewCommandBuffer(commandBuffer core1_0.CommandBuffer) *CommandBuffer {
	return &CommandBuffer{commandBuffer: commandBuffer}
}

func (c *CommandBuffer) Handle() core1_0.CommandBuffer {
	return c.commandBuffer
}

func (c *CommandBuffer) Begin() error {
	res, err := c.commandBuffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return resultError(res, err, "failed to begin command buffer")
}

func (c *CommandBuffer) End() error {
	res, err := c.commandBuffer.End()
	return resultError(res, err, "failed to end command buffer")
}

func (c *CommandBuffer) Reset() error {
	res, err := c.commandBuffer.Reset(0)
	return resultError(res, err, "failed to reset command buffer")
}

func (c *CommandBuffer) Destroy() {
	c.commandBuffer.Free()
}

// vkRemaining is VK_WHOLE_SIZE / VK_REMAINING_* after conversion to the driver's unsigned types
const vkRemaining int = -1

func bufferSize(size uint64) int {
	if size == vsched.WholeSize {
		return vkRemaining
	}
	return int(size)
}

func subresourceCount(count uint32) int {
	if count == vsched.RemainingCount {
		return vkRemaining
	}
	return int(count)
}

func convertBufferBarriers(barriers []vsched.BufferBarrier) ([]core1_0.BufferMemoryBarrier, error) {
	if len(barriers) == 0 {
		return nil, nil
	}

	out := make([]core1_0.BufferMemoryBarrier, 0, len(barriers))
	for _, barrier := range barriers {
		buffer, ok := barrier.Resource.Handle().(core1_0.Buffer)
		if !ok {
			return nil, errors.Newf("buffer barrier resource %s has a handle of type %T", barrier.Resource.Name(), barrier.Resource.Handle())
		}

		out = append(out, core1_0.BufferMemoryBarrier{
			SrcAccessMask: core1_0.AccessFlags(barrier.SrcAccess),
			DstAccessMask: core1_0.AccessFlags(barrier.DstAccess),
			Buffer:        buffer,
			Offset:        int(barrier.Offset),
			Size:          bufferSize(barrier.Size),
		})
	}

	return out, nil
}

func convertImageBarriers(barriers []vsched.ImageBarrier) ([]core1_0.ImageMemoryBarrier, error) {
	if len(barriers) == 0 {
		return nil, nil
	}

	out := make([]core1_0.ImageMemoryBarrier, 0, len(barriers))
	for _, barrier := range barriers {
		image, ok := barrier.Resource.Handle().(core1_0.Image)
		if !ok {
			return nil, errors.Newf("image barrier resource %s has a handle of type %T", barrier.Resource.Name(), barrier.Resource.Handle())
		}

		out = append(out, core1_0.ImageMemoryBarrier{
			SrcAccessMask: core1_0.AccessFlags(barrier.SrcAccess),
			DstAccessMask: core1_0.AccessFlags(barrier.DstAccess),
			OldLayout:     core1_0.ImageLayout(barrier.OldLayout),
			NewLayout:     core1_0.ImageLayout(barrier.NewLayout),
			Image:         image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectFlags(barrier.Range.Aspect),
				BaseMipLevel:   int(barrier.Range.BaseMipLevel),
				LevelCount:     subresourceCount(barrier.Range.LevelCount),
				BaseArrayLayer: int(barrier.Range.BaseArrayLayer),
				LayerCount:     subresourceCount(barrier.Range.LayerCount),
			},
		})
	}

	return out, nil
}

func (c *CommandBuffer) PipelineBarrier(srcStages, dstStages vsched.PipelineStageFlags, buffers []vsched.BufferBarrier, images []vsched.ImageBarrier) error {
	bufferBarriers, err := convertBufferBarriers(buffers)
	if err != nil {
		return err
	}

	imageBarriers, err := convertImageBarriers(images)
	if err != nil {
		return err
	}

	return c.commandBuffer.CmdPipelineBarrier(
		core1_0.PipelineStageFlags(srcStages),
		core1_0.PipelineStageFlags(dstStages),
		0,
		nil,
		bufferBarriers,
		imageBarriers,
	)
}

func unwrapCommandBuffers(commandBuffers []vsched.CommandBuffer) ([]core1_0.CommandBuffer, error) {
	out := make([]core1_0.CommandBuffer, 0, len(commandBuffers))
	for _, commandBuffer := range commandBuffers {
		vulkanCommandBuffer, ok := commandBuffer.(*CommandBuffer)
		if !ok {
			return nil, errors.Newf("command buffer of type %T was not created by the vulkan package", commandBuffer)
		}
		out = append(out, vulkanCommandBuffer.commandBuffer)
	}

	return out, nil
}
