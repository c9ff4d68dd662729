package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// Queue adapts a core1_0.Queue to vsched.Queue. swapchainExtension may be nil if the queue is never
// used for presentation.
type Queue struct {
	queue              core1_0.Queue
	swapchainExtension khr_swapchain.Extension
}

func NewQueue(queue core1_0.Queue, swapchainExtension khr_swapchain.Extension) *Queue {
	return &Queue{queue: queue, swapchainExtension: swapchainExtension}
}

func (q *Queue) Handle() core1_0.Queue {
	return q.queue
}

func (q *Queue) Submit(batches []vsched.SubmitBatch, fence vsched.Fence) error {
	vulkanFence, err := unwrapFence(fence)
	if err != nil {
		return err
	}

	submitInfos := make([]core1_0.SubmitInfo, 0, len(batches))
	for _, batch := range batches {
		commandBuffers, err := unwrapCommandBuffers(batch.CommandBuffers)
		if err != nil {
			return err
		}

		waitSemaphores, err := unwrapSemaphores(batch.WaitSemaphores)
		if err != nil {
			return err
		}

		signalSemaphores, err := unwrapSemaphores(batch.SignalSemaphores)
		if err != nil {
			return err
		}

		var waitStages []core1_0.PipelineStageFlags
		for _, stages := range batch.WaitStages {
			waitStages = append(waitStages, core1_0.PipelineStageFlags(stages))
		}

		submitInfos = append(submitInfos, core1_0.SubmitInfo{
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: waitStages,
			CommandBuffers:   commandBuffers,
			SignalSemaphores: signalSemaphores,
		})
	}

	res, err := q.queue.Submit(vulkanFence, submitInfos)
	return resultError(res, err, "failed to submit %d batches", len(batches))
}

func (q *Queue) Present(waitSemaphores []vsched.Semaphore, targets []vsched.PresentTarget) (vsched.AcquireResult, error) {
	if q.swapchainExtension == nil {
		return vsched.AcquireSuccess, errors.New("present requires the khr_swapchain extension")
	}

	semaphores, err := unwrapSemaphores(waitSemaphores)
	if err != nil {
		return vsched.AcquireSuccess, err
	}

	presentInfo := khr_swapchain.PresentInfo{
		WaitSemaphores: semaphores,
	}
	for _, target := range targets {
		swapchain, ok := target.Swapchain.(*Swapchain)
		if !ok {
			return vsched.AcquireSuccess, errors.Newf("swapchain of type %T was not created by the vulkan package", target.Swapchain)
		}

		presentInfo.Swapchains = append(presentInfo.Swapchains, swapchain.swapchain)
		presentInfo.ImageIndices = append(presentInfo.ImageIndices, target.ImageIndex)
	}

	res, err := q.swapchainExtension.QueuePresent(q.queue, presentInfo)
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return vsched.AcquireOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return vsched.AcquireSuboptimal, nil
	}

	return vsched.AcquireSuccess, resultError(res, err, "failed to present %d swapchains", len(targets))
}
