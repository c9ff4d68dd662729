package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// Swapchain adapts a khr_swapchain.Swapchain to vsched.Swapchain. Each acquire signals the next
// semaphore in a ring with one more entry than the swapchain has images, so a semaphore is never
// reused while an earlier acquire may still be waiting on it.
type Swapchain struct {
	swapchain khr_swapchain.Swapchain
	callbacks *driver.AllocationCallbacks

	readySemaphores []*Semaphore
	nextSemaphore   int
}

// NewSwapchain wraps a swapchain, creating its acquire semaphores from device
func NewSwapchain(device core1_0.Device, swapchain khr_swapchain.Swapchain, callbacks *driver.AllocationCallbacks) (*Swapchain, error) {
	images, res, err := swapchain.SwapchainImages()
	err = resultError(res, err, "failed to retrieve swapchain images")
	if err != nil {
		return nil, err
	}

	wrapped := &Swapchain{
		swapchain: swapchain,
		callbacks: callbacks,
	}

	for i := 0; i <= len(images); i++ {
		semaphore, res, err := device.CreateSemaphore(callbacks, core1_0.SemaphoreCreateInfo{})
		err = resultError(res, err, "failed to create acquire semaphore")
		if err != nil {
			wrapped.destroySemaphores()
			return nil, err
		}

		wrapped.readySemaphores = append(wrapped.readySemaphores, NewSemaphore(semaphore, callbacks))
	}

	return wrapped, nil
}

func (s *Swapchain) Handle() khr_swapchain.Swapchain {
	return s.swapchain
}

func (s *Swapchain) AcquireNext(timeout time.Duration) (vsched.AcquiredImage, vsched.AcquireResult, error) {
	semaphore := s.readySemaphores[s.nextSemaphore]

	index, res, err := s.swapchain.AcquireNextImage(timeout, semaphore.semaphore, nil)
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return vsched.AcquiredImage{}, vsched.AcquireOutOfDate, nil
	case core1_0.VKNotReady:
		return vsched.AcquiredImage{}, vsched.AcquireSuccess, errors.Mark(errors.New("no swapchain image was ready"), vsched.ErrTimeout)
	}

	err = resultError(res, err, "failed to acquire swapchain image")
	if err != nil {
		return vsched.AcquiredImage{}, vsched.AcquireSuccess, err
	}

	s.nextSemaphore = (s.nextSemaphore + 1) % len(s.readySemaphores)

	result := vsched.AcquireSuccess
	if res == khr_swapchain.VKSuboptimal {
		result = vsched.AcquireSuboptimal
	}

	return vsched.AcquiredImage{Index: index, Ready: semaphore}, result, nil
}

func (s *Swapchain) destroySemaphores() {
	for _, semaphore := range s.readySemaphores {
		semaphore.Destroy()
	}
	s.readySemaphores = nil
}

func (s *Swapchain) Destroy() error {
	s.destroySemaphores()
	s.swapchain.Destroy(s.callbacks)
	return nil
}
