package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Fence adapts a core1_0.Fence to vsched.Fence
type Fence struct {
	fence     core1_0.Fence
	callbacks *driver.AllocationCallbacks
}

func NewFence(fence core1_0.Fence, callbacks *driver.AllocationCallbacks) *Fence {
	return &Fence{fence: fence, callbacks: callbacks}
}

func (f *Fence) Handle() core1_0.Fence {
	return f.fence
}

func (f *Fence) IsSignaled() (bool, error) {
	res, err := f.fence.Status()
	if res == core1_0.VKNotReady {
		return false, nil
	}

	err = resultError(res, err, "failed to query fence status")
	if err != nil {
		return false, err
	}

	return true, nil
}

func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	res, err := f.fence.Wait(timeout)
	if res == core1_0.VKTimeout {
		return false, nil
	}

	err = resultError(res, err, "failed to wait on fence")
	if err != nil {
		return false, err
	}

	return true, nil
}

func (f *Fence) Reset() error {
	res, err := f.fence.Reset()
	return resultError(res, err, "failed to reset fence")
}

func (f *Fence) Destroy() {
	f.fence.Destroy(f.callbacks)
}

// Semaphore adapts a core1_0.Semaphore to vsched.Semaphore
type Semaphore struct {
	semaphore core1_0.Semaphore
	callbacks *driver.AllocationCallbacks
}

func NewSemaphore(semaphore core1_0.Semaphore, callbacks *driver.AllocationCallbacks) *Semaphore {
	return &Semaphore{semaphore: semaphore, callbacks: callbacks}
}

func (s *Semaphore) Handle() core1_0.Semaphore {
	return s.semaphore
}

func (s *Semaphore) Destroy() {
	s.semaphore.Destroy(s.callbacks)
}

func unwrapFence(fence vsched.Fence) (core1_0.Fence, error) {
	if fence == nil {
		return nil, nil
	}

	vulkanFence, ok := fence.(*Fence)
	if !ok {
		return nil, errors.Newf("fence of type %T was not created by the vulkan package", fence)
	}

	return vulkanFence.fence, nil
}

func unwrapSemaphores(semaphores []vsched.Semaphore) ([]core1_0.Semaphore, error) {
	if len(semaphores) == 0 {
		return nil, nil
	}

	out := make([]core1_0.Semaphore, 0, len(semaphores))
	for _, semaphore := range semaphores {
		vulkanSemaphore, ok := semaphore.(*Semaphore)
		if !ok {
			return nil, errors.Newf("semaphore of type %T was not created by the vulkan package", semaphore)
		}
		out = append(out, vulkanSemaphore.semaphore)
	}

	return out, nil
}
