package vsched

//go:generate mockgen -source interfaces.go -destination ./mocks/mocks.go -package mock_vsched

import "time"

// Destroyer physically releases the GPU object behind a Resource. It is supplied by the resource's
// owner and is only ever called once the GPU can no longer be using the object.
type Destroyer interface {
	Destroy() error
}

// DestroyFunc adapts an ordinary function to the Destroyer interface
type DestroyFunc func() error

func (f DestroyFunc) Destroy() error {
	return f()
}

// Fence is signaled by the GPU once a submission completes
type Fence interface {
	// IsSignaled queries the fence without blocking
	IsSignaled() (bool, error)
	// Wait blocks until the fence is signaled or the timeout passes. It returns false if the
	// timeout passed first.
	Wait(timeout time.Duration) (bool, error)
	Reset() error
	Destroy()
}

// Semaphore orders GPU work against other GPU work, such as presentation against rendering
type Semaphore interface {
	Destroy()
}

// CommandBuffer is a primary command buffer the scheduler records into and submits
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error
	PipelineBarrier(srcStages, dstStages PipelineStageFlags, buffers []BufferBarrier, images []ImageBarrier) error
	Destroy()
}

// SubmitBatch is one batch of command buffers passed to Queue.Submit
type SubmitBatch struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStageFlags
	SignalSemaphores []Semaphore
}

// PresentTarget is one swapchain image passed to Queue.Present
type PresentTarget struct {
	Swapchain  Swapchain
	ImageIndex int
}

// Queue is the device queue that submissions and presentation go to
type Queue interface {
	// Submit submits the batches and signals the fence once all of them complete. Errors marked
	// with ErrOutOfMemory are retryable, errors marked with ErrDeviceLost are not. Any other
	// error is treated as a failed submission.
	Submit(batches []SubmitBatch, fence Fence) error
	// Present queues the targets for presentation once the wait semaphores are signaled. It returns
	// AcquireOutOfDate if any target's swapchain is out of date.
	Present(waitSemaphores []Semaphore, targets []PresentTarget) (AcquireResult, error)
}

// AcquiredImage is a swapchain image that has been acquired for drawing
type AcquiredImage struct {
	Index int
	// Ready is signaled once the image can be drawn to. Submissions that draw to the image
	// wait on it.
	Ready Semaphore
}

// Swapchain is one generation of presentable images for a platform surface
type Swapchain interface {
	AcquireNext(timeout time.Duration) (AcquiredImage, AcquireResult, error)
	Destroy() error
}

// SurfaceCapabilities reports the current state of a platform surface
type SurfaceCapabilities struct {
	Width  int
	Height int
}

// SwapchainCreateInfo describes the swapchain that should be created for a platform surface
type SwapchainCreateInfo struct {
	Width  int
	Height int
	VSync  bool
	// OldSwapchain is the swapchain being replaced, or nil
	OldSwapchain Swapchain
}

// Device creates the GPU objects the scheduler owns
type Device interface {
	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandBuffer() (CommandBuffer, error)
	// SurfaceCapabilities queries a platform surface. The surface is whatever handle the
	// windowing layer passed to Scheduler.CreateRenderSurface.
	SurfaceCapabilities(surface any) (SurfaceCapabilities, error)
	CreateSurfaceData(surface any, info SwapchainCreateInfo) (Swapchain, error)
}
