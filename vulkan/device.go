package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// SwapchainOptions controls the swapchains created for render surfaces
type SwapchainOptions struct {
	MinImageCount int
	Format        core1_0.Format
	ColorSpace    khr_surface.ColorSpace
	Usage         core1_0.ImageUsageFlags
	// NoVSyncPresentMode is used when vsync is off. Swapchains with vsync on always use FIFO.
	NoVSyncPresentMode khr_surface.PresentMode
}

// Device adapts a core1_0.Device to vsched.Device. Command buffers are allocated from commandPool,
// which must allow individual command buffers to be reset. Render surfaces must be khr_surface.Surface
// objects.
type Device struct {
	device             core1_0.Device
	physicalDevice     core1_0.PhysicalDevice
	commandPool        core1_0.CommandPool
	swapchainExtension khr_swapchain.Extension
	callbacks          *driver.AllocationCallbacks
	swapchainOptions   SwapchainOptions
}

// NewDevice creates a Device. swapchainExtension may be nil if no render surfaces are created.
func NewDevice(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, commandPool core1_0.CommandPool, swapchainExtension khr_swapchain.Extension, callbacks *driver.AllocationCallbacks, swapchainOptions SwapchainOptions) *Device {
	if swapchainOptions.MinImageCount == 0 {
		swapchainOptions.MinImageCount = 3
	}
	if swapchainOptions.Usage == 0 {
		swapchainOptions.Usage = core1_0.ImageUsageColorAttachment
	}

	return &Device{
		device:             device,
		physicalDevice:     physicalDevice,
		commandPool:        commandPool,
		swapchainExtension: swapchainExtension,
		callbacks:          callbacks,
		swapchainOptions:   swapchainOptions,
	}
}

func (d *Device) CreateFence() (vsched.Fence, error) {
	fence, res, err := d.device.CreateFence(d.callbacks, core1_0.FenceCreateInfo{})
	err = resultError(res, err, "failed to create fence")
	if err != nil {
		return nil, err
	}

	return NewFence(fence, d.callbacks), nil
}

func (d *Device) CreateSemaphore() (vsched.Semaphore, error) {
	semaphore, res, err := d.device.CreateSemaphore(d.callbacks, core1_0.SemaphoreCreateInfo{})
	err = resultError(res, err, "failed to create semaphore")
	if err != nil {
		return nil, err
	}

	return NewSemaphore(semaphore, d.callbacks), nil
}

func (d *Device) CreateCommandBuffer() (vsched.CommandBuffer, error) {
	commandBuffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	err = resultError(res, err, "failed to allocate command buffer")
	if err != nil {
		return nil, err
	}

	return NewCommandBuffer(commandBuffers[0]), nil
}

func platformSurface(surface any) (khr_surface.Surface, error) {
	vulkanSurface, ok := surface.(khr_surface.Surface)
	if !ok {
		return nil, errors.Newf("render surface of type %T is not a khr_surface.Surface", surface)
	}

	return vulkanSurface, nil
}

func (d *Device) SurfaceCapabilities(surface any) (vsched.SurfaceCapabilities, error) {
	vulkanSurface, err := platformSurface(surface)
	if err != nil {
		return vsched.SurfaceCapabilities{}, err
	}

	capabilities, res, err := vulkanSurface.PhysicalDeviceSurfaceCapabilities(d.physicalDevice)
	err = resultError(res, err, "failed to query surface capabilities")
	if err != nil {
		return vsched.SurfaceCapabilities{}, err
	}

	return vsched.SurfaceCapabilities{
		Width:  capabilities.CurrentExtent.Width,
		Height: capabilities.CurrentExtent.Height,
	}, nil
}

func (d *Device) CreateSurfaceData(surface any, info vsched.SwapchainCreateInfo) (vsched.Swapchain, error) {
	if d.swapchainExtension == nil {
		return nil, errors.New("render surfaces require the khr_swapchain extension")
	}

	vulkanSurface, err := platformSurface(surface)
	if err != nil {
		return nil, err
	}

	capabilities, res, err := vulkanSurface.PhysicalDeviceSurfaceCapabilities(d.physicalDevice)
	err = resultError(res, err, "failed to query surface capabilities")
	if err != nil {
		return nil, err
	}

	presentMode := khr_surface.PresentModeFIFO
	if !info.VSync {
		presentMode = d.swapchainOptions.NoVSyncPresentMode
	}

	var oldSwapchain khr_swapchain.Swapchain
	if info.OldSwapchain != nil {
		old, ok := info.OldSwapchain.(*Swapchain)
		if !ok {
			return nil, errors.Newf("swapchain of type %T was not created by the vulkan package", info.OldSwapchain)
		}
		oldSwapchain = old.swapchain
	}

	swapchain, res, err := d.swapchainExtension.CreateSwapchain(d.device, d.callbacks, khr_swapchain.SwapchainCreateInfo{
		Surface:          vulkanSurface,
		MinImageCount:    d.swapchainOptions.MinImageCount,
		ImageFormat:      d.swapchainOptions.Format,
		ImageColorSpace:  d.swapchainOptions.ColorSpace,
		ImageExtent:      core1_0.Extent2D{Width: info.Width, Height: info.Height},
		ImageArrayLayers: 1,
		ImageUsage:       d.swapchainOptions.Usage,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      presentMode,
		Clipped:          true,
		OldSwapchain:     oldSwapchain,
	})
	err = resultError(res, err, "failed to create swapchain")
	if err != nil {
		return nil, err
	}

	wrapped, err := NewSwapchain(d.device, swapchain, d.callbacks)
	if err != nil {
		swapchain.Destroy(d.callbacks)
		return nil, err
	}

	return wrapped, nil
}
