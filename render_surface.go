package vsched

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
	"golang.org/x/exp/slog"
)

// RenderSurfaceData is one generation of the presentable image chain behind a RenderSurface. It is
// never changed in place: when the surface is resized or its vsync mode changes, a new generation is
// created and the old one is destroyed through the scheduler's deferred queue.
type RenderSurfaceData struct {
	Resource

	swapchain Swapchain
	ready     Semaphore

	Generation uint64
	Width      int
	Height     int
	VSync      bool
	// ImageIndex is the image acquired by the most recent BeginDraw
	ImageIndex int
}

// Swapchain returns the swapchain for this generation
func (d *RenderSurfaceData) Swapchain() Swapchain {
	return d.swapchain
}

// RenderSurface is a window or other platform surface that the scheduler draws to and presents
type RenderSurface struct {
	scheduler *Scheduler
	mutex     utils.OptionalMutex

	id      uint64
	name    string
	surface any

	data         *RenderSurfaceData
	generation   uint64
	updatedFrame uint64
	lost         bool
	destroyed    bool
}

// CreateRenderSurface creates the first swapchain generation for a platform surface. surface is
// passed unchanged to the Device.
func (s *Scheduler) CreateRenderSurface(name string, surface any) (*RenderSurface, error) {
	s.logger.Debug("Scheduler::CreateRenderSurface", slog.String("Name", name))

	err := s.Poisoned()
	if err != nil {
		return nil, err
	}

	renderSurface := &RenderSurface{
		scheduler:    s,
		name:         name,
		surface:      surface,
		updatedFrame: s.FrameNumber() - 1,
	}
	renderSurface.mutex.UseMutex = s.useMutex

	capabilities, err := s.device.SurfaceCapabilities(surface)
	if err != nil {
		return nil, s.checkFatal(errors.Wrapf(err, "failed to query capabilities for render surface %s", name))
	}

	renderSurface.data, err = renderSurface.createData(capabilities, nil)
	if err != nil {
		return nil, s.checkFatal(err)
	}

	s.surfacesMutex.Lock()
	defer s.surfacesMutex.Unlock()

	s.nextSurfaceID++
	renderSurface.id = s.nextSurfaceID
	s.surfaces.Put(renderSurface.id, renderSurface)

	return renderSurface, nil
}

func (rs *RenderSurface) Name() string {
	return rs.name
}

// Data returns the current swapchain generation, or nil if the last recreation failed
func (rs *RenderSurface) Data() *RenderSurfaceData {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	return rs.data
}

// IsLost returns true once the surface has failed to acquire an image after being recreated
func (rs *RenderSurface) IsLost() bool {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	return rs.lost
}

func (rs *RenderSurface) createData(capabilities SurfaceCapabilities, old *RenderSurfaceData) (*RenderSurfaceData, error) {
	vsync := rs.scheduler.VSync()

	info := SwapchainCreateInfo{
		Width:  capabilities.Width,
		Height: capabilities.Height,
		VSync:  vsync,
	}
	if old != nil {
		info.OldSwapchain = old.swapchain
	}

	swapchain, err := rs.scheduler.device.CreateSurfaceData(rs.surface, info)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create swapchain for render surface %s", rs.name)
	}

	rs.generation++
	data := &RenderSurfaceData{
		swapchain:  swapchain,
		Generation: rs.generation,
		Width:      capabilities.Width,
		Height:     capabilities.Height,
		VSync:      vsync,
	}
	data.Init(ResourceKindRenderSurface, rs.name, swapchain, DestroyFunc(swapchain.Destroy))

	return data, nil
}

// recreateLocked replaces the current generation. The old generation is retired even if the new one
// cannot be created.
func (rs *RenderSurface) recreateLocked() error {
	old := rs.data
	rs.data = nil

	capabilities, err := rs.scheduler.device.SurfaceCapabilities(rs.surface)
	if err == nil {
		rs.data, err = rs.createData(capabilities, old)
	} else {
		err = errors.Wrapf(err, "failed to query capabilities for render surface %s", rs.name)
	}

	if old != nil {
		destroyErr := rs.scheduler.deferred.Destroy(&old.Resource)
		if destroyErr != nil {
			rs.scheduler.logger.Error("error attempting to destroy old render surface data", slog.String("Name", rs.name), slog.Any("error", destroyErr))
		}
	}

	if err != nil {
		return err
	}

	rs.scheduler.logger.Warn("render surface recreated",
		slog.String("Name", rs.name),
		slog.Uint64("Generation", rs.data.Generation),
		slog.Int("Width", rs.data.Width),
		slog.Int("Height", rs.data.Height),
		slog.Bool("VSync", rs.data.VSync),
	)
	return nil
}

// Update checks the platform surface and recreates the swapchain if the size or vsync mode has
// changed. It returns true if the swapchain was recreated.
func (rs *RenderSurface) Update() (bool, error) {
	rs.scheduler.logger.Debug("RenderSurface::Update")

	err := rs.scheduler.Poisoned()
	if err != nil {
		return false, err
	}

	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.destroyed || rs.lost {
		return false, errors.Mark(errors.Newf("render surface %s can no longer be used", rs.name), ErrSurfaceLost)
	}

	capabilities, err := rs.scheduler.device.SurfaceCapabilities(rs.surface)
	if err != nil {
		return false, rs.scheduler.checkFatal(errors.Wrapf(err, "failed to query capabilities for render surface %s", rs.name))
	}

	if rs.data != nil &&
		rs.data.Width == capabilities.Width &&
		rs.data.Height == capabilities.Height &&
		rs.data.VSync == rs.scheduler.VSync() {
		return false, nil
	}

	err = rs.recreateLocked()
	if err != nil {
		return false, rs.scheduler.checkFatal(err)
	}

	return true, nil
}

// acquireLocked acquires the next image from the current generation. It returns false if the
// swapchain is out of date.
func (rs *RenderSurface) acquireLocked(recording *Recording) (bool, error) {
	image, result, err := rs.data.swapchain.AcquireNext(rs.scheduler.fenceTimeout)
	if err != nil {
		err = errors.Wrapf(err, "failed to acquire an image from render surface %s", rs.name)
		if errors.Is(err, ErrTimeout) || isFatal(err) {
			return false, rs.scheduler.checkFatal(err)
		}

		rs.lost = true
		return false, errors.Mark(err, ErrSurfaceLost)
	}

	if result == AcquireOutOfDate {
		return false, nil
	}

	rs.data.ImageIndex = image.Index
	rs.data.ready = image.Ready

	err = recording.TrackResource(&rs.data.Resource)
	if err != nil {
		return false, err
	}

	if image.Ready != nil {
		err = recording.WaitSemaphore(image.Ready, PipelineStageColorAttachmentOutput)
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

// BeginDraw acquires the image the current frame draws to. It may be called any number of times in
// a frame: only the first call acquires. If the swapchain is out of date it is recreated and the
// acquire is retried once. If that also fails, ErrSurfaceLost is returned and the surface can no
// longer be used; the scheduler and other surfaces are unaffected.
func (rs *RenderSurface) BeginDraw(recording *Recording) error {
	rs.scheduler.logger.Debug("RenderSurface::BeginDraw")

	err := rs.scheduler.Poisoned()
	if err != nil {
		return err
	}

	if recording == nil {
		return errors.Newf("render surface %s was drawn to without a recording", rs.name)
	}

	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.destroyed || rs.lost {
		return errors.Mark(errors.Newf("render surface %s can no longer be used", rs.name), ErrSurfaceLost)
	}

	frame := rs.scheduler.FrameNumber()
	if rs.updatedFrame == frame {
		return nil
	}

	if rs.data != nil && rs.data.VSync == rs.scheduler.VSync() {
		acquired, err := rs.acquireLocked(recording)
		if err != nil {
			return err
		}

		if acquired {
			rs.updatedFrame = frame
			return nil
		}
	}

	err = rs.recreateLocked()
	if err != nil {
		return rs.scheduler.checkFatal(err)
	}

	acquired, err := rs.acquireLocked(recording)
	if err != nil {
		return err
	}

	if !acquired {
		rs.lost = true
		return errors.Mark(errors.Newf("render surface %s is still out of date after being recreated", rs.name), ErrSurfaceLost)
	}

	rs.updatedFrame = frame
	return nil
}

func (rs *RenderSurface) destroy() error {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.destroyed {
		return nil
	}
	rs.destroyed = true

	rs.scheduler.surfacesMutex.Lock()
	rs.scheduler.surfaces.Delete(rs.id)
	rs.scheduler.surfacesMutex.Unlock()

	if rs.data == nil {
		return nil
	}

	data := rs.data
	rs.data = nil
	return rs.scheduler.deferred.Destroy(&data.Resource)
}

// Destroy queues the current swapchain generation for destruction. The surface cannot be used
// afterward.
func (rs *RenderSurface) Destroy() error {
	rs.scheduler.logger.Debug("RenderSurface::Destroy")

	err := rs.scheduler.Poisoned()
	if err != nil {
		return err
	}

	return rs.destroy()
}

// SwapBuffers submits the current recording and presents every surface once it completes. Each
// surface must have been acquired with BeginDraw during the current frame.
func (s *Scheduler) SwapBuffers(ctx context.Context, surfaces ...*RenderSurface) error {
	s.logger.Debug("Scheduler::SwapBuffers")

	err := s.Poisoned()
	if err != nil {
		return err
	}

	frame := s.FrameNumber()
	targets := make([]PresentTarget, 0, len(surfaces))
	for _, surface := range surfaces {
		surface.mutex.Lock()
		if surface.updatedFrame != frame || surface.data == nil || surface.lost || surface.destroyed {
			surface.mutex.Unlock()
			return errors.Mark(errors.Newf("render surface %s was not drawn to during frame %d", surface.name, frame), ErrSurfaceNotAcquired)
		}

		targets = append(targets, PresentTarget{
			Swapchain:  surface.data.swapchain,
			ImageIndex: surface.data.ImageIndex,
		})
		surface.mutex.Unlock()
	}

	if len(targets) == 0 {
		_, _, err = s.submit(ctx, false)
		return err
	}

	_, signal, err := s.submit(ctx, true)
	if err != nil {
		return err
	}

	result, err := s.queue.Present([]Semaphore{signal}, targets)
	if err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return s.poison(errors.Wrap(err, "failed to present"))
		}
		return errors.Mark(errors.Wrap(err, "failed to present"), ErrSurfaceLost)
	}

	if result == AcquireOutOfDate {
		s.logger.Debug("    presented to an out of date render surface")
	}

	return nil
}
