package vsched

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
	"github.com/vkngwrapper/arsenal/vsched/lifetime"
	"golang.org/x/exp/slog"
)

// RenderPassCreateFunc creates the API render pass object for a sample count
type RenderPassCreateFunc func(samples int) (handle any, destroyer Destroyer, err error)

// FramebufferCreateFunc creates the API framebuffer object for a framebuffer used with a particular
// render pass generation
type FramebufferCreateFunc func(renderPass *RenderPassData) (handle any, destroyer Destroyer, err error)

// RenderPassData is one generation of the API object behind a RenderPass
type RenderPassData struct {
	Resource

	Samples int
	handle  lifetime.Handle
}

// LifetimeHandle returns the handle that framebuffers use to refer to this generation
func (d *RenderPassData) LifetimeHandle() lifetime.Handle {
	return d.handle
}

// RenderPass is a render pass whose API object is recreated when the default sample count changes.
// Framebuffers refer to a particular generation of the render pass by lifetime.Handle, so a framebuffer
// notices when the generation it was built for is gone.
type RenderPass struct {
	scheduler *Scheduler
	mutex     utils.OptionalMutex

	name               string
	create             RenderPassCreateFunc
	usesDefaultSamples bool

	data             *RenderPassData
	lastCheckedFrame uint64
	destroyed        bool
}

// CreateRenderPass creates a render pass with its first generation. If usesDefaultSamples is true,
// RefreshSamples recreates the render pass whenever the sample count it is given changes.
func (s *Scheduler) CreateRenderPass(name string, samples int, usesDefaultSamples bool, create RenderPassCreateFunc) (*RenderPass, error) {
	s.logger.Debug("Scheduler::CreateRenderPass", slog.String("Name", name))

	err := s.Poisoned()
	if err != nil {
		return nil, err
	}

	renderPass := &RenderPass{
		scheduler:          s,
		name:               name,
		create:             create,
		usesDefaultSamples: usesDefaultSamples,
		lastCheckedFrame:   s.FrameNumber(),
	}
	renderPass.mutex.UseMutex = s.useMutex

	renderPass.data, err = renderPass.createData(samples)
	if err != nil {
		return nil, s.checkFatal(err)
	}

	return renderPass, nil
}

func (rp *RenderPass) createData(samples int) (*RenderPassData, error) {
	handle, destroyer, err := rp.create(samples)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create render pass %s", rp.name)
	}

	data := &RenderPassData{Samples: samples}
	data.Init(ResourceKindRenderPass, rp.name, handle, destroyer)
	data.handle = rp.scheduler.renderPasses.Insert(data)

	return data, nil
}

func (rp *RenderPass) retireLocked() error {
	if rp.data == nil {
		return nil
	}

	old := rp.data
	rp.data = nil
	rp.scheduler.renderPasses.Remove(old.handle)
	return rp.scheduler.deferred.Destroy(&old.Resource)
}

func (rp *RenderPass) Name() string {
	return rp.name
}

// Data returns the current generation
func (rp *RenderPass) Data() *RenderPassData {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	return rp.data
}

// RefreshSamples recreates the render pass if it uses the default sample count and the count has
// changed. The check is made at most once per frame. The old generation is destroyed through the
// deferred queue, and every framebuffer built for it is rebuilt on next use.
func (rp *RenderPass) RefreshSamples(samples int) (*RenderPassData, error) {
	rp.scheduler.logger.Debug("RenderPass::RefreshSamples")

	err := rp.scheduler.Poisoned()
	if err != nil {
		return nil, err
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if rp.destroyed {
		return nil, errors.Mark(errors.Newf("render pass %s was used after it was destroyed", rp.name), ErrAlreadyDestroyed)
	}

	frame := rp.scheduler.FrameNumber()
	if !rp.usesDefaultSamples || (rp.lastCheckedFrame == frame && rp.data != nil) {
		return rp.data, nil
	}
	rp.lastCheckedFrame = frame

	if rp.data != nil && rp.data.Samples == samples {
		return rp.data, nil
	}

	err = rp.retireLocked()
	if err != nil {
		return nil, err
	}

	rp.data, err = rp.createData(samples)
	if err != nil {
		return nil, rp.scheduler.checkFatal(err)
	}

	rp.scheduler.logger.Debug("    Recreated render pass", slog.String("Name", rp.name), slog.Int("Samples", samples))
	return rp.data, nil
}

// Destroy queues the current generation for destruction
func (rp *RenderPass) Destroy() error {
	rp.scheduler.logger.Debug("RenderPass::Destroy")

	err := rp.scheduler.Poisoned()
	if err != nil {
		return err
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if rp.destroyed {
		return errors.Mark(errors.Newf("render pass %s was destroyed twice", rp.name), ErrAlreadyDestroyed)
	}
	rp.destroyed = true

	return rp.retireLocked()
}

// RealFramebuffer is the API framebuffer object for one render pass generation
type RealFramebuffer struct {
	Resource

	renderPass lifetime.Handle
}

// RenderPass returns the handle of the render pass generation this framebuffer was built for
func (f *RealFramebuffer) RenderPass() lifetime.Handle {
	return f.renderPass
}

// Framebuffer is a set of attachments that can be used with several render passes. The API object
// for each render pass generation is created on first use.
type Framebuffer struct {
	scheduler *Scheduler
	mutex     utils.OptionalMutex

	name      string
	create    FramebufferCreateFunc
	reals     *swiss.Map[lifetime.Handle, *RealFramebuffer]
	destroyed bool
}

// CreateFramebuffer creates a framebuffer. No API object is created until RealFramebuffer is called.
func (s *Scheduler) CreateFramebuffer(name string, create FramebufferCreateFunc) *Framebuffer {
	s.logger.Debug("Scheduler::CreateFramebuffer", slog.String("Name", name))

	framebuffer := &Framebuffer{
		scheduler: s,
		name:      name,
		create:    create,
		reals:     swiss.NewMap[lifetime.Handle, *RealFramebuffer](4),
	}
	framebuffer.mutex.UseMutex = s.useMutex

	return framebuffer
}

func (f *Framebuffer) Name() string {
	return f.name
}

// pruneLocked destroys every real framebuffer whose render pass generation is gone
func (f *Framebuffer) pruneLocked() error {
	var stale []lifetime.Handle
	f.reals.Iter(func(handle lifetime.Handle, real *RealFramebuffer) bool {
		if !f.scheduler.renderPasses.Has(handle) {
			stale = append(stale, handle)
		}
		return false
	})

	var err error
	for _, handle := range stale {
		real, _ := f.reals.Get(handle)
		f.reals.Delete(handle)
		err = errors.CombineErrors(err, f.scheduler.deferred.Destroy(&real.Resource))
	}

	return err
}

// RealFramebuffer returns the API framebuffer for the render pass's current generation, creating it
// if needed. Framebuffers built for generations that no longer exist are destroyed.
func (f *Framebuffer) RealFramebuffer(renderPass *RenderPass) (*RealFramebuffer, error) {
	f.scheduler.logger.Debug("Framebuffer::RealFramebuffer")

	err := f.scheduler.Poisoned()
	if err != nil {
		return nil, err
	}

	renderPassData := renderPass.Data()
	if renderPassData == nil {
		return nil, errors.Mark(errors.Newf("render pass %s has been destroyed", renderPass.name), ErrAlreadyDestroyed)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.destroyed {
		return nil, errors.Mark(errors.Newf("framebuffer %s was used after it was destroyed", f.name), ErrAlreadyDestroyed)
	}

	err = f.pruneLocked()
	if err != nil {
		return nil, err
	}

	real, ok := f.reals.Get(renderPassData.handle)
	if ok {
		return real, nil
	}

	handle, destroyer, err := f.create(renderPassData)
	if err != nil {
		return nil, f.scheduler.checkFatal(errors.Wrapf(err, "failed to create framebuffer %s for render pass %s", f.name, renderPass.name))
	}

	real = &RealFramebuffer{renderPass: renderPassData.handle}
	real.Init(ResourceKindFramebuffer, f.name, handle, destroyer)
	f.reals.Put(renderPassData.handle, real)

	return real, nil
}

// RealFramebufferCount returns the number of API framebuffers currently held
func (f *Framebuffer) RealFramebufferCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.reals.Count()
}

// Destroy queues every API framebuffer for destruction
func (f *Framebuffer) Destroy() error {
	f.scheduler.logger.Debug("Framebuffer::Destroy")

	err := f.scheduler.Poisoned()
	if err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.destroyed {
		return errors.Mark(errors.Newf("framebuffer %s was destroyed twice", f.name), ErrAlreadyDestroyed)
	}
	f.destroyed = true

	var reals []*RealFramebuffer
	f.reals.Iter(func(handle lifetime.Handle, real *RealFramebuffer) bool {
		reals = append(reals, real)
		return false
	})
	f.reals.Clear()

	for _, real := range reals {
		err = errors.CombineErrors(err, f.scheduler.deferred.Destroy(&real.Resource))
	}

	return err
}
