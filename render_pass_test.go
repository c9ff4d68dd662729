package vsched_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
	"go.uber.org/mock/gomock"
)

type countingCreator struct {
	created   int
	destroyed int
}

func (c *countingCreator) renderPass(samples int) (any, vsched.Destroyer, error) {
	c.created++
	return samples, vsched.DestroyFunc(func() error {
		c.destroyed++
		return nil
	}), nil
}

func (c *countingCreator) framebuffer(renderPass *vsched.RenderPassData) (any, vsched.Destroyer, error) {
	c.created++
	return renderPass.Samples, vsched.DestroyFunc(func() error {
		c.destroyed++
		return nil
	}), nil
}

func TestRenderPass_RefreshSamples(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, _ := newTestScheduler(t, ctrl, vsched.CreateOptions{})

	var passes countingCreator
	renderPass, err := scheduler.CreateRenderPass("main", 1, true, passes.renderPass)
	require.NoError(t, err)
	require.Equal(t, "main", renderPass.Name())

	first := renderPass.Data()
	require.Equal(t, 1, first.Samples)
	require.True(t, first.LifetimeHandle().IsValid())

	// The sample count is only checked once per frame
	data, err := renderPass.RefreshSamples(4)
	require.NoError(t, err)
	require.Same(t, first, data)

	require.NoError(t, scheduler.EndFrame())

	data, err = renderPass.RefreshSamples(1)
	require.NoError(t, err)
	require.Same(t, first, data)

	require.NoError(t, scheduler.EndFrame())

	second, err := renderPass.RefreshSamples(4)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 4, second.Samples)
	require.NotEqual(t, first.LifetimeHandle(), second.LifetimeHandle())
	require.Equal(t, 2, passes.created)

	require.True(t, first.IsDestroyed())
	require.Equal(t, 0, passes.destroyed)

	require.NoError(t, scheduler.BeginFrame())
	require.Equal(t, 1, passes.destroyed)
}

func TestRenderPass_FixedSamplesNeverRecreate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, _ := newTestScheduler(t, ctrl, vsched.CreateOptions{})

	var passes countingCreator
	renderPass, err := scheduler.CreateRenderPass("shadow", 1, false, passes.renderPass)
	require.NoError(t, err)

	require.NoError(t, scheduler.EndFrame())
	data, err := renderPass.RefreshSamples(8)
	require.NoError(t, err)
	require.Equal(t, 1, data.Samples)
	require.Equal(t, 1, passes.created)
}

func TestFramebuffer_RebuiltForNewRenderPass(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, _ := newTestScheduler(t, ctrl, vsched.CreateOptions{})

	var passes, framebuffers countingCreator
	renderPass, err := scheduler.CreateRenderPass("main", 1, true, passes.renderPass)
	require.NoError(t, err)

	framebuffer := scheduler.CreateFramebuffer("gbuffer", framebuffers.framebuffer)
	require.Equal(t, "gbuffer", framebuffer.Name())
	require.Equal(t, 0, framebuffer.RealFramebufferCount())

	first, err := framebuffer.RealFramebuffer(renderPass)
	require.NoError(t, err)
	require.Equal(t, renderPass.Data().LifetimeHandle(), first.RenderPass())
	require.Equal(t, 1, first.Handle())

	again, err := framebuffer.RealFramebuffer(renderPass)
	require.NoError(t, err)
	require.Same(t, first, again)
	require.Equal(t, 1, framebuffers.created)

	require.NoError(t, scheduler.EndFrame())
	_, err = renderPass.RefreshSamples(4)
	require.NoError(t, err)

	second, err := framebuffer.RealFramebuffer(renderPass)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 4, second.Handle())
	require.Equal(t, 1, framebuffer.RealFramebufferCount())
	require.True(t, first.IsDestroyed())

	require.NoError(t, scheduler.BeginFrame())
	require.Equal(t, 1, framebuffers.destroyed)
	require.Equal(t, 1, passes.destroyed)

	require.NoError(t, framebuffer.Destroy())
	require.Equal(t, 0, framebuffer.RealFramebufferCount())
	require.True(t, second.IsDestroyed())

	_, err = framebuffer.RealFramebuffer(renderPass)
	require.True(t, errors.Is(err, vsched.ErrAlreadyDestroyed))
	require.True(t, errors.Is(framebuffer.Destroy(), vsched.ErrAlreadyDestroyed))
}

func TestRenderPass_Destroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, _ := newTestScheduler(t, ctrl, vsched.CreateOptions{})

	var passes, framebuffers countingCreator
	renderPass, err := scheduler.CreateRenderPass("main", 1, true, passes.renderPass)
	require.NoError(t, err)
	framebuffer := scheduler.CreateFramebuffer("gbuffer", framebuffers.framebuffer)

	_, err = framebuffer.RealFramebuffer(renderPass)
	require.NoError(t, err)

	require.NoError(t, renderPass.Destroy())
	require.Nil(t, renderPass.Data())
	require.True(t, errors.Is(renderPass.Destroy(), vsched.ErrAlreadyDestroyed))

	_, err = renderPass.RefreshSamples(1)
	require.True(t, errors.Is(err, vsched.ErrAlreadyDestroyed))

	_, err = framebuffer.RealFramebuffer(renderPass)
	require.True(t, errors.Is(err, vsched.ErrAlreadyDestroyed))

	require.NoError(t, scheduler.BeginFrame())
	require.Equal(t, 1, passes.destroyed)
}
