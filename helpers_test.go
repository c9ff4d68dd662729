package vsched_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
	mock_vsched "github.com/vkngwrapper/arsenal/vsched/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

// gpuSubmission is one submission as seen by the simulated GPU. It finishes when the test completes it.
type gpuSubmission struct {
	once sync.Once
	done chan struct{}
}

func (s *gpuSubmission) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *gpuSubmission) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fenceState stands in for the GPU side of a fence: it follows the most recent submission made with
// the fence until the fence is reset
type fenceState struct {
	mutex    sync.Mutex
	current  *gpuSubmission
	queryErr error
}

func (f *fenceState) arm(submission *gpuSubmission) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.current = submission
}

func (f *fenceState) isSignaled() (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.queryErr != nil {
		return false, f.queryErr
	}

	return f.current != nil && f.current.finished(), nil
}

// wait checks the fence for as long as it waits, so a reset during the wait is seen the way the
// driver would see it
func (f *fenceState) wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		signaled, err := f.isSignaled()
		if err != nil || signaled {
			return signaled, err
		}

		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fenceState) reset() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.current = nil
	return nil
}

type barrierCall struct {
	commandBuffer vsched.CommandBuffer
	srcStages     vsched.PipelineStageFlags
	dstStages     vsched.PipelineStageFlags
	buffers       []vsched.BufferBarrier
	images        []vsched.ImageBarrier
}

// testGPU wires mock devices and queues to a simulated GPU that completes submissions only when the
// test says so
type testGPU struct {
	t    *testing.T
	ctrl *gomock.Controller

	device *mock_vsched.MockDevice
	queue  *mock_vsched.MockQueue

	mutex          sync.Mutex
	fences         map[vsched.Fence]*fenceState
	submissions    []*gpuSubmission
	batches        [][]vsched.SubmitBatch
	barrierCalls   []barrierCall
	presents       [][]vsched.PresentTarget
	presentWaits   [][]vsched.Semaphore
	submitErrs     []error
	presentResult  vsched.AcquireResult
	presentErr     error
	fencesCreated  int
	fencesDestroy  int
	commandBuffers int

	waitEntered chan struct{}
	waitGate    chan struct{}

	queueCalls atomic.Int64
	fenceCalls atomic.Int64
}

func newTestGPU(t *testing.T, ctrl *gomock.Controller) *testGPU {
	gpu := &testGPU{
		t:      t,
		ctrl:   ctrl,
		device: mock_vsched.NewMockDevice(ctrl),
		queue:  mock_vsched.NewMockQueue(ctrl),
		fences: make(map[vsched.Fence]*fenceState),
	}

	gpu.device.EXPECT().CreateFence().AnyTimes().DoAndReturn(gpu.createFence)
	gpu.device.EXPECT().CreateSemaphore().AnyTimes().DoAndReturn(func() (vsched.Semaphore, error) {
		semaphore := mock_vsched.NewMockSemaphore(ctrl)
		semaphore.EXPECT().Destroy().AnyTimes()
		return semaphore, nil
	})
	gpu.device.EXPECT().CreateCommandBuffer().AnyTimes().DoAndReturn(gpu.createCommandBuffer)

	gpu.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(gpu.submit)
	gpu.queue.EXPECT().Present(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(
		func(waitSemaphores []vsched.Semaphore, targets []vsched.PresentTarget) (vsched.AcquireResult, error) {
			gpu.queueCalls.Add(1)

			gpu.mutex.Lock()
			defer gpu.mutex.Unlock()

			gpu.presentWaits = append(gpu.presentWaits, waitSemaphores)
			gpu.presents = append(gpu.presents, targets)
			return gpu.presentResult, gpu.presentErr
		})

	return gpu
}

func (g *testGPU) createFence() (vsched.Fence, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	state := &fenceState{}
	fence := mock_vsched.NewMockFence(g.ctrl)
	fence.EXPECT().IsSignaled().AnyTimes().DoAndReturn(func() (bool, error) {
		g.fenceCalls.Add(1)
		return state.isSignaled()
	})
	fence.EXPECT().Wait(gomock.Any()).AnyTimes().DoAndReturn(func(timeout time.Duration) (bool, error) {
		g.fenceCalls.Add(1)
		g.enterWait()
		return state.wait(timeout)
	})
	fence.EXPECT().Reset().AnyTimes().DoAndReturn(func() error {
		g.fenceCalls.Add(1)
		return state.reset()
	})
	fence.EXPECT().Destroy().AnyTimes().Do(func() {
		g.mutex.Lock()
		defer g.mutex.Unlock()
		g.fencesDestroy++
	})

	g.fences[fence] = state
	g.fencesCreated++
	return fence, nil
}

func (g *testGPU) createCommandBuffer() (vsched.CommandBuffer, error) {
	commandBuffer := mock_vsched.NewMockCommandBuffer(g.ctrl)
	commandBuffer.EXPECT().Begin().AnyTimes().Return(nil)
	commandBuffer.EXPECT().End().AnyTimes().Return(nil)
	commandBuffer.EXPECT().Reset().AnyTimes().Return(nil)
	commandBuffer.EXPECT().Destroy().AnyTimes()
	commandBuffer.EXPECT().PipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(
		func(srcStages, dstStages vsched.PipelineStageFlags, buffers []vsched.BufferBarrier, images []vsched.ImageBarrier) error {
			g.mutex.Lock()
			defer g.mutex.Unlock()

			g.barrierCalls = append(g.barrierCalls, barrierCall{
				commandBuffer: commandBuffer,
				srcStages:     srcStages,
				dstStages:     dstStages,
				buffers:       buffers,
				images:        images,
			})
			return nil
		})

	g.mutex.Lock()
	g.commandBuffers++
	g.mutex.Unlock()

	return commandBuffer, nil
}

// holdFenceWaits makes every following Fence.Wait report on entered and then block until release is
// called, before it looks at the fence
func (g *testGPU) holdFenceWaits() (entered <-chan struct{}, release func()) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.waitEntered = make(chan struct{}, 16)
	g.waitGate = make(chan struct{})

	gate := g.waitGate
	var once sync.Once
	return g.waitEntered, func() { once.Do(func() { close(gate) }) }
}

func (g *testGPU) enterWait() {
	g.mutex.Lock()
	entered, gate := g.waitEntered, g.waitGate
	g.mutex.Unlock()

	if gate == nil {
		return
	}

	select {
	case entered <- struct{}{}:
	default:
	}
	<-gate
}

// callCounts returns how many queue calls (including failed ones) and fence queries the scheduler
// has made
func (g *testGPU) callCounts() (queue int64, fence int64) {
	return g.queueCalls.Load(), g.fenceCalls.Load()
}

func (g *testGPU) submit(batches []vsched.SubmitBatch, fence vsched.Fence) error {
	g.queueCalls.Add(1)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return err
		}
	}

	state := g.fences[fence]
	require.NotNil(g.t, state)

	submission := &gpuSubmission{done: make(chan struct{})}
	state.arm(submission)

	g.submissions = append(g.submissions, submission)
	g.batches = append(g.batches, batches)
	return nil
}

// failNextSubmits queues errors to return from the next Queue.Submit calls
func (g *testGPU) failNextSubmits(errs ...error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.submitErrs = append(g.submitErrs, errs...)
}

// complete signals the fence for a single submit index
func (g *testGPU) complete(submitIndex uint64) {
	g.mutex.Lock()
	submission := g.submissions[submitIndex-1]
	g.mutex.Unlock()

	submission.finish()
}

// completeThrough signals the fences for every submit up to and including submitIndex
func (g *testGPU) completeThrough(submitIndex uint64) {
	for i := uint64(1); i <= submitIndex; i++ {
		g.complete(i)
	}
}

func (g *testGPU) completeAll() {
	g.mutex.Lock()
	count := uint64(len(g.submissions))
	g.mutex.Unlock()

	g.completeThrough(count)
}

func (g *testGPU) failPresents(result vsched.AcquireResult, err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.presentResult = result
	g.presentErr = err
}

func (g *testGPU) loseDevice(err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for _, state := range g.fences {
		state.mutex.Lock()
		state.queryErr = err
		state.mutex.Unlock()
	}
}

func (g *testGPU) submitCount() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return len(g.batches)
}

func (g *testGPU) lastBatch() vsched.SubmitBatch {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	batches := g.batches[len(g.batches)-1]
	return batches[0]
}

func (g *testGPU) barriers() []barrierCall {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return append([]barrierCall(nil), g.barrierCalls...)
}

func newTestScheduler(t *testing.T, ctrl *gomock.Controller, options vsched.CreateOptions) (*vsched.Scheduler, *testGPU) {
	gpu := newTestGPU(t, ctrl)

	scheduler, err := vsched.New(testLogger(), gpu.device, gpu.queue, options)
	require.NoError(t, err)

	return scheduler, gpu
}

// trackedBuffer creates a buffer resource whose destroyer counts how often it is called
type trackedBuffer struct {
	vsched.Resource
	destroyCount int
}

func newTrackedBuffer(name string) *trackedBuffer {
	buffer := &trackedBuffer{}
	buffer.Init(vsched.ResourceKindBuffer, name, name, vsched.DestroyFunc(func() error {
		buffer.destroyCount++
		return nil
	}))
	return buffer
}

// useInNewSubmit records a command that uses the resources and submits it
func useInNewSubmit(t *testing.T, scheduler *vsched.Scheduler, resources ...*vsched.Resource) uint64 {
	recording, err := scheduler.PrepareCommandBuffer()
	require.NoError(t, err)

	for _, resource := range resources {
		require.NoError(t, recording.TrackResource(resource))
	}

	index, err := scheduler.Submit(testContext(t))
	require.NoError(t, err)
	return index
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
