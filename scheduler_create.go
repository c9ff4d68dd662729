package vsched

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific scheduler behaviors to activate or deactivate
type CreateFlags int32

var schedulerCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	schedulerCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return schedulerCreateFlagsMapping.FlagsToString(f)
}

const (
	// SchedulerCreateExternallySynchronized ensures that this scheduler and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism, but performance may improve
	// because internal mutexes are not used. The resource context pool still blocks.
	SchedulerCreateExternallySynchronized CreateFlags = 1 << iota
	// SchedulerCreateVSync starts the scheduler with vsync enabled for every render surface
	SchedulerCreateVSync
)

func init() {
	SchedulerCreateExternallySynchronized.Register("SchedulerCreateExternallySynchronized")
	SchedulerCreateVSync.Register("SchedulerCreateVSync")
}

// CreateOptions contains optional settings when creating a scheduler
type CreateOptions struct {
	// Flags indicates specific scheduler behaviors to activate or deactivate
	Flags CreateFlags

	// MaxInFlightSubmits is the number of submissions that may be executing on the GPU at once. Once
	// this many are in flight, Submit blocks until the oldest finishes. Defaults to
	// DefaultMaxInFlightSubmits.
	MaxInFlightSubmits int

	// MaxResourceContexts is the number of goroutines that may hold a ResourceContext at once.
	// Defaults to 1.
	MaxResourceContexts int

	// FenceTimeout bounds every individual fence wait made by the scheduler. A wait that exceeds it
	// returns ErrTimeout. Defaults to DefaultFenceTimeout.
	FenceTimeout time.Duration

	// BarrierLookback is the number of recent barriers a new barrier request is compared against
	// when looking for one to merge into. Defaults to 8.
	BarrierLookback int
}

// New creates a new Scheduler
//
// logger - The logger the scheduler traces its calls to. A nil logger discards all output.
//
// device - Creates the fences, semaphores, command buffers and swapchains the scheduler owns
//
// queue - The queue that submissions and presentation go to
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device Device, queue Queue, options CreateOptions) (*Scheduler, error) {
	if device == nil {
		return nil, errors.New("vsched.New requires a Device")
	}
	if queue == nil {
		return nil, errors.New("vsched.New requires a Queue")
	}
	if options.MaxInFlightSubmits < 0 {
		return nil, errors.Newf("vsched.CreateOptions.MaxInFlightSubmits must not be negative, but was %d", options.MaxInFlightSubmits)
	}
	if options.FenceTimeout < 0 {
		return nil, errors.Newf("vsched.CreateOptions.FenceTimeout must not be negative, but was %s", options.FenceTimeout)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	useMutex := options.Flags&SchedulerCreateExternallySynchronized == 0

	scheduler := &Scheduler{
		useMutex:        useMutex,
		logger:          logger,
		device:          device,
		queue:           queue,
		createFlags:     options.Flags,
		fenceTimeout:    options.FenceTimeout,
		barrierLookback: options.BarrierLookback,

		surfaces: swiss.NewMap[uint64, *RenderSurface](42),
	}

	if scheduler.fenceTimeout == 0 {
		scheduler.fenceTimeout = DefaultFenceTimeout
	}

	if scheduler.barrierLookback <= 0 {
		scheduler.barrierLookback = defaultBarrierLookback
	}

	maxInFlightSubmits := options.MaxInFlightSubmits
	if maxInFlightSubmits == 0 {
		maxInFlightSubmits = DefaultMaxInFlightSubmits
	}

	scheduler.recordingMutex.UseMutex = useMutex
	scheduler.surfacesMutex.UseMutex = useMutex
	scheduler.vsync.Store(options.Flags&SchedulerCreateVSync != 0)

	scheduler.ring.Init(useMutex, logger, device, maxInFlightSubmits, scheduler.fenceTimeout)
	scheduler.deferred.Init(useMutex, logger)
	scheduler.contexts.Init(logger, options.MaxResourceContexts)
	scheduler.renderPasses.Init(useMutex)

	logger.Debug("Scheduler::New",
		slog.Int("MaxInFlightSubmits", maxInFlightSubmits),
		slog.Int("MaxResourceContexts", scheduler.contexts.MaxContexts()),
		slog.Duration("FenceTimeout", scheduler.fenceTimeout),
		slog.String("Flags", options.Flags.String()),
	)

	return scheduler, nil
}
