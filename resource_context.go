package vsched

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

const defaultMaxResourceContexts int = 1

// ResourceContextPool limits the number of goroutines that may create, update, or destroy
// resources at once. Each such goroutine holds a ResourceContext for as long as it works with
// resources.
type ResourceContextPool struct {
	logger *slog.Logger
	sem    *semaphore.Weighted

	maxContexts int
	active      atomic.Int32
	nextID      atomic.Uint64
}

func (p *ResourceContextPool) Init(logger *slog.Logger, maxContexts int) {
	if maxContexts <= 0 {
		maxContexts = defaultMaxResourceContexts
	}

	p.logger = logger
	p.maxContexts = maxContexts
	p.sem = semaphore.NewWeighted(int64(maxContexts))
}

func (p *ResourceContextPool) newContext() *ResourceContext {
	p.active.Add(1)
	return &ResourceContext{
		pool: p,
		id:   p.nextID.Add(1),
	}
}

// Acquire blocks until a resource context is available or the context is cancelled
func (p *ResourceContextPool) Acquire(ctx context.Context) (*ResourceContext, error) {
	p.logger.Debug("ResourceContextPool::Acquire")

	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire a resource context")
	}

	return p.newContext(), nil
}

// TryAcquire returns a resource context if one is available and ErrResourceContextExhausted
// otherwise
func (p *ResourceContextPool) TryAcquire() (*ResourceContext, error) {
	p.logger.Debug("ResourceContextPool::TryAcquire")

	if !p.sem.TryAcquire(1) {
		return nil, errors.Mark(errors.Newf("all %d resource contexts are in use", p.maxContexts), ErrResourceContextExhausted)
	}

	return p.newContext(), nil
}

// MaxContexts returns the number of contexts that may be held at once
func (p *ResourceContextPool) MaxContexts() int {
	return p.maxContexts
}

// ActiveContexts returns the number of contexts currently held
func (p *ResourceContextPool) ActiveContexts() int {
	return int(p.active.Load())
}

// ResourceContext grants the goroutine holding it permission to work with resources
type ResourceContext struct {
	pool     *ResourceContextPool
	id       uint64
	released atomic.Bool
}

// ID returns the number the pool assigned the context when it was acquired
func (c *ResourceContext) ID() uint64 {
	return c.id
}

// Valid returns false once the context has been released
func (c *ResourceContext) Valid() bool {
	return c != nil && !c.released.Load()
}

// Release returns the context to its pool. Releasing a context more than once has no effect.
func (c *ResourceContext) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}

	c.pool.active.Add(-1)
	c.pool.sem.Release(1)
}
