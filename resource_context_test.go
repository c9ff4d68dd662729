package vsched_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/vsched"
	"golang.org/x/sync/errgroup"
)

func newResourceContextPool(maxContexts int) *vsched.ResourceContextPool {
	pool := &vsched.ResourceContextPool{}
	pool.Init(testLogger(), maxContexts)
	return pool
}

func TestResourceContextPool_TryAcquire(t *testing.T) {
	pool := newResourceContextPool(2)
	require.Equal(t, 2, pool.MaxContexts())

	first, err := pool.TryAcquire()
	require.NoError(t, err)
	second, err := pool.TryAcquire()
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, 2, pool.ActiveContexts())

	_, err = pool.TryAcquire()
	require.True(t, errors.Is(err, vsched.ErrResourceContextExhausted))

	first.Release()
	require.False(t, first.Valid())
	require.True(t, second.Valid())
	require.Equal(t, 1, pool.ActiveContexts())

	third, err := pool.TryAcquire()
	require.NoError(t, err)
	require.True(t, third.Valid())
}

func TestResourceContextPool_ReleaseTwice(t *testing.T) {
	pool := newResourceContextPool(1)

	resourceContext, err := pool.TryAcquire()
	require.NoError(t, err)

	resourceContext.Release()
	resourceContext.Release()
	require.Equal(t, 0, pool.ActiveContexts())

	// A double release must not hand out a second context
	_, err = pool.TryAcquire()
	require.NoError(t, err)
	_, err = pool.TryAcquire()
	require.True(t, errors.Is(err, vsched.ErrResourceContextExhausted))
}

func TestResourceContextPool_AcquireBlocks(t *testing.T) {
	pool := newResourceContextPool(1)

	held, err := pool.Acquire(testContext(t))
	require.NoError(t, err)

	var acquired atomic.Bool
	var group errgroup.Group
	group.Go(func() error {
		resourceContext, err := pool.Acquire(context.Background())
		if err != nil {
			return err
		}
		acquired.Store(true)
		resourceContext.Release()
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	require.False(t, acquired.Load())

	held.Release()
	require.NoError(t, group.Wait())
	require.True(t, acquired.Load())
}

func TestResourceContextPool_AcquireCancelled(t *testing.T) {
	pool := newResourceContextPool(1)

	held, err := pool.TryAcquire()
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, 1, pool.ActiveContexts())
}

func TestResourceContextPool_LimitsConcurrency(t *testing.T) {
	pool := newResourceContextPool(3)

	var current, peak atomic.Int32
	var group errgroup.Group
	for i := 0; i < 12; i++ {
		group.Go(func() error {
			resourceContext, err := pool.Acquire(context.Background())
			if err != nil {
				return err
			}
			defer resourceContext.Release()

			now := current.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}

			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}

	require.NoError(t, group.Wait())
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Equal(t, 0, pool.ActiveContexts())
}
