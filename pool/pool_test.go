package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type resource struct {
	id int
}

func newCountingAllocator(counter *atomic.Int64) Allocator[*resource] {
	return func(context.Context) (*resource, error) {
		id := counter.Add(1)
		return &resource{id: int(id)}, nil
	}
}

func TestAcquireReleaseRecyclesSameResource(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	ctx := context.Background()
	ref1, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := ref1.Resource()
	require.NoError(t, ref1.Release())

	ref2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, first, ref2.Resource())
	require.EqualValues(t, 2, ref2.Metadata().AcquireCount)
}

func TestInvalidateYieldsDifferentResource(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	ctx := context.Background()
	ref1, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := ref1.Resource()
	require.NoError(t, ref1.Invalidate())

	ref2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, first, ref2.Resource())
}

func TestReleaseTwiceIsNoOp(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).Build()
	require.NoError(t, err)
	p := New(cfg)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release())
	require.NoError(t, ref.Release())
	require.EqualValues(t, 0, p.acquired.Load())
}

func TestEvictionOnAcquireDestroysStaleIdleSlot(t *testing.T) {
	var counter atomic.Int64
	var destroyed atomic.Int32
	// stale flips after the release, so the predicate keeps resource 1 at
	// release time (it goes idle) and evicts it on the next acquire.
	var stale atomic.Bool
	builder := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		WithMaxPending(0).
		WithDestroyHandler(func(context.Context, *resource) error {
			destroyed.Add(1)
			return nil
		}).
		WithEvictionPredicate(func(r *resource, _ Metadata) bool {
			return stale.Load() && r.id == 1
		})
	cfg, err := builder.Build()
	require.NoError(t, err)
	p := New(cfg)

	ctx := context.Background()
	ref1, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ref1.Resource().id)
	require.NoError(t, ref1.Release())
	stale.Store(true)

	ref2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ref2.Resource().id)
	require.Eventually(t, func() bool { return destroyed.Load() == 1 }, time.Second, time.Millisecond)
	require.EqualValues(t, 1, p.live.Load())
}

func TestCancellationMidFlightNeverConsumesAPermit(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	refA, err := p.Acquire(context.Background())
	require.NoError(t, err)

	bctx, cancel := context.WithCancel(context.Background())
	bResult := make(chan error, 1)
	go func() {
		_, err := p.Acquire(bctx)
		bResult <- err
	}()

	require.Eventually(t, func() bool { return p.pending.size() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-bResult:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}

	require.NoError(t, refA.Release())

	require.Eventually(t, func() bool { return p.idle.size() == 1 }, time.Second, time.Millisecond)
	require.EqualValues(t, 0, p.acquired.Load())
	require.EqualValues(t, 1, p.live.Load())
}

func TestFIFOOrderingServesEarlierBorrowerFirst(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		WithOrdering(FIFO).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	refA, err := p.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	go func() {
		ref, err := p.Acquire(context.Background())
		if err == nil {
			order <- 1
			_ = ref.Release()
		}
	}()
	require.Eventually(t, func() bool { return p.pending.size() == 1 }, time.Second, time.Millisecond)

	go func() {
		ref, err := p.Acquire(context.Background())
		if err == nil {
			order <- 2
			_ = ref.Release()
		}
	}()
	require.Eventually(t, func() bool { return p.pending.size() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, refA.Release())

	first := <-order
	require.Equal(t, 1, first)
}

func TestFailFastWhenPendingLimitZeroAndNoPermits(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		WithMaxPending(0).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.True(t, errors.Is(err, ErrPendingLimit))
}

func TestDisposeFailsPendingAndDrainsIdle(t *testing.T) {
	var counter atomic.Int64
	var destroyed atomic.Int32
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		WithDestroyHandler(func(context.Context, *resource) error {
			destroyed.Add(1)
			return nil
		}).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ref.Release())

	require.NoError(t, p.Dispose(context.Background()))
	require.True(t, p.IsDisposed())
	require.EqualValues(t, 1, destroyed.Load())
	require.Equal(t, 0, p.idle.size())

	_, err = p.Acquire(context.Background())
	require.True(t, errors.Is(err, ErrShutdown))
}

func TestReleaseAfterDisposeDestroysUnconditionally(t *testing.T) {
	var counter atomic.Int64
	var destroyed atomic.Int32
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(1)).
		WithDestroyHandler(func(context.Context, *resource) error {
			destroyed.Add(1)
			return nil
		}).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	ref, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Dispose(context.Background()))
	require.Equal(t, 0, p.idle.size())

	// A release that completes after Dispose (e.g. the in-flight allocator's
	// auto-release, or a caller that held the ref across shutdown) must
	// destroy the resource rather than repopulate the already-drained idle
	// store.
	require.NoError(t, ref.Release())
	require.Eventually(t, func() bool { return destroyed.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, p.idle.size())
	require.EqualValues(t, 0, p.live.Load())
}

func TestPermitGrantedMatchesLiveAfterChurn(t *testing.T) {
	var counter atomic.Int64
	cfg, err := From(newCountingAllocator(&counter)).
		WithStrategy(NewBoundedStrategy(2)).
		Build()
	require.NoError(t, err)
	p := New(cfg)

	ctx := context.Background()
	ref1, err := p.Acquire(ctx)
	require.NoError(t, err)
	ref2, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.Equal(t, p.cfg.Strategy.PermitGranted(), int(p.live.Load()))

	require.NoError(t, ref1.Release())
	require.NoError(t, ref2.Invalidate())

	require.Eventually(t, func() bool {
		return p.cfg.Strategy.PermitGranted() == int(p.live.Load())
	}, time.Second, time.Millisecond)
}
