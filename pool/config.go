package pool

import (
	"context"
	"time"

	"github.com/coachpo/respool/errs"
)

// Destroyer tears a resource down. Errors are swallowed by the pool core;
// a caller invoking it directly (e.g. in a test) still sees the error.
type Destroyer[R any] func(ctx context.Context, resource R) error

// ReleaseHandler restores a resource to a reusable state before it is
// either recycled or evaluated for eviction.
type ReleaseHandler[R any] func(ctx context.Context, resource R) error

// EvictionPredicate decides whether a resource should be destroyed instead
// of recycled, given the resource and its current metadata.
type EvictionPredicate[R any] func(resource R, meta Metadata) bool

// Scheduler publishes a delivery. The immediate scheduler (the default)
// runs fn synchronously on the drain-owning goroutine; any other
// implementation may offload fn, in which case the drain loop proceeds
// without waiting for it.
type Scheduler func(fn func())

// ImmediateScheduler runs fn synchronously, in place.
func ImmediateScheduler(fn func()) { fn() }

// PoolConfig is the immutable configuration produced by PoolBuilder.
type PoolConfig[R any] struct {
	Allocator          Allocator[R]
	Strategy           AllocationStrategy
	MaxPending         int // <0 unbounded, 0 fail-fast, >0 bounded cap
	ReleaseHandler     ReleaseHandler[R]
	DestroyHandler     Destroyer[R]
	EvictionPredicate  EvictionPredicate[R]
	Scheduler          Scheduler
	Metrics            PoolMetricsRecorder
	Ordering           OrderingMode
	ThreadAffinity     bool
	InitialSize        int
	Clock              func() time.Time
	MaxConcurrentWork  int // 0 = unbounded async allocator/destroy dispatch
}

// PoolBuilder accumulates validated settings and produces an immutable
// PoolConfig. Defaults: unbounded strategy, unbounded max
// pending, no-op release handler, no-op destroy handler, never-evict
// predicate, immediate scheduler, initial size 0, FIFO ordering,
// thread-affinity off. The default destroy handler does not close or
// dispose the resource; a destroyer set with WithDestroyHandler does that.
type PoolBuilder[R any] struct {
	cfg PoolConfig[R]
}

// From starts a PoolBuilder with the given allocator, applying the default
// for every other setting.
func From[R any](allocator Allocator[R]) *PoolBuilder[R] {
	return &PoolBuilder[R]{
		cfg: PoolConfig[R]{
			Allocator:      allocator,
			Strategy:       NewUnboundedStrategy(),
			MaxPending:     -1,
			ReleaseHandler: func(context.Context, R) error { return nil },
			DestroyHandler: func(context.Context, R) error { return nil },
			EvictionPredicate: func(R, Metadata) bool { return false },
			Scheduler:         ImmediateScheduler,
			Metrics:           NewNoopRecorder(),
			Ordering:          FIFO,
			Clock:             time.Now,
		},
	}
}

func (b *PoolBuilder[R]) WithStrategy(s AllocationStrategy) *PoolBuilder[R] {
	b.cfg.Strategy = s
	return b
}

func (b *PoolBuilder[R]) WithMaxPending(n int) *PoolBuilder[R] {
	b.cfg.MaxPending = n
	return b
}

func (b *PoolBuilder[R]) WithReleaseHandler(h ReleaseHandler[R]) *PoolBuilder[R] {
	b.cfg.ReleaseHandler = h
	return b
}

func (b *PoolBuilder[R]) WithDestroyHandler(d Destroyer[R]) *PoolBuilder[R] {
	b.cfg.DestroyHandler = d
	return b
}

func (b *PoolBuilder[R]) WithEvictionPredicate(p EvictionPredicate[R]) *PoolBuilder[R] {
	b.cfg.EvictionPredicate = p
	return b
}

func (b *PoolBuilder[R]) WithScheduler(s Scheduler) *PoolBuilder[R] {
	b.cfg.Scheduler = s
	return b
}

func (b *PoolBuilder[R]) WithMetrics(m PoolMetricsRecorder) *PoolBuilder[R] {
	b.cfg.Metrics = m
	return b
}

func (b *PoolBuilder[R]) WithOrdering(mode OrderingMode) *PoolBuilder[R] {
	b.cfg.Ordering = mode
	return b
}

func (b *PoolBuilder[R]) WithThreadAffinity(enabled bool) *PoolBuilder[R] {
	b.cfg.ThreadAffinity = enabled
	return b
}

func (b *PoolBuilder[R]) WithInitialSize(n int) *PoolBuilder[R] {
	b.cfg.InitialSize = n
	return b
}

func (b *PoolBuilder[R]) WithClock(clock func() time.Time) *PoolBuilder[R] {
	b.cfg.Clock = clock
	return b
}

func (b *PoolBuilder[R]) WithMaxConcurrentWork(n int) *PoolBuilder[R] {
	b.cfg.MaxConcurrentWork = n
	return b
}

// Build validates the accumulated settings and returns an immutable
// PoolConfig, matching object_pool.go's boundary-validation style (errors
// returned, never panics).
func (b *PoolBuilder[R]) Build() (PoolConfig[R], error) {
	cfg := b.cfg
	if cfg.Allocator == nil {
		return cfg, errs.New("pool", errs.CodeInvalid, errs.WithMessage("allocator is required"))
	}
	if cfg.Strategy == nil {
		cfg.Strategy = NewUnboundedStrategy()
	}
	if cfg.ReleaseHandler == nil {
		cfg.ReleaseHandler = func(context.Context, R) error { return nil }
	}
	if cfg.DestroyHandler == nil {
		cfg.DestroyHandler = func(context.Context, R) error { return nil }
	}
	if cfg.EvictionPredicate == nil {
		cfg.EvictionPredicate = func(R, Metadata) bool { return false }
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = ImmediateScheduler
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewNoopRecorder()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.InitialSize < 0 {
		return cfg, errs.New("pool", errs.CodeInvalid, errs.WithMessage("initial size cannot be negative"))
	}
	return cfg, nil
}
