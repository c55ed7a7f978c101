// Package pool implements a generic, non-blocking resource pool: a
// bounded or unbounded set of expensive-to-create resources multiplexed
// among concurrent borrowers via an asynchronous acquire/release state
// machine.
//
// # Invariants
//
//  1. live = acquired + idle + inflightAllocations, inflightAllocations >= 0.
//  2. live <= strategy.PermitMaximum().
//  3. strategy.PermitGranted() == live.
//  4. A borrower is in the pending queue XOR delivered/failed/cancelled,
//     exactly once.
//  5. A PooledRef is reachable from the idle store or from exactly one
//     active borrower, never both.
//  6. After Dispose, pending is TERMINATED, idle is drained, no further
//     allocation occurs.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
)

// pendingSource abstracts over the plain FIFO/LIFO queue and the
// thread-affinity queue so the drain loop does not need to branch on
// cfg.ThreadAffinity at every call site.
type pendingSource[R any] interface {
	push(b *borrower[R]) int
	pollDefault() *borrower[R]
	pollAffine(key string) *borrower[R]
	size() int
	drainAll() []*borrower[R]
}

// terminatedSource is swapped in for pending once Dispose has run,
// implementing the `pending = TERMINATED` sentinel.
type terminatedSource[R any] struct{}

func (terminatedSource[R]) push(*borrower[R]) int          { return 0 }
func (terminatedSource[R]) pollDefault() *borrower[R]      { return nil }
func (terminatedSource[R]) pollAffine(string) *borrower[R] { return nil }
func (terminatedSource[R]) size() int                      { return 0 }
func (terminatedSource[R]) drainAll() []*borrower[R]       { return nil }

// Pool multiplexes resources of type R among concurrent borrowers.
type Pool[R any] struct {
	cfg PoolConfig[R]

	live     atomic.Int64
	acquired atomic.Int64
	wip      atomic.Int32
	disposed atomic.Bool

	pendingMu sync.RWMutex // guards swapping pending to terminatedSource
	pending   pendingSource[R]

	idle *idleStore[R]

	seq atomic.Uint64

	work *concpool.Pool
}

// New constructs a Pool from cfg. cfg is normally produced by
// PoolBuilder.Build.
func New[R any](cfg PoolConfig[R]) *Pool[R] {
	var pending pendingSource[R]
	if cfg.ThreadAffinity {
		pending = newAffinityQueue[R]()
	} else {
		pending = newPendingQueue[R](cfg.Ordering)
	}

	work := concpool.New()
	if cfg.MaxConcurrentWork > 0 {
		work = work.WithMaxGoroutines(cfg.MaxConcurrentWork)
	}

	p := &Pool[R]{
		cfg:     cfg,
		pending: pending,
		idle:    newIdleStore[R](),
		work:    work,
	}

	for i := 0; i < cfg.InitialSize; i++ {
		p.preallocate()
	}

	return p
}

func (p *Pool[R]) now() time.Time { return p.cfg.Clock() }

// preallocate synchronously allocates one resource into the idle store at
// construction time, bypassing the permit/drain machinery since the pool
// has no borrowers yet.
func (p *Pool[R]) preallocate() {
	granted := p.cfg.Strategy.TryGetPermits(1)
	if granted == 0 {
		return
	}
	p.live.Add(1)
	r, err := p.cfg.Allocator(context.Background())
	if err != nil {
		p.live.Add(-1)
		p.cfg.Strategy.ReturnPermits(1)
		return
	}
	now := p.now()
	p.idle.offer(&idleSlot[R]{resource: r, allocationTime: now, idleSince: now})
}

// IsDisposed reports whether Dispose has been called.
func (p *Pool[R]) IsDisposed() bool { return p.disposed.Load() }

// Acquire blocks until a PooledRef is delivered, the context is cancelled,
// or the acquisition fails.
func (p *Pool[R]) Acquire(ctx context.Context) (*PooledRef[R], error) {
	return p.AcquireAffine(ctx, "")
}

// AcquireAffine is Acquire with an explicit affinity key, used by the
// thread-affinity pool variant in place of subscribing-thread identity
// (Go goroutines carry no stable OS-thread id).
func (p *Pool[R]) AcquireAffine(ctx context.Context, affinityKey string) (*PooledRef[R], error) {
	if p.disposed.Load() {
		return nil, ErrShutdown
	}

	if ref, ok, err := p.tryImmediate(); err != nil {
		return nil, err
	} else if ok {
		return ref, nil
	} else if p.cfg.MaxPending == 0 {
		return nil, ErrPendingLimit
	}

	b := newBorrower[R](affinityKey, p.seq.Add(1))

	p.pendingMu.RLock()
	if p.disposed.Load() {
		p.pendingMu.RUnlock()
		return nil, ErrShutdown
	}
	if p.cfg.MaxPending > 0 && p.pending.size() >= p.cfg.MaxPending {
		p.pendingMu.RUnlock()
		return nil, ErrPendingLimit
	}
	p.pending.push(b)
	p.pendingMu.RUnlock()

	p.drain("")

	select {
	case res := <-b.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.ref, nil
	case <-ctx.Done():
		if b.tryCancel() {
			return nil, ctx.Err()
		}
		// Delivery or failure won the race; drain whichever result arrived
		// so the channel send above never blocks, then reconcile state.
		res := <-b.result
		if res.err != nil {
			return nil, res.err
		}
		// Cancellation lost the race against delivery: auto-release to
		// avoid a permit leak.
		_ = res.ref.Release()
		return nil, ctx.Err()
	}
}

// tryImmediate implements the maxPending == 0 fail-fast fast path: an idle
// slot (honoring eviction) or a synchronous permit grant can still satisfy
// the acquisition even though the pending queue has zero capacity.
func (p *Pool[R]) tryImmediate() (*PooledRef[R], bool, error) {
	if p.cfg.MaxPending != 0 {
		return nil, false, nil
	}

	for {
		slot := p.idle.poll()
		if slot == nil {
			break
		}
		meta := Metadata{
			AcquireCount:       slot.acquireCount,
			AllocationTime:     slot.allocationTime,
			LastReleaseTime:    slot.idleSince,
			LifeTime:           p.now().Sub(slot.allocationTime),
			IdleTimeBeforeThis: p.now().Sub(slot.idleSince),
		}
		if p.cfg.EvictionPredicate(slot.resource, meta) {
			p.live.Add(-1)
			p.cfg.Strategy.ReturnPermits(1)
			p.asyncDestroy(slot.resource, meta.LifeTime)
			continue
		}
		p.acquired.Add(1)
		ref := newPooledRef(p, slot.resource, slot.acquireCount+1, slot.allocationTime, meta.IdleTimeBeforeThis)
		p.cfg.Metrics.RecordIdleTimeOnRecycle(meta.IdleTimeBeforeThis)
		return ref, true, nil
	}

	granted := p.cfg.Strategy.TryGetPermits(1)
	if granted == 0 {
		return nil, false, nil
	}
	p.live.Add(1)
	p.acquired.Add(1)

	start := p.now()
	r, err := p.cfg.Allocator(context.Background())
	if err != nil {
		p.live.Add(-1)
		p.acquired.Add(-1)
		p.cfg.Strategy.ReturnPermits(1)
		p.cfg.Metrics.RecordAllocationFailure(p.now().Sub(start))
		return nil, false, wrapAllocate(err)
	}
	p.cfg.Metrics.RecordAllocationSuccess(p.now().Sub(start))
	now := p.now()
	ref := newPooledRef(p, r, 1, now, 0)
	return ref, true, nil
}

// drain triggers the work-stealing serializer. Any goroutine may call it;
// the first to flip wip 0->1 becomes the owner and runs drainLoop, while
// concurrent callers increment wip and return immediately.
//
// releaserKey, when non-empty, is the affinity key the caller most recently
// released under, used to prefer a same-key borrower in case B.
func (p *Pool[R]) drain(releaserKey string) {
	if !p.wip.CompareAndSwap(0, 1) {
		p.wip.Add(1)
		return
	}
	p.drainLoop(releaserKey)
}

func (p *Pool[R]) drainLoop(releaserKey string) {
	missed := int32(1)
	for {
		for missed > 0 {
			if p.disposed.Load() {
				break
			}
			if !p.drainPass(releaserKey) {
				break
			}
		}
		missed = p.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// drainPass runs at most one iteration of the drain loop's case analysis,
// returning true if it made progress and should be called again.
func (p *Pool[R]) drainPass(releaserKey string) bool {
	idleCount := p.idle.size()
	pendCount := p.pending.size()
	liveNow := p.live.Load()
	permitMax := int64(p.cfg.Strategy.PermitMaximum())

	switch {
	case idleCount > 0 && pendCount > 0:
		return p.drainCaseB(releaserKey)
	case idleCount == 0 && pendCount > 0 && liveNow < permitMax:
		return p.drainCaseA()
	default:
		return false
	}
}

// drainCaseA allocates a fresh resource for the oldest (or most recent, for
// LIFO) pending borrower, dispatched asynchronously.
//
// Counter bookkeeping follows the pool's invariants rather than the literal
// pseudocode: live (not acquired) is incremented at dispatch alongside
// inflightAllocations, so invariant 1 (live = acquired + idle +
// inflightAllocations) never double-counts the in-flight unit. On success
// inflightAllocations transfers into acquired; on error the whole
// reservation rolls back out of live.
func (p *Pool[R]) drainCaseA() bool {
	granted := p.cfg.Strategy.TryGetPermits(1)
	if granted == 0 {
		return false
	}
	b := p.pending.pollDefault()
	if b == nil || b.loadState() == borrowerCancelled {
		p.cfg.Strategy.ReturnPermits(granted)
		return true
	}

	p.live.Add(1)
	start := p.now()

	p.work.Go(func() {
		r, err := p.cfg.Allocator(context.Background())
		latency := p.now().Sub(start)
		if err != nil {
			p.live.Add(-1)
			p.cfg.Strategy.ReturnPermits(1)
			p.cfg.Metrics.RecordAllocationFailure(latency)
			b.fail(wrapAllocate(err))
			p.drain("")
			return
		}
		p.cfg.Metrics.RecordAllocationSuccess(latency)
		p.acquired.Add(1)
		now := p.now()
		ref := newPooledRef(p, r, 1, now, 0)
		p.cfg.Scheduler(func() {
			if !b.deliver(ref) {
				// Cancellation won the race; auto-release to avoid a
				// permit leak.
				_ = ref.Release()
			}
		})
	})
	return true
}

// drainCaseB matches an idle slot with a pending borrower, preferring the
// releasing caller's affinity key when thread affinity is enabled.
func (p *Pool[R]) drainCaseB(releaserKey string) bool {
	slot := p.idle.poll()
	if slot == nil {
		return true
	}

	var b *borrower[R]
	fastPath := false
	if p.cfg.ThreadAffinity && releaserKey != "" {
		if b = p.pending.pollAffine(releaserKey); b != nil {
			fastPath = true
		}
	}
	if b == nil {
		b = p.pending.pollDefault()
	}
	if b == nil {
		p.idle.offer(slot)
		return false
	}
	if b.loadState() == borrowerCancelled {
		p.idle.offer(slot)
		return true
	}

	now := p.now()
	meta := Metadata{
		AcquireCount:       slot.acquireCount,
		AllocationTime:     slot.allocationTime,
		LastReleaseTime:    slot.idleSince,
		LifeTime:           now.Sub(slot.allocationTime),
		IdleTimeBeforeThis: now.Sub(slot.idleSince),
	}
	if p.cfg.EvictionPredicate(slot.resource, meta) {
		p.live.Add(-1)
		p.cfg.Strategy.ReturnPermits(1)
		// Put the borrower back on pending (requeue appends it); it was
		// not served, only the stale slot was inspected.
		p.requeue(b)
		p.asyncDestroy(slot.resource, meta.LifeTime)
		return true
	}

	p.acquired.Add(1)
	p.cfg.Metrics.RecordIdleTimeOnRecycle(meta.IdleTimeBeforeThis)
	if p.cfg.ThreadAffinity {
		if fastPath {
			p.cfg.Metrics.RecordFastPath()
		} else {
			p.cfg.Metrics.RecordSlowPath()
		}
	}

	ref := newPooledRef(p, slot.resource, slot.acquireCount+1, slot.allocationTime, meta.IdleTimeBeforeThis)
	p.cfg.Scheduler(func() {
		if !b.deliver(ref) {
			_ = ref.Release()
		}
	})
	return true
}

// requeue pushes a not-yet-served borrower back onto pending, used when
// case B discards a stale idle slot without having actually matched it to
// b. Pushed to the back; the borrower's original position is not
// recoverable once polled, a best-effort compromise for cross-thread
// interleavings where strict ordering was never guaranteed anyway.
func (p *Pool[R]) requeue(b *borrower[R]) {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()
	if p.disposed.Load() {
		b.fail(ErrShutdown)
		return
	}
	p.pending.push(b)
}

func (p *Pool[R]) asyncDestroy(r R, lifetime time.Duration) {
	p.work.Go(func() {
		start := p.now()
		_ = p.cfg.DestroyHandler(context.Background(), r)
		p.cfg.Metrics.RecordDestroy(p.now().Sub(start))
		p.cfg.Metrics.RecordLifetimeOnDestroy(lifetime)
	})
}

// release implements PooledRef.Release / ReleaseAffine.
func (p *Pool[R]) release(ref *PooledRef[R], affinityKey string) error {
	p.acquired.Add(-1)

	start := p.now()
	err := p.cfg.ReleaseHandler(context.Background(), ref.resource)
	p.cfg.Metrics.RecordReset(p.now().Sub(start))

	now := p.now()
	ref.releaseTime = now
	lifetime := now.Sub(ref.allocationTime)

	if err != nil {
		p.live.Add(-1)
		p.cfg.Strategy.ReturnPermits(1)
		p.asyncDestroy(ref.resource, lifetime)
		p.drain(affinityKey)
		return wrapReset(err)
	}

	meta := Metadata{
		AcquireCount:    ref.acquireCount,
		AllocationTime:  ref.allocationTime,
		LastReleaseTime: now,
		LifeTime:        lifetime,
	}
	// Post-shutdown releases destroy unconditionally: Dispose has already
	// drained idle and stopped serving borrowers, so offering this slot to
	// idle here would orphan it past idle.drainAll()'s reach.
	if p.disposed.Load() || p.cfg.EvictionPredicate(ref.resource, meta) {
		p.live.Add(-1)
		p.cfg.Strategy.ReturnPermits(1)
		p.asyncDestroy(ref.resource, lifetime)
		p.drain(affinityKey)
		return nil
	}

	p.idle.offer(&idleSlot[R]{
		resource:       ref.resource,
		acquireCount:   ref.acquireCount,
		allocationTime: ref.allocationTime,
		idleSince:      now,
	})
	p.cfg.Metrics.RecordRecycled()
	p.drain(affinityKey)
	return nil
}

// invalidate implements PooledRef.Invalidate: unconditional
// destroy path, independent of the release handler and eviction predicate.
func (p *Pool[R]) invalidate(ref *PooledRef[R]) error {
	p.acquired.Add(-1)
	p.live.Add(-1)
	p.cfg.Strategy.ReturnPermits(1)
	lifetime := p.now().Sub(ref.allocationTime)
	p.asyncDestroy(ref.resource, lifetime)
	p.drain("")
	return nil
}

// Dispose terminates the pool: pending swaps to the TERMINATED sentinel,
// outstanding borrowers are failed with ErrShutdown, idle resources are
// destroyed, and no further allocation occurs.
func (p *Pool[R]) Dispose(ctx context.Context) error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}

	p.pendingMu.Lock()
	old := p.pending
	p.pending = terminatedSource[R]{}
	p.pendingMu.Unlock()

	for _, b := range old.drainAll() {
		b.fail(ErrShutdown)
	}

	for _, slot := range p.idle.drainAll() {
		lifetime := p.now().Sub(slot.allocationTime)
		start := p.now()
		_ = p.cfg.DestroyHandler(ctx, slot.resource)
		p.cfg.Metrics.RecordDestroy(p.now().Sub(start))
		p.cfg.Metrics.RecordLifetimeOnDestroy(lifetime)
	}

	p.work.Wait()
	return nil
}
