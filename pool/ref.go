package pool

import (
	"sync/atomic"
	"time"
)

// Metadata describes a PooledRef's lifecycle at the moment it is read:
// acquire count, allocation/release timestamps, and derived life/idle
// durations computed from the pool's clock.
type Metadata struct {
	AcquireCount       int64
	AllocationTime     time.Time
	LastReleaseTime    time.Time
	LifeTime           time.Duration
	IdleTimeBeforeThis time.Duration
}

// terminalState tracks which of release/invalidate has fired for a
// PooledRef's current acquisition, guarding against double-completion.
type terminalState int32

const (
	terminalPending terminalState = iota
	terminalDone
)

// PooledRef grants exclusive use of a resource until Release or Invalidate
// is called. Exactly one of those calls takes effect per acquisition; any
// further call is a no-op, guarded by a CAS flag rather than a mutex so the
// check never blocks a concurrent completion path.
type PooledRef[R any] struct {
	pool *Pool[R]

	resource R

	acquireCount   int64
	allocationTime time.Time
	releaseTime    time.Time
	idleDuration   time.Duration

	terminal atomic.Int32
}

func newPooledRef[R any](p *Pool[R], resource R, acquireCount int64, allocationTime time.Time, idleDuration time.Duration) *PooledRef[R] {
	return &PooledRef[R]{
		pool:           p,
		resource:       resource,
		acquireCount:   acquireCount,
		allocationTime: allocationTime,
		idleDuration:   idleDuration,
	}
}

// Resource returns the underlying resource. It remains valid until Release
// or Invalidate completes.
func (r *PooledRef[R]) Resource() R {
	return r.resource
}

// Metadata reports the ref's current lifecycle snapshot, computing
// LifeTime against the pool's clock.
func (r *PooledRef[R]) Metadata() Metadata {
	now := r.pool.now()
	return Metadata{
		AcquireCount:       r.acquireCount,
		AllocationTime:     r.allocationTime,
		LastReleaseTime:    r.releaseTime,
		LifeTime:           now.Sub(r.allocationTime),
		IdleTimeBeforeThis: r.idleDuration,
	}
}

// markTerminal flips the once-guard; it returns true exactly once per ref,
// on whichever of Release/Invalidate/auto-release first calls it.
func (r *PooledRef[R]) markTerminal() bool {
	return r.terminal.CompareAndSwap(int32(terminalPending), int32(terminalDone))
}

// Release returns the resource to the pool, subject to the reset pipeline
// and eviction predicate. A second call is a no-op.
func (r *PooledRef[R]) Release() error {
	return r.ReleaseAffine("")
}

// ReleaseAffine is Release with an explicit affinity key identifying the
// releasing caller, consulted by the thread-affinity pool variant to
// prefer handing the freed slot to a same-key waiter. Ignored by pools built without WithThreadAffinity(true).
func (r *PooledRef[R]) ReleaseAffine(affinityKey string) error {
	if !r.markTerminal() {
		return nil
	}
	return r.pool.release(r, affinityKey)
}

// Invalidate unconditionally destroys the resource. A second
// call is a no-op.
func (r *PooledRef[R]) Invalidate() error {
	if !r.markTerminal() {
		return nil
	}
	return r.pool.invalidate(r)
}
