package pool

import "sync/atomic"

// borrowerState is the lifecycle of one outstanding acquire().
type borrowerState int32

const (
	borrowerPending borrowerState = iota
	borrowerCancelled
	borrowerDelivered
	borrowerFailed
)

// acquireResult is the single value or error a borrower's deferred
// computation completes with.
type acquireResult[R any] struct {
	ref *PooledRef[R]
	err error
}

// borrower represents one outstanding acquire() subscription: it is
// enqueued on construction and removed exactly once, when matched,
// cancelled, or failed.
type borrower[R any] struct {
	state atomic.Int32

	affinityKey string
	sequence    uint64

	result chan acquireResult[R]
}

func newBorrower[R any](affinityKey string, sequence uint64) *borrower[R] {
	b := &borrower[R]{
		affinityKey: affinityKey,
		sequence:    sequence,
		result:      make(chan acquireResult[R], 1),
	}
	b.state.Store(int32(borrowerPending))
	return b
}

func (b *borrower[R]) loadState() borrowerState {
	return borrowerState(b.state.Load())
}

// tryCancel transitions PENDING -> CANCELLED, returning true only if this
// call won the race against delivery/failure.
func (b *borrower[R]) tryCancel() bool {
	return b.state.CompareAndSwap(int32(borrowerPending), int32(borrowerCancelled))
}

// deliver transitions PENDING -> DELIVERED and publishes ref, returning
// false (without publishing) if the borrower was already cancelled.
func (b *borrower[R]) deliver(ref *PooledRef[R]) bool {
	if !b.state.CompareAndSwap(int32(borrowerPending), int32(borrowerDelivered)) {
		return false
	}
	b.result <- acquireResult[R]{ref: ref}
	return true
}

// fail transitions PENDING -> FAILED and publishes err, returning false
// (without publishing) if the borrower was already cancelled.
func (b *borrower[R]) fail(err error) bool {
	if !b.state.CompareAndSwap(int32(borrowerPending), int32(borrowerFailed)) {
		return false
	}
	b.result <- acquireResult[R]{err: err}
	return true
}
