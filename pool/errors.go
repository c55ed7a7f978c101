package pool

import "github.com/coachpo/respool/errs"

// ErrPendingLimit is returned by Acquire when the pending-acquire queue is at
// its configured capacity and no idle slot or permit can serve the request
// immediately.
var ErrPendingLimit = errs.New("pool", errs.CodePendingLimit, errs.WithMessage("pending acquire limit exceeded"))

// ErrShutdown is returned by Acquire once the pool has been disposed.
var ErrShutdown = errs.New("pool", errs.CodeShutdown, errs.WithMessage("pool has been disposed"))

// wrapAllocate wraps an allocator failure so callers can still match it with
// errors.Is against the user's original error via Unwrap.
func wrapAllocate(cause error) error {
	return errs.New("pool", errs.CodeAllocate, errs.WithMessage("allocator failed"), errs.WithCause(cause))
}

// wrapReset wraps a release-handler failure, forwarded to the releaser.
func wrapReset(cause error) error {
	return errs.New("pool", errs.CodeReset, errs.WithMessage("release handler failed"), errs.WithCause(cause))
}
