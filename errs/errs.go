// Package errs provides structured error types and helpers for respool.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a pool error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller, such as a
	// malformed PoolBuilder configuration.
	CodeInvalid Code = "invalid_request"
	// CodePendingLimit indicates the pending-acquire queue was at its
	// configured capacity.
	CodePendingLimit Code = "pending_limit"
	// CodeShutdown indicates the pool has been disposed
	// (PoolShutdownException).
	CodeShutdown Code = "shutdown"
	// CodeAllocate indicates the user-supplied allocator failed.
	CodeAllocate Code = "allocate"
	// CodeReset indicates the user-supplied release handler failed.
	CodeReset Code = "reset"
	// CodeDestroy indicates the user-supplied destroy handler failed. Destroy
	// failures are swallowed by the pool core but may still be surfaced by
	// callers that invoke a destroy handler directly (e.g. adapter tests).
	CodeDestroy Code = "destroy"
	// CodeUnavailable indicates a collaborator (such as the asyncpool worker
	// pool, when closed or at capacity) is unable to service a request.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across respool.
type E struct {
	Component string
	Code      Code
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "respool"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E with the same Code, so sentinel pool
// errors (ErrPendingLimit, ErrShutdown, ...) can be compared with errors.Is
// regardless of Component or Message.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}
