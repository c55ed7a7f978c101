// Package vmpool pools goja JavaScript interpreter runtimes, the "large
// object" resource example from the pool's purpose statement: constructing
// a *goja.Runtime and registering its global bindings is expensive enough
// to be worth recycling across invocations.
package vmpool

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/coachpo/respool/pool"
)

// Config describes how a freshly allocated runtime is prepared before it
// enters the pool.
type Config struct {
	// Globals registers functions/values every pooled runtime should carry,
	// run once per allocation (not per borrow).
	Globals func(*goja.Runtime) error
	// MaxBorrowsBeforeEviction bounds how many times a runtime may be
	// borrowed before it is evicted (0 disables the bound), guarding
	// against slow memory growth inside long-lived interpreters.
	MaxBorrowsBeforeEviction int64
}

// Allocator constructs a fresh *goja.Runtime and applies cfg.Globals.
func Allocator(cfg Config) pool.Allocator[*goja.Runtime] {
	return func(context.Context) (*goja.Runtime, error) {
		vm := goja.New()
		if cfg.Globals != nil {
			if err := cfg.Globals(vm); err != nil {
				return nil, fmt.Errorf("initialize runtime globals: %w", err)
			}
		}
		return vm, nil
	}
}

// ReleaseHandler clears any pending interrupt on the runtime so the next
// borrower starts with a runnable interpreter. It does not reset values a
// borrower left on the global object.
func ReleaseHandler() pool.ReleaseHandler[*goja.Runtime] {
	return func(_ context.Context, vm *goja.Runtime) error {
		vm.ClearInterrupt()
		return nil
	}
}

// EvictionPredicate retires a runtime after it has been borrowed
// maxBorrows times, bounding unbounded heap growth inside a single
// long-lived interpreter instance.
func EvictionPredicate(maxBorrows int64) pool.EvictionPredicate[*goja.Runtime] {
	return func(_ *goja.Runtime, meta pool.Metadata) bool {
		return maxBorrows > 0 && meta.AcquireCount >= maxBorrows
	}
}

// Destroyer interrupts any running script so the runtime's goroutine (if
// any script is mid-execution) unwinds before the value is dropped.
func Destroyer() pool.Destroyer[*goja.Runtime] {
	return func(_ context.Context, vm *goja.Runtime) error {
		vm.Interrupt("pool: destroy")
		return nil
	}
}

// New builds a Pool of goja runtimes from cfg.
func New(cfg Config, configure func(*pool.PoolBuilder[*goja.Runtime]) *pool.PoolBuilder[*goja.Runtime]) (*pool.Pool[*goja.Runtime], error) {
	builder := pool.From(Allocator(cfg)).
		WithReleaseHandler(ReleaseHandler()).
		WithDestroyHandler(Destroyer()).
		WithEvictionPredicate(EvictionPredicate(cfg.MaxBorrowsBeforeEviction))

	if configure != nil {
		builder = configure(builder)
	}

	poolCfg, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return pool.New(poolCfg), nil
}
