// Package config loads YAML-defined pool profiles: the subset of
// PoolConfig settings that are simple enough to express declaratively
// (permit budgets, pending caps, ordering, thread affinity, initial
// size). Handlers, the allocator, and the eviction predicate stay
// code-defined and are layered on top of a loaded Profile by the caller.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/respool/pool"
)

// StrategyKind selects which AllocationStrategy a Profile builds.
type StrategyKind string

const (
	StrategyUnbounded   StrategyKind = "unbounded"
	StrategyBounded     StrategyKind = "bounded"
	StrategyRateLimited StrategyKind = "rateLimited"
)

// Profile is the declarative subset of a pool's configuration.
type Profile struct {
	Strategy struct {
		Kind         StrategyKind `yaml:"kind"`
		Max          int          `yaml:"max"`
		RatePerSec   float64      `yaml:"ratePerSec"`
		Burst        int          `yaml:"burst"`
	} `yaml:"strategy"`

	MaxPending        int    `yaml:"maxPending"`
	Ordering          string `yaml:"ordering"` // "fifo" or "lifo"
	ThreadAffinity    bool   `yaml:"threadAffinity"`
	InitialSize       int    `yaml:"initialSize"`
	MaxConcurrentWork int    `yaml:"maxConcurrentWork"`
}

// Load reads and validates a Profile from the named YAML file.
func Load(_ context.Context, path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("unmarshal profile: %w", err)
	}

	p.normalise()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Default returns the profile matching the pool builder's defaults:
// unbounded strategy, unbounded max pending, FIFO ordering, affinity off,
// initial size 0.
func Default() Profile {
	p := Profile{MaxPending: -1, Ordering: "fifo"}
	p.Strategy.Kind = StrategyUnbounded
	return p
}

func (p *Profile) normalise() {
	if p.Ordering == "" {
		p.Ordering = "fifo"
	}
	p.Ordering = strings.ToLower(strings.TrimSpace(p.Ordering))
	if p.Strategy.Kind == "" {
		p.Strategy.Kind = StrategyUnbounded
	}
}

// Validate rejects profiles that cannot be translated into a PoolConfig.
func (p Profile) Validate() error {
	switch p.Strategy.Kind {
	case StrategyUnbounded:
	case StrategyBounded:
		if p.Strategy.Max <= 0 {
			return fmt.Errorf("strategy.max must be > 0 for bounded strategy")
		}
	case StrategyRateLimited:
		if p.Strategy.Max <= 0 {
			return fmt.Errorf("strategy.max must be > 0 for rateLimited strategy")
		}
		if p.Strategy.RatePerSec <= 0 {
			return fmt.Errorf("strategy.ratePerSec must be > 0 for rateLimited strategy")
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", p.Strategy.Kind)
	}

	switch p.Ordering {
	case "fifo", "lifo":
	default:
		return fmt.Errorf("ordering must be \"fifo\" or \"lifo\", got %q", p.Ordering)
	}

	if p.InitialSize < 0 {
		return fmt.Errorf("initialSize cannot be negative")
	}
	return nil
}

// BuildStrategy translates the profile's strategy section into an
// AllocationStrategy, assuming Validate has already passed.
func (p Profile) BuildStrategy() pool.AllocationStrategy {
	switch p.Strategy.Kind {
	case StrategyBounded:
		return pool.NewBoundedStrategy(p.Strategy.Max)
	case StrategyRateLimited:
		return pool.NewRateLimitedStrategy(p.Strategy.Max, rate.Limit(p.Strategy.RatePerSec), p.Strategy.Burst)
	default:
		return pool.NewUnboundedStrategy()
	}
}

// OrderingMode translates the profile's ordering string into a
// pool.OrderingMode.
func (p Profile) OrderingMode() pool.OrderingMode {
	if p.Ordering == "lifo" {
		return pool.LIFO
	}
	return pool.FIFO
}

// ApplyTo layers the profile's declarative settings onto a builder already
// carrying an allocator and any code-defined handlers.
func ApplyTo[R any](b *pool.PoolBuilder[R], p Profile) *pool.PoolBuilder[R] {
	return b.
		WithStrategy(p.BuildStrategy()).
		WithMaxPending(p.MaxPending).
		WithOrdering(p.OrderingMode()).
		WithThreadAffinity(p.ThreadAffinity).
		WithInitialSize(p.InitialSize).
		WithMaxConcurrentWork(p.MaxConcurrentWork)
}
