package pool

import (
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AllocationStrategy accounts for the permit budget backing a Pool. Permits
// are granted before an allocation is dispatched and returned when a
// resource is destroyed or an allocation attempt fails.
type AllocationStrategy interface {
	// TryGetPermits attempts to reserve up to desired permits, returning the
	// number actually granted (0 <= granted <= desired).
	TryGetPermits(desired int) int
	// ReturnPermits releases n previously granted permits back to the budget.
	ReturnPermits(n int)
	// EstimatePermits reports an approximate number of permits currently
	// available; racy by nature, intended for diagnostics only.
	EstimatePermits() int
	// PermitMaximum reports the configured ceiling, or math.MaxInt for an
	// unbounded strategy.
	PermitMaximum() int
	// PermitGranted reports the number of permits currently outstanding.
	PermitGranted() int
}

// unboundedStrategy always grants the full request; permitMaximum reports
// math.MaxInt so live never appears capped.
type unboundedStrategy struct {
	granted atomic.Int64
}

// NewUnboundedStrategy returns an AllocationStrategy with no permit ceiling.
func NewUnboundedStrategy() AllocationStrategy {
	return &unboundedStrategy{}
}

func (s *unboundedStrategy) TryGetPermits(desired int) int {
	if desired <= 0 {
		return 0
	}
	s.granted.Add(int64(desired))
	return desired
}

func (s *unboundedStrategy) ReturnPermits(n int) {
	if n <= 0 {
		return
	}
	s.granted.Add(-int64(n))
}

func (s *unboundedStrategy) EstimatePermits() int { return math.MaxInt }
func (s *unboundedStrategy) PermitMaximum() int   { return math.MaxInt }
func (s *unboundedStrategy) PermitGranted() int   { return int(s.granted.Load()) }

// boundedStrategy is a CAS loop over a counter initialized to max, granting
// min(desired, available) permits per call.
type boundedStrategy struct {
	max       int64
	available atomic.Int64
}

// NewBoundedStrategy returns an AllocationStrategy capped at max permits.
// A non-positive max is treated as 0 (no permits ever granted).
func NewBoundedStrategy(max int) AllocationStrategy {
	if max < 0 {
		max = 0
	}
	s := &boundedStrategy{max: int64(max)}
	s.available.Store(int64(max))
	return s
}

func (s *boundedStrategy) TryGetPermits(desired int) int {
	if desired <= 0 {
		return 0
	}
	for {
		cur := s.available.Load()
		if cur <= 0 {
			return 0
		}
		grant := int64(desired)
		if grant > cur {
			grant = cur
		}
		if s.available.CompareAndSwap(cur, cur-grant) {
			return int(grant)
		}
	}
}

func (s *boundedStrategy) ReturnPermits(n int) {
	if n <= 0 {
		return
	}
	s.available.Add(int64(n))
}

func (s *boundedStrategy) EstimatePermits() int { return int(s.available.Load()) }
func (s *boundedStrategy) PermitMaximum() int   { return int(s.max) }
func (s *boundedStrategy) PermitGranted() int   { return int(s.max - s.available.Load()) }

// rateLimitedStrategy layers a token-bucket pace on top of a bounded budget:
// permits are still accounted for via the embedded bounded strategy, but a
// grant additionally requires an available rate.Limiter token, so bursts of
// returned permits cannot be re-granted faster than the configured rate.
type rateLimitedStrategy struct {
	bounded *boundedStrategy
	limiter *rate.Limiter
}

// NewRateLimitedStrategy returns an AllocationStrategy capped at max permits
// and additionally paced so permits are granted no faster than r per second,
// with burst as the initial token bucket size.
func NewRateLimitedStrategy(max int, r rate.Limit, burst int) AllocationStrategy {
	return &rateLimitedStrategy{
		bounded: NewBoundedStrategy(max).(*boundedStrategy),
		limiter: rate.NewLimiter(r, burst),
	}
}

func (s *rateLimitedStrategy) TryGetPermits(desired int) int {
	granted := s.bounded.TryGetPermits(desired)
	if granted == 0 {
		return 0
	}
	allowed := 0
	for i := 0; i < granted; i++ {
		if !s.limiter.AllowN(time.Now(), 1) {
			break
		}
		allowed++
	}
	if allowed < granted {
		s.bounded.ReturnPermits(granted - allowed)
	}
	return allowed
}

func (s *rateLimitedStrategy) ReturnPermits(n int)  { s.bounded.ReturnPermits(n) }
func (s *rateLimitedStrategy) EstimatePermits() int { return s.bounded.EstimatePermits() }
func (s *rateLimitedStrategy) PermitMaximum() int   { return s.bounded.PermitMaximum() }
func (s *rateLimitedStrategy) PermitGranted() int   { return s.bounded.PermitGranted() }
