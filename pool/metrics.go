package pool

import "time"

// PoolMetricsRecorder is the pool's metrics collaborator. The pool only
// ever writes to it, at the well-defined points named by each method; it
// never reads from it.
type PoolMetricsRecorder interface {
	RecordAllocationSuccess(latency time.Duration)
	RecordAllocationFailure(latency time.Duration)
	RecordReset(latency time.Duration)
	RecordDestroy(latency time.Duration)
	RecordLifetimeOnDestroy(lifetime time.Duration)
	RecordIdleTimeOnRecycle(idle time.Duration)
	RecordRecycled()
	RecordFastPath()
	RecordSlowPath()
}

// noopRecorder discards every sink; it is the default PoolMetricsRecorder
// when a PoolBuilder does not supply one.
type noopRecorder struct{}

// NewNoopRecorder returns a PoolMetricsRecorder that discards everything.
func NewNoopRecorder() PoolMetricsRecorder { return noopRecorder{} }

func (noopRecorder) RecordAllocationSuccess(time.Duration) {}
func (noopRecorder) RecordAllocationFailure(time.Duration) {}
func (noopRecorder) RecordReset(time.Duration)             {}
func (noopRecorder) RecordDestroy(time.Duration)           {}
func (noopRecorder) RecordLifetimeOnDestroy(time.Duration) {}
func (noopRecorder) RecordIdleTimeOnRecycle(time.Duration) {}
func (noopRecorder) RecordRecycled()                       {}
func (noopRecorder) RecordFastPath()                       {}
func (noopRecorder) RecordSlowPath()                       {}
