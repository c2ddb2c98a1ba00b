package report

import (
	"sync"
	"time"
)

// Accumulator is a mutex-guarded Report, used wherever multiple
// goroutines (a colony's hatchlings, whose connection clients all share
// one Accumulator) add to the same Report concurrently. Report itself carries no
// lock; Accumulator is the synchronization spec.md §5 requires in a
// runtime with preemptive goroutine scheduling instead of a single
// cooperative thread that serializes access for free.
type Accumulator struct {
	mu     sync.Mutex
	report *Report
}

// NewAccumulator returns an Accumulator wrapping an empty Report.
func NewAccumulator(detailed bool) *Accumulator {
	return &Accumulator{report: New(detailed)}
}

// AddSuccess records a successful call of the given duration under name.
func (a *Accumulator) AddSuccess(name string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.AddSuccess(name, d)
}

// AddError increments the named counter within the given error kind.
func (a *Accumulator) AddError(name, kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.AddError(name, kind)
}

// AddStatistics adds value to the named user-defined counter.
func (a *Accumulator) AddStatistics(name string, value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.AddStatistics(name, value)
}

// Merge adds other into the accumulated Report.
func (a *Accumulator) Merge(other *Report) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report = a.report.Merge(other)
}

// Snapshot returns a copy of the current Report without resetting it
// (used for intermediate, non-destructive reporting).
func (a *Accumulator) Snapshot() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report.clone()
}

// SnapshotAndReset atomically swaps in a fresh empty Report and returns
// the one accumulated so far — the "reset on each read" semantics the
// colony's periodic stats upload relies on.
func (a *Accumulator) SnapshotAndReset() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.report
	a.report = New(old.Detailed)
	return old
}

// IsEmpty reports whether the accumulated Report has no entries in any
// section.
func (a *Accumulator) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report.IsEmpty()
}
