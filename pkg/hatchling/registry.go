// Package hatchling implements the per-virtual-user task scheduler: a
// Registry a hatchery factory builds by registering setup/shutdown/
// ordered/parallel/random task functions, and Run, which executes one
// hatchling's full lifecycle against that Registry.
//
// This replaces the teacher's pkg/scheduler — a polling container
// placement loop — entirely: a hatchling run is one-shot per virtual
// user, not a ticker loop, so only the package's run-loop-plus-injected-
// logger texture carries over, not its content.
package hatchling

import "sort"

// TaskFunc is one registered task body. ok reports whether the random
// discipline's loop should keep going (the spec's "falsy return stops
// the loop", restated as an explicit sentinel per SPEC_FULL's resolved
// Open Question, rather than a thrown sentinel).
type TaskFunc func(vu any) (ok bool, err error)

// SetupFunc and ShutdownFunc run once each, outside any discipline.
type SetupFunc func(vu any) error
type ShutdownFunc func(vu any) error

type orderedTask struct {
	index int
	count int
	seq   int
	fn    TaskFunc
}

type parallelTask struct {
	count int
	fn    TaskFunc
}

type randomTask struct {
	weight int
	fn     TaskFunc
}

// Registry holds one hatchling class's task mix, built by its factory
// function before Run executes it.
type Registry struct {
	setup    SetupFunc
	shutdown ShutdownFunc

	ordered  []orderedTask
	parallel []parallelTask
	random   []randomTask

	seq int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Setup registers the once-before-the-mix task. Its failure aborts the
// hatchling (propagated, per spec.md §4.4 step 1).
func (r *Registry) Setup(fn SetupFunc) *Registry {
	r.setup = fn
	return r
}

// Shutdown registers the once-after-the-mix task. Its failure is
// propagated.
func (r *Registry) Shutdown(fn ShutdownFunc) *Registry {
	r.shutdown = fn
	return r
}

// Ordered registers a task invoked count times sequentially, in the
// relative position given by index. Ties between equal indices break by
// registration order.
func (r *Registry) Ordered(index, count int, fn TaskFunc) *Registry {
	r.seq++
	r.ordered = append(r.ordered, orderedTask{index: index, count: count, seq: r.seq, fn: fn})
	return r
}

// Parallel registers a task launched as count concurrent copies.
func (r *Registry) Parallel(count int, fn TaskFunc) *Registry {
	r.parallel = append(r.parallel, parallelTask{count: count, fn: fn})
	return r
}

// Random registers a task picked by weighted random choice within the
// weighted-random discipline's loop.
func (r *Registry) Random(weight int, fn TaskFunc) *Registry {
	r.random = append(r.random, randomTask{weight: weight, fn: fn})
	return r
}

// orderedTasks returns the ordered-discipline tasks sorted ascending by
// index, ties broken by registration order — matching spec.md §3's
// "sorted ascending by index at class-wrap time; ties break by source
// order".
func (r *Registry) orderedTasks() []orderedTask {
	out := make([]orderedTask, len(r.ordered))
	copy(out, r.ordered)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].index < out[j].index
	})
	return out
}

// Factory builds a Registry (and the virtual-user state it closes over)
// from an opaque, string-keyed hatchling config. This is the Go
// equivalent of the user-supplied hatchling class constructor spec.md
// §4.5 step 3 describes.
type Factory func(cfg map[string]string) (*Registry, any, error)
