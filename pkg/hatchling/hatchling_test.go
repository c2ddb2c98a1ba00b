package hatchling

import (
	"errors"
	"sync"
	"testing"
)

func TestOrderedTasksSortedByIndexTiesBySourceOrder(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	reg.Ordered(2, 1, func(vu any) (bool, error) { calls = append(calls, "b"); return true, nil })
	reg.Ordered(1, 1, func(vu any) (bool, error) { calls = append(calls, "a1"); return true, nil })
	reg.Ordered(1, 1, func(vu any) (bool, error) { calls = append(calls, "a2"); return true, nil })

	for _, t := range reg.orderedTasks() {
		for i := 0; i < t.count; i++ {
			_, _ = t.fn(nil)
		}
	}
	if len(calls) != 3 || calls[0] != "a1" || calls[1] != "a2" || calls[2] != "b" {
		t.Fatalf("expected [a1 a2 b] in index/registration order, got %v", calls)
	}
}

func TestRunSetupFailureAbortsHatchling(t *testing.T) {
	reg := NewRegistry().Setup(func(vu any) error { return errors.New("boom") })
	err := Run(reg, nil)
	if err == nil {
		t.Fatalf("expected setup failure to propagate")
	}
}

func TestRunShutdownAlwaysRunsAfterDisciplines(t *testing.T) {
	var order []string
	var mu sync.Mutex
	reg := NewRegistry().
		Ordered(0, 1, func(vu any) (bool, error) {
			mu.Lock()
			order = append(order, "ordered")
			mu.Unlock()
			return true, nil
		}).
		Shutdown(func(vu any) error {
			mu.Lock()
			order = append(order, "shutdown")
			mu.Unlock()
			return nil
		})
	if err := Run(reg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[1] != "shutdown" {
		t.Fatalf("expected shutdown to run last, got %v", order)
	}
}

func TestRunOrderedFailureDoesNotAbortParallel(t *testing.T) {
	var ran bool
	var mu sync.Mutex
	reg := NewRegistry().
		Ordered(0, 1, func(vu any) (bool, error) { return false, errors.New("ordered failed") }).
		Parallel(1, func(vu any) (bool, error) {
			mu.Lock()
			ran = true
			mu.Unlock()
			return true, nil
		})
	if err := Run(reg, nil); err != nil {
		t.Fatalf("Run should not propagate a discipline failure: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatalf("expected parallel discipline to still run despite ordered failure")
	}
}

func TestRunParallelLaunchesAllCopies(t *testing.T) {
	var count int
	var mu sync.Mutex
	reg := NewRegistry().Parallel(5, func(vu any) (bool, error) {
		mu.Lock()
		count++
		mu.Unlock()
		return true, nil
	})
	if err := Run(reg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected 5 parallel copies, got %d", count)
	}
}

func TestWeightedRandomPickIndexMatchesCumulativePrefix(t *testing.T) {
	// weights [1, 3] -> cumulative prefix [0, 1, 4], per the scenario in
	// spec.md §8; draws [0, 2, 3, 1] against this implementation's
	// largest-index-with-cw[i]<=r rule.
	cw := []int{0, 1, 4}
	draws := []int{0, 2, 3, 1}
	want := []int{0, 1, 1, 1}
	for i, r := range draws {
		got := pickIndex(cw, r)
		if got != want[i] {
			t.Fatalf("draw %d: pickIndex(%v, %d) = %d, want %d", i, cw, r, got, want[i])
		}
	}
}

func TestRunRandomStopsOnFalsyReturn(t *testing.T) {
	var calls int
	var mu sync.Mutex
	reg := NewRegistry().Random(1, func(vu any) (bool, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		return n < 3, nil
	})
	if err := Run(reg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected loop to stop at the 3rd falsy-returning call, got %d calls", calls)
	}
}

func TestRunRandomStopsOnEmptyRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := Run(reg, nil); err != nil {
		t.Fatalf("Run with no random tasks should just skip the discipline: %v", err)
	}
}
