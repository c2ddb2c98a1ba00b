package hatchling

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/arcombe012/zergswarm/pkg/log"
)

var logger = log.WithComponent("hatchling")

// Run executes one hatchling's full lifecycle against reg: setup
// (fail-fast) -> the three disciplines concurrently -> shutdown. vu is
// the virtual-user state threaded through every registered task.
//
// The three disciplines run as sibling goroutines under a
// sync.WaitGroup (not an errgroup — one discipline's failure must not
// cancel the others, per spec.md §4.4 step 2); each discipline's panics
// are recovered into its own logged error so a single bad task body
// can't take down the whole colony.
func Run(reg *Registry, vu any) error {
	if reg.setup != nil {
		if err := runSetup(reg.setup, vu); err != nil {
			return fmt.Errorf("hatchling: setup failed: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); runOrdered(reg, vu) }()
	go func() { defer wg.Done(); runParallel(reg, vu) }()
	go func() { defer wg.Done(); runRandom(reg, vu) }()
	wg.Wait()

	if reg.shutdown != nil {
		if err := runShutdown(reg.shutdown, vu); err != nil {
			return fmt.Errorf("hatchling: shutdown failed: %w", err)
		}
	}
	return nil
}

func runSetup(fn SetupFunc, vu any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in setup: %v", r)
		}
	}()
	return fn(vu)
}

func runShutdown(fn ShutdownFunc, vu any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in shutdown: %v", r)
		}
	}()
	return fn(vu)
}

// runOrdered invokes each ordered task, in sorted index order, count
// times sequentially — "within one hatchling, ordered tasks run strictly
// in index order" (spec.md §5).
func runOrdered(reg *Registry, vu any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("ordered discipline panicked")
		}
	}()
	for _, t := range reg.orderedTasks() {
		for i := 0; i < t.count; i++ {
			if _, err := t.fn(vu); err != nil {
				logger.Error().Err(err).Int("index", t.index).Msg("ordered task failed")
				return
			}
		}
	}
}

// runParallel launches count concurrent copies of every parallel task
// and waits for all copies of all tasks to finish.
func runParallel(reg *Registry, vu any) {
	var wg sync.WaitGroup
	for _, t := range reg.parallel {
		for i := 0; i < t.count; i++ {
			wg.Add(1)
			fn := t.fn
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Interface("panic", r).Msg("parallel task panicked")
					}
				}()
				if _, err := fn(vu); err != nil {
					logger.Error().Err(err).Msg("parallel task failed")
				}
			}()
		}
	}
	wg.Wait()
}

// runRandom builds the cumulative-weight prefix and draws uniformly from
// it in a loop, per spec.md §4.4's weighted-random discipline, until a
// task returns ok=false, errors, or there is nothing to run.
func runRandom(reg *Registry, vu any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("random discipline panicked")
		}
	}()
	if len(reg.random) == 0 {
		return
	}
	cw := make([]int, len(reg.random)+1)
	for i, t := range reg.random {
		cw[i+1] = cw[i] + t.weight
	}
	total := cw[len(cw)-1]
	if total <= 0 {
		return
	}
	for {
		r := rand.IntN(total)
		i := pickIndex(cw, r)
		ok, err := reg.random[i].fn(vu)
		if err != nil {
			logger.Error().Err(err).Int("task", i).Msg("random task failed")
			return
		}
		if !ok {
			return
		}
	}
}

// pickIndex finds the largest index i with cw[i] <= r, matching
// spec.md §4.4's description of the cumulative-weight lookup.
func pickIndex(cw []int, r int) int {
	i := 0
	for idx := 0; idx < len(cw); idx++ {
		if cw[idx] <= r {
			i = idx
		} else {
			break
		}
	}
	if i >= len(cw)-1 {
		i = len(cw) - 2
	}
	return i
}
