package overmind

import "sync"

// state holds the Overmind's in-memory, mutex-guarded mutable data: the
// partition plan's cursor, sticky per-client assignments, and the
// shrinking pending-configs queue. Grounded on teacher's pkg/manager's
// plain mutex-guarded commit path (minus Raft, per SPEC_FULL §4.6 — this
// process's state does not need to survive a restart).
type state struct {
	mu sync.Mutex

	plan     []int
	planNext int

	assigned map[string]int // client_id -> hatchling count, sticky

	pending []map[string]string // remaining hatchling configs, FIFO
}

func newState(plan []int, configs []map[string]string) *state {
	return &state{
		plan:     plan,
		assigned: make(map[string]int),
		pending:  configs,
	}
}

// assign returns the sticky hatchling count for clientID, claiming the
// next unassigned slot in the plan vector on first contact. Returns 0
// once the plan is exhausted.
func (s *state) assign(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.assigned[clientID]; ok {
		return n
	}
	if s.planNext >= len(s.plan) {
		s.assigned[clientID] = 0
		return 0
	}
	n := s.plan[s.planNext]
	s.planNext++
	s.assigned[clientID] = n
	return n
}

// takeConfigs removes and returns the next n pending configs for
// clientID, or an empty list if clientID has no assignment on record.
func (s *state) takeConfigs(clientID string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.assigned[clientID]
	if !ok || n == 0 {
		return nil
	}
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out
}
