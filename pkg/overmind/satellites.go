package overmind

import "sync"

// satelliteSet tracks standalone satellite overminds currently registered
// with this (central) overmind, per spec.md §4.6's idempotent
// register/unregister handler.
type satelliteSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSatelliteSet() *satelliteSet {
	return &satelliteSet{ids: make(map[string]struct{})}
}

func (s *satelliteSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *satelliteSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *satelliteSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
