package flows

import "sync"

// State is the execution context of one run: provided inputs first, then
// node outputs as they complete. A State must never be reused across runs.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

func newState(inputs map[string]any) *State {
	values := make(map[string]any, len(inputs))
	for k, v := range inputs {
		values[k] = v
	}
	return &State{values: values}
}

// Get returns the value stored under name.
func (s *State) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *State) set(name string, v any) {
	s.mu.Lock()
	s.values[name] = v
	s.mu.Unlock()
}

// Snapshot copies the current values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// Len is the number of stored values.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
