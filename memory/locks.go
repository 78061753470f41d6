package memory

import "sync"

// scopeLocks serializes conflicting writes within a single scope
// without a global lock, so one scope's slow pipeline never blocks
// another scope's.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for scope and returns its unlock function.
func (s *scopeLocks) lock(scope string) func() {
	s.mu.Lock()
	m, ok := s.locks[scope]
	if !ok {
		m = &sync.Mutex{}
		s.locks[scope] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
