package engine

import "sync"

// subjectLocks serializes store writes per subject id. Entries are never
// reclaimed; the id space of one deployment is small enough that this stays
// cheap, and a stale mutex is harmless.
type subjectLocks struct {
	locks sync.Map // subject id -> *sync.Mutex
}

func (s *subjectLocks) lock(subjectID string) (unlock func()) {
	v, _ := s.locks.LoadOrStore(subjectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
