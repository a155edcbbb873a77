package sessions

import "sync"

// lockMap hands out one mutex per session id, dropping entries once the
// last holder releases so the map never grows with dead sessions.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*sessionLock)}
}

// lock acquires the mutex for id and returns its release func.
func (m *lockMap) lock(id string) func() {
	m.mu.Lock()
	entry := m.locks[id]
	if entry == nil {
		entry = &sessionLock{}
		m.locks[id] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		m.mu.Lock()
		entry.refs--
		if entry.refs <= 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
