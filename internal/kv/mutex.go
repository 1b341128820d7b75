package kv

import "sync"

// KeyedMutex serialises read-modify-write cycles on the same key within one
// process. Other processes sharing the backend still race.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release func.
func (m *KeyedMutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*refLock)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &refLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
