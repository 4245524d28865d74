package snapshot

import "sync"

// Listener receives every snapshot accepted by a Store. Listeners run
// synchronously inside Replace and must not call Replace on the same store.
type Listener func(Snapshot)

type listenerEntry struct {
	id int
	fn Listener
}

// Store holds the latest snapshot of one session view. Writers race by arrival:
// the last Replace wins, there is no versioning.
type Store struct {
	deliverM sync.Mutex // serializes Replace so listeners observe arrival order

	mu        sync.RWMutex
	current   Snapshot
	has       bool
	closed    bool
	listeners []listenerEntry
	nextID    int
}

func NewStore() *Store { return &Store{} }

// Replace overwrites the held snapshot and notifies listeners before returning.
// It reports false when the store is closed; the snapshot is then dropped.
func (s *Store) Replace(snap Snapshot) bool {
	s.deliverM.Lock()
	defer s.deliverM.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.current = snap
	s.has = true
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		if l.fn != nil {
			l.fn(snap)
		}
	}
	return true
}

// Current returns the last stored snapshot; ok is false before the first one.
func (s *Store) Current() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.has
}

func (s *Store) Subscribe(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Close drops listeners and rejects further writes.
func (s *Store) Close() {
	s.deliverM.Lock()
	defer s.deliverM.Unlock()
	s.mu.Lock()
	s.closed = true
	s.listeners = nil
	s.mu.Unlock()
}
