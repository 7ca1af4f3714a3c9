package session

import (
	"sync"
	"time"
)

// Stale identifies a session observed as idle for too long.
type Stale struct {
	UserID     int64
	Generation uint64
}

// Store maps users to their sessions.
type Store interface {
	// GetOrCreate returns a copy of the user's session, or a fresh idle one on first contact.
	GetOrCreate(userID int64) Session
	// CompareAndSwap commits next if the stored generation still equals generation.
	// The committed copy with its new generation is returned.
	CompareAndSwap(userID int64, generation uint64, next Session) (Session, bool)
	// Expired lists active sessions whose last activity is at least ttl before now.
	Expired(now time.Time, ttl time.Duration) []Stale
	// Stats counts active sessions per state.
	Stats() map[State]int
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	seq      uint64
}

// NewMemoryStore constructs an in-memory Store. Idle sessions are not retained.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[int64]*Session),
	}
}

func (m *memoryStore) GetOrCreate(userID int64) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sess, ok := m.sessions[userID]; ok {
		return sess.Clone()
	}
	return Idle(userID)
}

func (m *memoryStore) CompareAndSwap(userID int64, generation uint64, next Session) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current uint64
	if sess, ok := m.sessions[userID]; ok {
		current = sess.Generation
	}
	if current != generation {
		return Session{}, false
	}

	m.seq++
	committed := next.Clone()
	committed.UserID = userID
	committed.Generation = m.seq
	if committed.IsIdle() {
		delete(m.sessions, userID)
		return committed, true
	}
	stored := committed.Clone()
	m.sessions[userID] = &stored
	return committed, true
}

func (m *memoryStore) Expired(now time.Time, ttl time.Duration) []Stale {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Stale
	for id, sess := range m.sessions {
		if now.Sub(sess.LastActivity) >= ttl {
			out = append(out, Stale{UserID: id, Generation: sess.Generation})
		}
	}
	return out
}

func (m *memoryStore) Stats() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[State]int, 3)
	for _, sess := range m.sessions {
		stats[sess.State]++
	}
	return stats
}
