package leadguard

import (
	"sync"
	"time"
)

// LockoutRecord tracks rejected submissions for one client identity. Expiry
// is lazy: the record is cleared the next time it is consulted after the
// lockout duration has passed, not by a timer.
type LockoutRecord struct {
	FailureCount  int       `json:"failureCount"`
	LastFailureAt time.Time `json:"lastFailureAt"`
}

// GuardStore holds the per-identity rate window and lockout record. Callers
// must serialize Snapshot/Commit pairs for a given identity themselves; the
// limiter does so with a sharded key lock.
type GuardStore interface {
	// Snapshot returns the current window timestamps and lockout record for
	// an identity. Either may be empty/nil for an unseen identity.
	Snapshot(id string) (window []time.Time, lockout *LockoutRecord, err error)

	// Commit replaces the stored state for an identity. A nil lockout and
	// empty window clears the entry.
	Commit(id string, window []time.Time, lockout *LockoutRecord) error

	// Forget drops all state for an identity.
	Forget(id string) error

	// SweepIdle evicts identities with no activity since cutoff and reports
	// how many were removed. Backends with native TTLs may report zero.
	SweepIdle(cutoff time.Time) (int, error)

	HealthCheck() error
}

// keyMutex provides per-identity mutual exclusion using sharded locks, so
// concurrent submissions from the same identity serialize while distinct
// identities land on (almost always) different shards.
type keyMutex struct {
	shards [32]sync.Mutex
}

func (m *keyMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

func (m *keyMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

func (m *keyMutex) shardFor(key string) int {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return int(h % uint32(len(m.shards)))
}

type guardEntry struct {
	window      []time.Time
	lockout     *LockoutRecord
	lastTouched time.Time
}

// InMemoryGuardStore implements GuardStore with process-local maps. State
// does not survive a restart; that is an accepted tradeoff.
type InMemoryGuardStore struct {
	mu      sync.RWMutex
	entries map[string]*guardEntry
	clock   func() time.Time
}

// NewInMemoryGuardStore creates an empty in-memory store.
func NewInMemoryGuardStore() *InMemoryGuardStore {
	return &InMemoryGuardStore{
		entries: make(map[string]*guardEntry),
		clock:   time.Now,
	}
}

func (s *InMemoryGuardStore) Snapshot(id string) ([]time.Time, *LockoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.entries[id]
	if !exists {
		return nil, nil, nil
	}
	window := make([]time.Time, len(entry.window))
	copy(window, entry.window)
	var lockout *LockoutRecord
	if entry.lockout != nil {
		copied := *entry.lockout
		lockout = &copied
	}
	return window, lockout, nil
}

func (s *InMemoryGuardStore) Commit(id string, window []time.Time, lockout *LockoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(window) == 0 && lockout == nil {
		delete(s.entries, id)
		return nil
	}
	s.entries[id] = &guardEntry{
		window:      window,
		lockout:     lockout,
		lastTouched: s.clock(),
	}
	return nil
}

func (s *InMemoryGuardStore) Forget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *InMemoryGuardStore) SweepIdle(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if entry.lastTouched.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryGuardStore) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_ = len(s.entries)
	return nil
}

// Len reports how many identities currently hold state (for tests and the
// sweeper's log line).
func (s *InMemoryGuardStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
