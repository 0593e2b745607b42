package core

import (
	"sync"
	"time"
)

// StateKey is one entry of a state key listing.
type StateKey struct {
	Key       string
	Timestamp float64
}

type stateEntry struct {
	data      []byte
	timestamp float64
}

// StateStore is a per-process key-value store that enumerates keys in
// first-insertion order. Overwriting a key refreshes its data and timestamp
// but keeps its position.
type StateStore struct {
	mu      sync.RWMutex
	entries map[string]*stateEntry
	order   []string
	now     func() time.Time
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		entries: make(map[string]*stateEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for timestamps.
func (s *StateStore) WithClock(now func() time.Time) *StateStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Get returns a copy of the value stored under key, or an empty slice.
func (s *StateStore) Get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	if !exists {
		return []byte{}
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out
}

// Put stores a copy of data under key.
func (s *StateStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := make([]byte, len(data))
	copy(value, data)
	timestamp := float64(s.now().UnixNano()) / float64(time.Second)

	if entry, exists := s.entries[key]; exists {
		entry.data = value
		entry.timestamp = timestamp
		return
	}

	s.entries[key] = &stateEntry{data: value, timestamp: timestamp}
	s.order = append(s.order, key)
}

// Keys returns a snapshot of keys and timestamps in insertion order.
func (s *StateStore) Keys() []StateKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]StateKey, 0, len(s.order))
	for _, key := range s.order {
		keys = append(keys, StateKey{Key: key, Timestamp: s.entries[key].timestamp})
	}
	return keys
}

// Len returns the number of keys.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
