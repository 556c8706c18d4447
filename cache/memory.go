package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryStore keeps entries in process memory. When full, expired entries
// are dropped first, then the entry closest to expiry.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates a store holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		items:      make(map[string]memoryItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a live entry or (nil, nil).
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, nil
	}
	return it.entry, nil
}

// Set stores e until now+ttl.
func (s *MemoryStore) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if _, exists := s.items[key]; !exists && len(s.items) >= s.maxEntries {
		s.evict(now)
	}
	s.items[key] = memoryItem{entry: e, expiresAt: now.Add(ttl)}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// evict must be called with mu held.
func (s *MemoryStore) evict(now time.Time) {
	var victim string
	var soonest time.Time
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
			continue
		}
		if victim == "" || it.expiresAt.Before(soonest) {
			victim, soonest = k, it.expiresAt
		}
	}
	if len(s.items) >= s.maxEntries && victim != "" {
		delete(s.items, victim)
	}
}
