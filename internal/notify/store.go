package notify

import (
	"sort"
	"sync"
	"time"
)

// Store keeps the latest event per cache key so late-arriving surfaces
// (a freshly opened dashboard, a reconnecting SSE client) can see recent
// history instead of only live broadcasts.
type Store struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]Event
}

// NewStore creates a store whose snapshots drop events older than ttl.
// A ttl of 0 keeps everything for the process lifetime.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, data: make(map[string]Event)}
}

// Upsert records e as the latest event for its cache key.
func (s *Store) Upsert(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.CacheKey] = e
}

// Snapshot returns the live events, newest first.
func (s *Store) Snapshot(now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl > 0 {
		for key, e := range s.data {
			if now.Sub(e.TS) > s.ttl {
				delete(s.data, key)
			}
		}
	}
	result := make([]Event, 0, len(s.data))
	for _, e := range s.data {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TS.Equal(result[j].TS) {
			return result[i].CacheKey < result[j].CacheKey
		}
		return result[i].TS.After(result[j].TS)
	})
	return result
}

// Follow subscribes to hub and mirrors every event into the store until
// the hub subscription is cancelled.
func (s *Store) Follow(hub *Hub) func() {
	ch, cancel := hub.Subscribe()
	go func() {
		for e := range ch {
			s.Upsert(e)
		}
	}()
	return cancel
}
