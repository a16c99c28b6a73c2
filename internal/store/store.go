package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Maronee/appscale/internal/compute"
)

// Entry is a poll result together with the time it was stored.
type Entry struct {
	Result    *compute.Result
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory store of the latest result per proxy,
// keyed by compute.Key(host, proxy). Entries not refreshed within the TTL
// are hidden from List and Fresh and removed by Evict.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the result for res.Key().
// Callers must not modify res after calling Put.
func (s *Store) Put(res *compute.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[res.Key()] = &Entry{Result: res, UpdatedAt: s.now()}
}

// Fresh returns the entry for key if it exists and is within the TTL.
func (s *Store) Fresh(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns all entries within the TTL, ordered by key.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Result.Key() < out[j].Result.Key()
	})
	return out
}

// Remove deletes the entry for key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries older than now minus TTL and returns how many.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for key, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (at least once a second) until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale results", "count", n)
			}
		}
	}
}
