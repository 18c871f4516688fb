// Package memory implements the per-session insight store.
//
// Evaluators append [Entry] values (facts and lessons extracted from
// completed decisions); the memory context provider reads them back by
// importance or recency. The store is bounded: when full, the
// lowest-importance entry is evicted first, with older entries evicted ahead
// of newer ones on ties, so a long-running session cannot grow without limit.
package memory

import (
	"slices"
	"sync"
	"time"
)

// DefaultCapacity is the entry bound applied when a store is created with a
// non-positive capacity.
const DefaultCapacity = 256

// Entry is one retained insight.
type Entry struct {
	// Content is the insight text (e.g., "Gravemaw Skeletons resist piercing").
	Content string

	// Importance weights the entry in [0, 1]; higher entries survive eviction
	// longer and rank higher in TopK queries.
	Importance float64

	// Tags label the entry for filtered retrieval (e.g., "combat", "npc:torvel").
	Tags []string

	// CreatedAt is when the entry was recorded (UTC).
	CreatedAt time.Time
}

// HasTag reports whether e carries the given tag.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Store holds a bounded set of insights for a single session.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int

	now func() time.Time
}

// NewStore returns a Store bounded to capacity entries.
// A non-positive capacity selects [DefaultCapacity].
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Add records an insight, evicting the least important (oldest on ties)
// entry if the store is full. A zero CreatedAt is stamped with the current
// time.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	if len(s.entries) >= s.capacity {
		s.evictLocked()
	}
	s.entries = append(s.entries, e)
}

// evictLocked removes the entry with the lowest importance; among equals the
// oldest goes first. Caller must hold mu.
func (s *Store) evictLocked() {
	if len(s.entries) == 0 {
		return
	}
	victim := 0
	for i, e := range s.entries[1:] {
		v := s.entries[victim]
		if e.Importance < v.Importance ||
			(e.Importance == v.Importance && e.CreatedAt.Before(v.CreatedAt)) {
			victim = i + 1
		}
	}
	s.entries = append(s.entries[:victim], s.entries[victim+1:]...)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// All returns a copy of every entry in insertion order.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// TopK returns up to k entries ordered by importance descending; entries of
// equal importance are ordered newest first.
func (s *Store) TopK(k int) []Entry {
	if k <= 0 {
		return nil
	}

	entries := s.All()
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.Importance > b.Importance:
			return -1
		case a.Importance < b.Importance:
			return 1
		case a.CreatedAt.After(b.CreatedAt):
			return -1
		case a.CreatedAt.Before(b.CreatedAt):
			return 1
		}
		return 0
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(n int) []Entry {
	if n <= 0 {
		return nil
	}
	entries := s.All()
	slices.Reverse(entries)
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// WithTag returns all entries carrying tag, in insertion order.
func (s *Store) WithTag(tag string) []Entry {
	var out []Entry
	for _, e := range s.All() {
		if e.HasTag(tag) {
			out = append(out, e)
		}
	}
	return out
}
