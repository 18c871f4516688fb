// Package mock provides an in-memory test double for [archive.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.RecallResult = []archive.Result{{Insight: archive.Insight{Text: "traps ahead"}}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Recall"); got != 1 {
//	    t.Errorf("expected 1 Recall call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/emberforge/questpilot/pkg/archive"
)

// Compile-time interface check.
var _ archive.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [archive.Store].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice or nil record returned).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// saved accumulates everything passed to SaveSession and SaveInsights.
	savedSessions []archive.Record
	savedInsights []archive.Insight

	// SaveSessionErr is returned by [Store.SaveSession] when non-nil.
	SaveSessionErr error

	// GetSessionResult is returned by [Store.GetSession].
	GetSessionResult *archive.Record

	// GetSessionErr is returned by [Store.GetSession] when non-nil.
	GetSessionErr error

	// ListSessionsResult is returned by [Store.ListSessions].
	// When nil, ListSessions returns an empty non-nil slice.
	ListSessionsResult []archive.Record

	// ListSessionsErr is returned by [Store.ListSessions] when non-nil.
	ListSessionsErr error

	// SaveInsightsErr is returned by [Store.SaveInsights] when non-nil.
	SaveInsightsErr error

	// RecallResult is returned by [Store.Recall].
	// When nil, Recall returns an empty non-nil slice.
	RecallResult []archive.Result

	// RecallErr is returned by [Store.Recall] when non-nil.
	RecallErr error

	// SearchResult is returned by [Store.SearchInsights].
	// When nil, SearchInsights returns an empty non-nil slice.
	SearchResult []archive.Result

	// SearchErr is returned by [Store.SearchInsights] when non-nil.
	SearchErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// SavedSessions returns a copy of every record passed to SaveSession.
func (m *Store) SavedSessions() []archive.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]archive.Record, len(m.savedSessions))
	copy(out, m.savedSessions)
	return out
}

// SavedInsights returns a copy of every insight passed to SaveInsights.
func (m *Store) SavedInsights() []archive.Insight {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]archive.Insight, len(m.savedInsights))
	copy(out, m.savedInsights)
	return out
}

// Reset clears all recorded calls and saved data without altering response
// configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.savedSessions = nil
	m.savedInsights = nil
}

// SaveSession implements [archive.Store].
func (m *Store) SaveSession(_ context.Context, rec archive.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SaveSession", Args: []any{rec}})
	if m.SaveSessionErr == nil {
		m.savedSessions = append(m.savedSessions, rec)
	}
	return m.SaveSessionErr
}

// GetSession implements [archive.Store].
func (m *Store) GetSession(_ context.Context, sessionID string) (*archive.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetSession", Args: []any{sessionID}})
	return m.GetSessionResult, m.GetSessionErr
}

// ListSessions implements [archive.Store].
func (m *Store) ListSessions(_ context.Context, agentName string, limit int) ([]archive.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ListSessions", Args: []any{agentName, limit}})
	if m.ListSessionsResult == nil {
		return []archive.Record{}, m.ListSessionsErr
	}
	out := make([]archive.Record, len(m.ListSessionsResult))
	copy(out, m.ListSessionsResult)
	return out, m.ListSessionsErr
}

// SaveInsights implements [archive.Store].
func (m *Store) SaveInsights(_ context.Context, insights []archive.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SaveInsights", Args: []any{insights}})
	if m.SaveInsightsErr == nil {
		m.savedInsights = append(m.savedInsights, insights...)
	}
	return m.SaveInsightsErr
}

// Recall implements [archive.Store].
func (m *Store) Recall(_ context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recall", Args: []any{embedding, topK, filter}})
	if m.RecallResult == nil {
		return []archive.Result{}, m.RecallErr
	}
	out := make([]archive.Result, len(m.RecallResult))
	copy(out, m.RecallResult)
	return out, m.RecallErr
}

// SearchInsights implements [archive.Store].
func (m *Store) SearchInsights(_ context.Context, query string, filter archive.Filter) ([]archive.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchInsights", Args: []any{query, filter}})
	if m.SearchResult == nil {
		return []archive.Result{}, m.SearchErr
	}
	out := make([]archive.Result, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}
