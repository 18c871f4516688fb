package eventlog

import (
	"sync"
	"time"
)

// Log is an append-only event record for a single session.
// All methods are safe for concurrent use. Events are returned in append
// order, which equals timestamp order.
type Log struct {
	mu     sync.Mutex
	events []Event

	// now is swappable for tests.
	now func() time.Time
}

// New returns an empty Log.
func New() *Log {
	return &Log{now: func() time.Time { return time.Now().UTC() }}
}

// Append records a new event and returns it. The event type is derived from
// the payload, so a payload can never be filed under the wrong type.
func (l *Log) Append(source string, p Payload) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := newEvent(source, p, l.now())
	l.events = append(l.events, ev)
	return ev
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy of the full log in chronological order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Filter returns events matching the given types, chronological, truncated to
// the most recent limit entries. An empty types slice matches all types; a
// limit <= 0 applies [DefaultExportLimit].
func (l *Log) Filter(types []Type, limit int) []Event {
	if limit <= 0 {
		limit = DefaultExportLimit
	}

	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	var matched []Event
	if len(types) == 0 {
		matched = events
	} else {
		want := make(map[Type]struct{}, len(types))
		for _, t := range types {
			want[t] = struct{}{}
		}
		for _, ev := range events {
			if _, ok := want[ev.Type]; ok {
				matched = append(matched, ev)
			}
		}
	}

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
