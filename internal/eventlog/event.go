// Package eventlog provides the append-only, per-session event record.
//
// Every step the runtime takes — context assembly, model thoughts, tool
// calls, evaluator insights, lifecycle changes, errors — is appended to a
// session's [Log] as a typed [Event]. Events are never mutated or reordered
// after insertion; append order is the sole source of truth for replay and
// for the XML export.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event categories a session can record.
type Type string

const (
	TypeInit             Type = "init"
	TypeProviderContext  Type = "provider_context"
	TypeThought          Type = "thought"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeEvaluatorInsight Type = "evaluator_insight"
	TypeSessionUpdate    Type = "session_update"
	TypeError            Type = "error"
)

// IsValid reports whether t is a recognised event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeInit, TypeProviderContext, TypeThought, TypeToolCall,
		TypeToolResult, TypeEvaluatorInsight, TypeSessionUpdate, TypeError:
		return true
	}
	return false
}

// Payload is the closed set of event payload variants. Exactly one concrete
// payload type exists per event [Type]; the compiler enforces exhaustive
// handling via type switches over this interface.
type Payload interface {
	// EventType returns the event type this payload belongs to.
	EventType() Type
}

// InitPayload records session creation.
type InitPayload struct {
	AgentName string `xml:"agent_name"`
	Model     string `xml:"model"`
	PlayStyle string `xml:"play_style,omitempty"`
}

func (InitPayload) EventType() Type { return TypeInit }

// ProviderContextPayload records one context provider's prompt fragment.
type ProviderContextPayload struct {
	Provider string `xml:"provider"`
	Fragment string `xml:"fragment"`
}

func (ProviderContextPayload) EventType() Type { return TypeProviderContext }

// ThoughtPayload records a fragment of the model's streamed reasoning.
type ThoughtPayload struct {
	Text string `xml:"text"`
}

func (ThoughtPayload) EventType() Type { return TypeThought }

// ToolCallPayload records a tool invocation requested by the model.
type ToolCallPayload struct {
	CallID    string `xml:"call_id,omitempty"`
	Tool      string `xml:"tool"`
	Arguments string `xml:"arguments,omitempty"`
}

func (ToolCallPayload) EventType() Type { return TypeToolCall }

// ToolResultPayload records the outcome of a tool invocation.
type ToolResultPayload struct {
	CallID    string `xml:"call_id,omitempty"`
	Tool      string `xml:"tool"`
	Content   string `xml:"content,omitempty"`
	ErrorKind string `xml:"error_kind,omitempty"`
}

func (ToolResultPayload) EventType() Type { return TypeToolResult }

// InsightPayload records a memory entry extracted by an evaluator.
type InsightPayload struct {
	Evaluator  string   `xml:"evaluator"`
	Content    string   `xml:"content"`
	Importance float64  `xml:"importance"`
	Tags       []string `xml:"tags>tag,omitempty"`
}

func (InsightPayload) EventType() Type { return TypeEvaluatorInsight }

// SessionUpdatePayload records a lifecycle or progress change.
type SessionUpdatePayload struct {
	Status      string  `xml:"status"`
	ActionCount int     `xml:"action_count"`
	TotalReward float64 `xml:"total_reward"`
	Note        string  `xml:"note,omitempty"`
}

func (SessionUpdatePayload) EventType() Type { return TypeSessionUpdate }

// ErrorPayload records a recovered component failure.
type ErrorPayload struct {
	Component string `xml:"component"`
	Message   string `xml:"message"`
}

func (ErrorPayload) EventType() Type { return TypeError }

// Event is one immutable record in a session's log.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	// Type matches Payload.EventType(). Stored explicitly so filters do not
	// need a type switch.
	Type Type

	// Timestamp is when the event was appended (UTC).
	Timestamp time.Time

	// Source tags the originating component (e.g., "loop", "provider.memory").
	Source string

	// Payload carries the type-specific data.
	Payload Payload
}

// newEvent stamps a fresh event. Timestamps are taken at append time so log
// order equals timestamp order within a session.
func newEvent(source string, p Payload, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      p.EventType(),
		Timestamp: now,
		Source:    source,
		Payload:   p,
	}
}
