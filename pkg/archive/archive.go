// Package archive defines the durable archive for ended agent sessions.
//
// While a session is live its insights stay in the in-process memory store.
// When the session ends, its summary record and insights are written to the
// archive so later sessions of the same agent can recall what was learned.
// Recall comes in two flavours:
//
//   - [Store.Recall] uses pgvector cosine similarity against pre-computed
//     insight embeddings. This is the preferred path when an embedding
//     provider is configured.
//   - [Store.SearchInsights] uses PostgreSQL full-text search and needs no
//     embeddings. Useful as a fallback when no embedding provider is available.
//
// All implementations must be safe for concurrent use.
package archive

import (
	"context"
	"time"
)

// Record is the archived summary of one ended session.
type Record struct {
	// SessionID is the unique session identifier.
	SessionID string

	// AgentName is the persona name the session ran under.
	AgentName string

	// Model is the model identifier the session used.
	Model string

	// TotalReward is the cumulative reward at session end.
	TotalReward float64

	// ActionCount is the number of completed decision cycles.
	ActionCount int

	// FinalLocation is the last known game location, if any.
	FinalLocation string

	// CreatedAt is when the session started.
	CreatedAt time.Time

	// EndedAt is when the session ended.
	EndedAt time.Time
}

// Insight is one archived learning with its pre-computed embedding.
// The embedding may be nil when no embedding provider was configured;
// such insights are only reachable via [Store.SearchInsights].
type Insight struct {
	// ID is the unique identifier for this insight (e.g., a UUID).
	ID string

	// SessionID is the session this insight came from.
	SessionID string

	// AgentName is the persona the insight belongs to. Recall is scoped per
	// agent so Ember's lessons do not leak into Grimnar's prompts.
	AgentName string

	// Text is the insight content.
	Text string

	// Importance is the significance weight in [0, 1].
	Importance float64

	// Tags are free-form category labels (e.g., "combat", "quest").
	Tags []string

	// Embedding is the vector representation of Text.
	// Dimension must match the archive configuration (e.g., 1536 for OpenAI
	// text-embedding-3-small).
	Embedding []float32

	// CreatedAt is when the insight was recorded.
	CreatedAt time.Time
}

// Filter narrows a recall query. All non-zero fields are applied as AND
// conditions.
type Filter struct {
	// AgentName restricts results to insights from sessions of this agent.
	AgentName string

	// SessionID restricts results to a single archived session.
	SessionID string

	// After filters insights recorded after this instant (exclusive).
	After time.Time

	// Before filters insights recorded before this instant (exclusive).
	Before time.Time
}

// Result pairs a recalled insight with its retrieval score.
type Result struct {
	// Insight is the recalled record.
	Insight Insight

	// Distance is the vector-space cosine distance to the query embedding
	// for [Store.Recall], or 1-ts_rank for [Store.SearchInsights].
	// Lower values indicate higher relevance in both cases.
	Distance float64
}

// Store is the durable session archive.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveSession upserts the summary record of an ended session.
	SaveSession(ctx context.Context, rec Record) error

	// GetSession retrieves an archived session by ID.
	// Returns (nil, nil) when no such session was archived.
	GetSession(ctx context.Context, sessionID string) (*Record, error)

	// ListSessions returns archived sessions, most recently ended first.
	// agentName restricts the list to one agent; empty matches all agents.
	// limit caps the result size; 0 means the implementation default.
	ListSessions(ctx context.Context, agentName string, limit int) ([]Record, error)

	// SaveInsights upserts a batch of insights. Insights with the same ID
	// are replaced.
	SaveInsights(ctx context.Context, insights []Insight) error

	// Recall finds the topK insights whose embeddings are closest (cosine
	// distance) to the query embedding, filtered by filter.
	// Results are ordered by ascending Distance (most relevant first).
	// Returns an empty (non-nil) slice when nothing matches.
	Recall(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error)

	// SearchInsights performs a full-text search over insight text, filtered
	// by filter. The query needs no special operator syntax.
	// Returns an empty (non-nil) slice when nothing matches.
	SearchInsights(ctx context.Context, query string, filter Filter) ([]Result, error)
}
