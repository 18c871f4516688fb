// Package postgres provides the PostgreSQL-backed session archive.
//
// Both tables share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSession(ctx, rec)
//	results, _ := store.Recall(ctx, embedding, 5, archive.Filter{AgentName: "Ember"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS archived_sessions (
    session_id     TEXT         PRIMARY KEY,
    agent_name     TEXT         NOT NULL,
    model          TEXT         NOT NULL DEFAULT '',
    total_reward   DOUBLE PRECISION NOT NULL DEFAULT 0,
    action_count   INTEGER      NOT NULL DEFAULT 0,
    final_location TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL,
    ended_at       TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_agent
    ON archived_sessions (agent_name);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_ended_at
    ON archived_sessions (ended_at);
`

// ddlInsights returns the insight DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlInsights(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS insights (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    agent_name  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    importance  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    tags        TEXT[]       NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_insights_session_id
    ON insights (session_id);

CREATE INDEX IF NOT EXISTS idx_insights_agent_name
    ON insights (agent_name);

CREATE INDEX IF NOT EXISTS idx_insights_embedding
    ON insights USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_insights_fts
    ON insights USING GIN (to_tsvector('english', text));
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your deployment
// (e.g., 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text).
// Changing this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlInsights(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}
