package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/emberforge/questpilot/pkg/archive"
)

// SaveInsights implements [archive.Store]. It upserts the batch in a single
// transaction; an insight with an existing ID is completely replaced.
func (s *Store) SaveInsights(ctx context.Context, insights []archive.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	const q = `
		INSERT INTO insights
		    (id, session_id, agent_name, text, importance, tags, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    agent_name = EXCLUDED.agent_name,
		    text       = EXCLUDED.text,
		    importance = EXCLUDED.importance,
		    tags       = EXCLUDED.tags,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, in := range insights {
		// Insights recorded without an embedding provider carry no vector;
		// they stay reachable through full-text search only.
		var emb any
		if len(in.Embedding) > 0 {
			emb = pgvector.NewVector(in.Embedding)
		}
		tags := in.Tags
		if tags == nil {
			tags = []string{}
		}
		if _, err := tx.Exec(ctx, q,
			in.ID,
			in.SessionID,
			in.AgentName,
			in.Text,
			in.Importance,
			tags,
			emb,
			in.CreatedAt,
		); err != nil {
			return fmt.Errorf("archive store: save insight %q: %w", in.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive store: commit: %w", err)
	}
	return nil
}

// Recall implements [archive.Store]. It finds the topK insights whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally filtered by filter.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Recall(ctx context.Context, embedding []float32, topK int, filter archive.Filter) ([]archive.Result, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	conditions = append(conditions, filterConditions(filter, next)...)

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, agent_name, text, importance, tags, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   insights
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: recall: %w", err)
	}
	return collectResults(rows)
}

// SearchInsights implements [archive.Store]. It performs a PostgreSQL
// full-text search over the text column and applies optional filters.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required. Distance is reported as 1-ts_rank so lower still means better.
func (s *Store) SearchInsights(ctx context.Context, query string, filter archive.Filter) ([]archive.Result, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	conditions = append(conditions, filterConditions(filter, next)...)

	q := `
		SELECT id, session_id, agent_name, text, importance, tags, embedding, created_at,
		       1 - ts_rank(to_tsvector('english', text), plainto_tsquery('english', $1)) AS distance
		FROM   insights
		WHERE  ` + strings.Join(conditions, "\n  AND  ") + `
		ORDER  BY distance`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: search insights: %w", err)
	}
	return collectResults(rows)
}

// filterConditions renders the shared filter predicates, appending bind
// arguments through next.
func filterConditions(filter archive.Filter, next func(any) string) []string {
	var conditions []string
	if filter.AgentName != "" {
		conditions = append(conditions, "agent_name = "+next(filter.AgentName))
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.Before))
	}
	return conditions
}

// collectResults scans pgx rows into a slice of archive.Result values.
func collectResults(rows pgx.Rows) ([]archive.Result, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Result, error) {
		var (
			r   archive.Result
			vec *pgvector.Vector
		)
		if err := row.Scan(
			&r.Insight.ID,
			&r.Insight.SessionID,
			&r.Insight.AgentName,
			&r.Insight.Text,
			&r.Insight.Importance,
			&r.Insight.Tags,
			&vec,
			&r.Insight.CreatedAt,
			&r.Distance,
		); err != nil {
			return archive.Result{}, err
		}
		if vec != nil {
			r.Insight.Embedding = vec.Slice()
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if results == nil {
		results = []archive.Result{}
	}
	return results, nil
}
