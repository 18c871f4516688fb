package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/emberforge/questpilot/pkg/archive"
)

// Compile-time interface check.
var _ archive.Store = (*Store)(nil)

// Store is the PostgreSQL-backed session archive. It holds a single
// [pgxpool.Pool] and implements [archive.Store].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [archive.Insight.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession implements [archive.Store]. It upserts the session summary
// record; a re-archived session replaces its previous record.
func (s *Store) SaveSession(ctx context.Context, rec archive.Record) error {
	const q = `
		INSERT INTO archived_sessions
		    (session_id, agent_name, model, total_reward, action_count, final_location, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
		    agent_name     = EXCLUDED.agent_name,
		    model          = EXCLUDED.model,
		    total_reward   = EXCLUDED.total_reward,
		    action_count   = EXCLUDED.action_count,
		    final_location = EXCLUDED.final_location,
		    created_at     = EXCLUDED.created_at,
		    ended_at       = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.AgentName,
		rec.Model,
		rec.TotalReward,
		rec.ActionCount,
		rec.FinalLocation,
		rec.CreatedAt,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("archive store: save session: %w", err)
	}
	return nil
}

// GetSession implements [archive.Store].
func (s *Store) GetSession(ctx context.Context, sessionID string) (*archive.Record, error) {
	const q = `
		SELECT session_id, agent_name, model, total_reward, action_count, final_location, created_at, ended_at
		FROM   archived_sessions
		WHERE  session_id = $1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive store: get session: %w", err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("archive store: get session: %w", err)
	}
	return &rec, nil
}

// defaultListLimit caps ListSessions results when the caller passes 0.
const defaultListLimit = 50

// ListSessions implements [archive.Store]. Results are ordered by ended_at
// descending (most recently ended first).
func (s *Store) ListSessions(ctx context.Context, agentName string, limit int) ([]archive.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `
		SELECT session_id, agent_name, model, total_reward, action_count, final_location, created_at, ended_at
		FROM   archived_sessions`
	args := []any{}
	if agentName != "" {
		q += "\n\t\tWHERE  agent_name = $1"
		args = append(args, agentName)
	}
	args = append(args, limit)
	q += fmt.Sprintf("\n\t\tORDER  BY ended_at DESC\n\t\tLIMIT  $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: list sessions: %w", err)
	}

	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	return recs, nil
}

// scanRecord scans one archived_sessions row.
func scanRecord(row pgx.CollectableRow) (archive.Record, error) {
	var rec archive.Record
	err := row.Scan(
		&rec.SessionID,
		&rec.AgentName,
		&rec.Model,
		&rec.TotalReward,
		&rec.ActionCount,
		&rec.FinalLocation,
		&rec.CreatedAt,
		&rec.EndedAt,
	)
	return rec, err
}
