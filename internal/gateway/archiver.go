package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/pkg/archive"
	"github.com/emberforge/questpilot/pkg/provider/embeddings"
)

// Archiver writes ended sessions to the durable archive. Wire its
// [Archiver.HandleEnd] into [runtime.ManagerConfig.OnEnd] so both explicit
// ends and idle-swept sessions are captured.
type Archiver struct {
	store    archive.Store
	embedder embeddings.Provider
	logger   *slog.Logger
	clock    func() time.Time
}

// ArchiverConfig assembles an [Archiver]. Store is required; a nil Embedder
// archives insights without vectors so they stay reachable through full-text
// search only.
type ArchiverConfig struct {
	Store    archive.Store
	Embedder embeddings.Provider
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewArchiver validates cfg and returns a ready [Archiver].
func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: archiver Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Archiver{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
	}, nil
}

// HandleEnd archives one ended session: its summary record plus every
// retained insight. Archive failures are logged, never propagated; an ended
// session must not be resurrected because the archive was down.
func (a *Archiver) HandleEnd(s *runtime.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	agentName := s.Config.Personality.Name
	rec := archive.Record{
		SessionID:     s.ID,
		AgentName:     agentName,
		Model:         s.Config.Model,
		TotalReward:   s.TotalReward(),
		ActionCount:   s.ActionCount(),
		FinalLocation: s.GameState().Location,
		CreatedAt:     s.CreatedAt(),
		EndedAt:       a.clock().UTC(),
	}
	if err := a.store.SaveSession(ctx, rec); err != nil {
		a.logger.Error("failed to archive session", "session_id", s.ID, "err", err)
		return
	}

	entries := s.Memory.All()
	if len(entries) == 0 {
		return
	}

	insights := make([]archive.Insight, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		insights[i] = archive.Insight{
			ID:         uuid.NewString(),
			SessionID:  s.ID,
			AgentName:  agentName,
			Text:       e.Content,
			Importance: e.Importance,
			Tags:       e.Tags,
			CreatedAt:  e.CreatedAt,
		}
		texts[i] = e.Content
	}

	if a.embedder != nil {
		vectors, err := a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			a.logger.Warn("insight embedding failed, archiving without vectors",
				"session_id", s.ID, "err", err)
		} else {
			for i := range insights {
				insights[i].Embedding = vectors[i]
			}
		}
	}

	if err := a.store.SaveInsights(ctx, insights); err != nil {
		a.logger.Error("failed to archive insights",
			"session_id", s.ID, "count", len(insights), "err", err)
		return
	}

	a.logger.Info("session archived",
		"session_id", s.ID, "agent", agentName, "insights", len(insights))
}
