// Package gateway exposes the agent runtime over HTTP.
//
// The server offers a JSON API for session lifecycle and decision cycles, an
// XML export of the session event log, a websocket stream for autonomous
// runs, health endpoints, and Prometheus metrics. It also owns the idle
// sweeper and, when an archive is configured, writes ended sessions to it.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/health"
	"github.com/emberforge/questpilot/internal/loop"
	"github.com/emberforge/questpilot/internal/observe"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/pkg/archive"
	"github.com/emberforge/questpilot/pkg/provider/embeddings"
)

// Default sweep timings used when Config leaves them zero.
const (
	DefaultMaxIdle       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// archiveTimeout bounds the background archive write for one ended session.
const archiveTimeout = 30 * time.Second

// Config assembles a [Server].
type Config struct {
	// Logger receives request and lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Manager owns the session registry. Required.
	Manager *runtime.Manager

	// Loop drives decision cycles. Required.
	Loop *loop.Loop

	// Presets maps preset names to ready-to-use agent configurations.
	// Clients may create sessions by preset name instead of sending a full
	// config. May be nil.
	Presets map[string]agent.Config

	// DefaultModel fills the model for inline agent configs that omit one.
	DefaultModel string

	// Archive receives ended sessions. Nil disables archiving.
	Archive archive.Store

	// Embedder produces insight embeddings for archive recall. Nil means
	// insights are archived without vectors. Ignored when Archive is nil.
	Embedder embeddings.Provider

	// Metrics instruments HTTP requests. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz. Defaults to a checker-less handler.
	Health *health.Handler

	// MaxIdle is how long a session may go without activity before the
	// sweeper ends it. Zero means [DefaultMaxIdle].
	MaxIdle time.Duration

	// SweepInterval is how often the idle sweeper runs. Zero means
	// [DefaultSweepInterval].
	SweepInterval time.Duration
}

// Server is the HTTP gateway in front of the agent runtime.
type Server struct {
	logger       *slog.Logger
	manager      *runtime.Manager
	loop         *loop.Loop
	presets      map[string]agent.Config
	defaultModel string
	arch         archive.Store
	embedder     embeddings.Provider
	metrics      *observe.Metrics
	health       *health.Handler

	maxIdle       time.Duration
	sweepInterval time.Duration
}

// New validates cfg and returns a ready [Server].
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("gateway: Manager is required")
	}
	if cfg.Loop == nil {
		return nil, errors.New("gateway: Loop is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	return &Server{
		logger:        cfg.Logger,
		manager:       cfg.Manager,
		loop:          cfg.Loop,
		presets:       cfg.Presets,
		defaultModel:  cfg.DefaultModel,
		arch:          cfg.Archive,
		embedder:      cfg.Embedder,
		metrics:       cfg.Metrics,
		health:        cfg.Health,
		maxIdle:       cfg.MaxIdle,
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Handler returns the full route table wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /v1/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEnd)
	mux.HandleFunc("PUT /v1/sessions/{id}/game-state", s.handleGameState)
	mux.HandleFunc("POST /v1/sessions/{id}/decide", s.handleDecide)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)

	mux.HandleFunc("GET /v1/archive/sessions", s.handleArchiveList)
	mux.HandleFunc("GET /v1/archive/recall", s.handleArchiveRecall)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// RunSweeper periodically ends sessions idle longer than MaxIdle, archiving
// them like an explicit end. It blocks until ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.manager.SweepExpired(s.maxIdle); n > 0 {
				s.logger.Info("swept idle sessions", "count", n, "max_idle", s.maxIdle)
			}
		}
	}
}
