// Package promptctx assembles the prompt context for a decision cycle.
//
// A fixed set of context providers each contribute one textual fragment
// describing an aspect of the session: world state, goals, remembered
// insights, social standing, recent actions. Providers run concurrently but
// their fragments are always assembled in the same priority order, so two
// collections over identical state produce identical context. A failing
// provider contributes an empty fragment and an error event; it never sinks
// the cycle.
package promptctx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/runtime"
)

// Provider contributes one context fragment per decision cycle.
type Provider interface {
	// Name identifies the provider in logs and events (e.g., "game-state").
	Name() string

	// Collect produces the fragment for the session's current state. An empty
	// fragment with nil error means "nothing relevant right now".
	Collect(ctx context.Context, s *runtime.Session) (string, error)
}

// DefaultCollectTimeout bounds one pipeline collection.
const DefaultCollectTimeout = 5 * time.Second

// PipelineConfig configures a Pipeline. Zero values select defaults.
type PipelineConfig struct {
	// Logger receives per-provider failure logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Providers overrides the default provider set. Order defines assembly
	// priority. Defaults to DefaultProviders().
	Providers []Provider

	// CollectTimeout bounds one Collect call across all providers.
	// Defaults to DefaultCollectTimeout.
	CollectTimeout time.Duration
}

// Pipeline runs the configured providers and assembles their fragments.
type Pipeline struct {
	logger    *slog.Logger
	providers []Provider
	timeout   time.Duration
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Providers == nil {
		cfg.Providers = DefaultProviders()
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = DefaultCollectTimeout
	}
	return &Pipeline{
		logger:    cfg.Logger,
		providers: cfg.Providers,
		timeout:   cfg.CollectTimeout,
	}
}

// DefaultProviders returns the standard provider set in priority order:
// game state, goals, memory, social, history.
func DefaultProviders() []Provider {
	return []Provider{
		GameStateProvider{},
		GoalsProvider{},
		MemoryProvider{},
		SocialProvider{},
		HistoryProvider{},
	}
}

// Fragment is one provider's non-empty contribution to the context block.
type Fragment struct {
	// Provider is the contributing provider's name.
	Provider string

	// Text is the fragment itself.
	Text string
}

// CollectFragments runs every provider concurrently against the session and
// returns the non-empty fragments in provider priority order. Each fragment is
// recorded as a provider_context event, each provider failure as an error
// event.
func (p *Pipeline) CollectFragments(ctx context.Context, s *runtime.Session) []Fragment {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	texts := make([]string, len(p.providers))
	errs := make([]error, len(p.providers))

	var g errgroup.Group
	for i, prov := range p.providers {
		g.Go(func() error {
			text, err := prov.Collect(ctx, s)
			if err != nil {
				errs[i] = err
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()

	var out []Fragment
	for i, prov := range p.providers {
		if errs[i] != nil {
			p.logger.Warn("context provider failed",
				"session_id", s.ID,
				"provider", prov.Name(),
				"error", errs[i])
			s.Events.Append("provider."+prov.Name(), eventlog.ErrorPayload{
				Component: "provider." + prov.Name(),
				Message:   errs[i].Error(),
			})
			continue
		}
		if texts[i] == "" {
			continue
		}
		s.Events.Append("provider."+prov.Name(), eventlog.ProviderContextPayload{
			Provider: prov.Name(),
			Fragment: texts[i],
		})
		out = append(out, Fragment{Provider: prov.Name(), Text: texts[i]})
	}
	return out
}

// Collect runs CollectFragments and joins the fragment texts into one block.
func (p *Pipeline) Collect(ctx context.Context, s *runtime.Session) string {
	var sb strings.Builder
	for _, f := range p.CollectFragments(ctx, s) {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(f.Text)
	}
	return sb.String()
}
