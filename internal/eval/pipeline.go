// Package eval scores completed decision cycles and distils them into
// remembered insights.
//
// Five evaluators each judge one aspect of a cycle: raw outcomes, goal
// progress, risk taken, efficiency, and novelty. Their reward deltas are
// summed into the session's cumulative reward; their insights land in the
// session's memory store. A failing evaluator is skipped with an error
// event, the same isolation contract the context providers follow.
package eval

import (
	"context"
	"log/slog"

	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/internal/toolhost"
)

// Outcome is everything an evaluator may inspect about one cycle.
type Outcome struct {
	// Before and After are the game snapshots around the cycle.
	Before *game.State
	After  *game.State

	// Action is the cycle's chosen action descriptor.
	Action string

	// Rationale is the model's stated reasoning.
	Rationale string

	// ToolResults lists the cycle's tool invocations.
	ToolResults []toolhost.Result

	// Recent holds the decisions before this cycle, oldest first. Used by
	// the novelty evaluator to detect repetition.
	Recent []runtime.Decision

	// Remembered is a snapshot of the session's memory entries. Discoveries
	// already remembered are not rewarded again.
	Remembered []memory.Entry
}

// Evaluation is one evaluator's verdict.
type Evaluation struct {
	// RewardDelta is this evaluator's contribution to the cycle reward.
	RewardDelta float64

	// Insights are memory entries worth keeping.
	Insights []memory.Entry
}

// Evaluator judges one aspect of a completed cycle.
type Evaluator interface {
	// Name identifies the evaluator in logs and events (e.g., "risk").
	Name() string

	// Evaluate scores the outcome.
	Evaluate(ctx context.Context, o Outcome) (Evaluation, error)
}

// PipelineConfig configures a Pipeline. Zero values select defaults.
type PipelineConfig struct {
	// Logger receives per-evaluator failure logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Evaluators overrides the default set. Defaults to DefaultEvaluators().
	Evaluators []Evaluator
}

// Pipeline runs the evaluators over a cycle outcome.
type Pipeline struct {
	logger     *slog.Logger
	evaluators []Evaluator
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Evaluators == nil {
		cfg.Evaluators = DefaultEvaluators()
	}
	return &Pipeline{logger: cfg.Logger, evaluators: cfg.Evaluators}
}

// DefaultEvaluators returns the standard evaluator set.
func DefaultEvaluators() []Evaluator {
	return []Evaluator{
		OutcomeEvaluator{},
		GoalProgressEvaluator{},
		RiskEvaluator{},
		EfficiencyEvaluator{},
		NoveltyEvaluator{},
	}
}

// Run evaluates the outcome, applies the summed reward to the session, stores
// every insight, and returns the total reward delta. Evaluators run in order;
// a failure skips that evaluator only.
func (p *Pipeline) Run(ctx context.Context, s *runtime.Session, o Outcome) float64 {
	var total float64
	for _, ev := range p.evaluators {
		result, err := ev.Evaluate(ctx, o)
		if err != nil {
			p.logger.Warn("evaluator failed",
				"session_id", s.ID,
				"evaluator", ev.Name(),
				"error", err)
			s.Events.Append("eval."+ev.Name(), eventlog.ErrorPayload{
				Component: "eval." + ev.Name(),
				Message:   err.Error(),
			})
			continue
		}
		total += result.RewardDelta
		for _, insight := range result.Insights {
			s.Memory.Add(insight)
			s.Events.Append("eval."+ev.Name(), eventlog.InsightPayload{
				Evaluator:  ev.Name(),
				Content:    insight.Content,
				Importance: insight.Importance,
				Tags:       insight.Tags,
			})
		}
	}
	s.AddReward(total)
	return total
}
