package eval_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eval"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/internal/toolhost"
)

func newSession(t *testing.T) *runtime.Session {
	t.Helper()
	m := runtime.NewManager(runtime.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s, err := m.Create(agent.Config{
		Personality: agent.Personality{Name: "Ember"},
		Model:       "gpt-4o",
	}, &game.State{Health: 100, MaxHealth: 100})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("reward = %v, want %v", got, want)
	}
}

func TestOutcomeEvaluator(t *testing.T) {
	t.Parallel()

	ev, err := eval.OutcomeEvaluator{}.Evaluate(context.Background(), eval.Outcome{
		ToolResults: []toolhost.Result{
			{Tool: "attack", OK: true},
			{Tool: "move", OK: true},
			{Tool: "craft", OK: false, ErrorKind: toolhost.ErrExecution},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0.10+0.10-0.20)
}

func TestGoalProgressEvaluator_QuestCompleted(t *testing.T) {
	t.Parallel()

	before := &game.State{Quests: []game.Quest{
		{ID: "q1", Name: "Roots of Trust", Status: game.QuestActive, Progress: 0.8},
	}}
	after := &game.State{Quests: []game.Quest{
		{ID: "q1", Name: "Roots of Trust", Status: game.QuestCompleted, Progress: 1},
	}}

	ev, err := eval.GoalProgressEvaluator{}.Evaluate(context.Background(),
		eval.Outcome{Before: before, After: after})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 1.0)
	if len(ev.Insights) != 1 || ev.Insights[0].Content != `Completed quest "Roots of Trust"` {
		t.Errorf("insights = %+v", ev.Insights)
	}
}

func TestGoalProgressEvaluator_PartialProgress(t *testing.T) {
	t.Parallel()

	before := &game.State{Quests: []game.Quest{
		{ID: "q1", Status: game.QuestActive, Progress: 0.2},
	}}
	after := &game.State{Quests: []game.Quest{
		{ID: "q1", Status: game.QuestActive, Progress: 0.5},
	}}

	ev, err := eval.GoalProgressEvaluator{}.Evaluate(context.Background(),
		eval.Outcome{Before: before, After: after})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0.3)
}

func TestRiskEvaluator_HeavyDamage(t *testing.T) {
	t.Parallel()

	before := &game.State{Health: 100, MaxHealth: 100}
	after := &game.State{
		Health: 40, MaxHealth: 100,
		Entities: []game.Entity{{ID: "m1", Kind: game.EntityMonster, Name: "Revenant", Hostile: true}},
	}

	ev, err := eval.RiskEvaluator{}.Evaluate(context.Background(),
		eval.Outcome{Before: before, After: after})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, -0.5)
	if len(ev.Insights) != 1 {
		t.Fatalf("insights = %d, want 1", len(ev.Insights))
	}
}

func TestRiskEvaluator_MinorScratch(t *testing.T) {
	t.Parallel()

	before := &game.State{Health: 100, MaxHealth: 100}
	after := &game.State{Health: 95, MaxHealth: 100}

	ev, err := eval.RiskEvaluator{}.Evaluate(context.Background(),
		eval.Outcome{Before: before, After: after})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0)
}

func TestEfficiencyEvaluator_IdleCycle(t *testing.T) {
	t.Parallel()

	ev, err := eval.EfficiencyEvaluator{}.Evaluate(context.Background(), eval.Outcome{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, -0.05)
}

func TestEfficiencyEvaluator_RepeatedFailure(t *testing.T) {
	t.Parallel()

	ev, err := eval.EfficiencyEvaluator{}.Evaluate(context.Background(), eval.Outcome{
		ToolResults: []toolhost.Result{{Tool: "craft", OK: false, ErrorKind: toolhost.ErrExecution}},
		Recent: []runtime.Decision{{
			Action:      "craft",
			ToolResults: []toolhost.Result{{Tool: "craft", OK: false, ErrorKind: toolhost.ErrExecution}},
		}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, -0.20)
	if len(ev.Insights) != 1 {
		t.Errorf("insights = %d, want a keeps-failing note", len(ev.Insights))
	}
}

func TestNoveltyEvaluator_RepeatEarnsNothing(t *testing.T) {
	t.Parallel()

	recent := []runtime.Decision{{
		Action:      "attack",
		ToolResults: []toolhost.Result{{Tool: "attack", OK: true}},
	}}

	ev, err := eval.NoveltyEvaluator{}.Evaluate(context.Background(), eval.Outcome{
		Action:      "attack",
		ToolResults: []toolhost.Result{{Tool: "attack", OK: true}},
		Recent:      recent,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0)
}

func TestNoveltyEvaluator_NewLocation(t *testing.T) {
	t.Parallel()

	ev, err := eval.NoveltyEvaluator{}.Evaluate(context.Background(), eval.Outcome{
		Action: "move",
		Before: &game.State{Location: "crossroads"},
		After:  &game.State{Location: "sunken chapel"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0.15+0.25)
	if len(ev.Insights) != 1 || ev.Insights[0].Content != "Reached sunken chapel" {
		t.Errorf("insights = %+v", ev.Insights)
	}
}

func TestNoveltyEvaluator_RememberedLocationNotRewardedAgain(t *testing.T) {
	t.Parallel()

	// The agent shuttles back to a location it already earned an insight for.
	// Outside the recent-decision window the only guard is memory.
	ev, err := eval.NoveltyEvaluator{}.Evaluate(context.Background(), eval.Outcome{
		Action: "move",
		Before: &game.State{Location: "sunken chapel"},
		After:  &game.State{Location: "crossroads"},
		Recent: []runtime.Decision{{
			Action:      "move",
			ToolResults: []toolhost.Result{{Tool: "move", OK: true}},
		}},
		ToolResults: []toolhost.Result{{Tool: "move", OK: true}},
		Remembered: []memory.Entry{
			{Content: "Reached crossroads", Importance: 0.7, Tags: []string{"exploration", "location"}},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	approx(t, ev.RewardDelta, 0)
	if len(ev.Insights) != 0 {
		t.Errorf("insights = %+v, want none for a re-visited location", ev.Insights)
	}
}

// failingEvaluator always errors, to exercise fault isolation.
type failingEvaluator struct{}

func (failingEvaluator) Name() string { return "broken" }

func (failingEvaluator) Evaluate(context.Context, eval.Outcome) (eval.Evaluation, error) {
	return eval.Evaluation{}, errors.New("scoring model offline")
}

// fixedEvaluator returns a constant evaluation.
type fixedEvaluator struct {
	reward float64
}

func (fixedEvaluator) Name() string { return "fixed" }

func (f fixedEvaluator) Evaluate(context.Context, eval.Outcome) (eval.Evaluation, error) {
	return eval.Evaluation{RewardDelta: f.reward}, nil
}

func TestPipeline_SumsAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	s := newSession(t)
	p := eval.NewPipeline(eval.PipelineConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Evaluators: []eval.Evaluator{
			fixedEvaluator{reward: 0.3},
			failingEvaluator{},
			fixedEvaluator{reward: -0.1},
		},
	})

	total := p.Run(context.Background(), s, eval.Outcome{})
	approx(t, total, 0.2)
	approx(t, s.TotalReward(), 0.2)

	errs := s.Events.Filter([]eventlog.Type{eventlog.TypeError}, 0)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if errs[0].Payload.(eventlog.ErrorPayload).Component != "eval.broken" {
		t.Errorf("Component = %q", errs[0].Payload.(eventlog.ErrorPayload).Component)
	}
}

func TestPipeline_StoresInsights(t *testing.T) {
	t.Parallel()

	s := newSession(t)
	p := eval.NewPipeline(eval.PipelineConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	before := &game.State{Health: 100, MaxHealth: 100, Location: "crossroads"}
	after := &game.State{Health: 100, MaxHealth: 100, Location: "old mill"}
	p.Run(context.Background(), s, eval.Outcome{
		Action: "move",
		Before: before,
		After:  after,
		ToolResults: []toolhost.Result{
			{Tool: "move", OK: true},
		},
	})

	found := false
	for _, e := range s.Memory.All() {
		if e.Content == "Reached old mill" {
			found = true
		}
	}
	if !found {
		t.Error("location insight not stored in memory")
	}
	insights := s.Events.Filter([]eventlog.Type{eventlog.TypeEvaluatorInsight}, 0)
	if len(insights) == 0 {
		t.Error("no evaluator_insight events recorded")
	}
}
