package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
	"github.com/emberforge/questpilot/internal/toolhost"
)

// Reward weights. Tuned so a typical successful cycle lands around +0.2 and
// a disastrous one around -1.
const (
	rewardToolSuccess = 0.10
	rewardToolFailure = -0.20
	rewardQuestStep   = 1.0
	rewardQuestDone   = 1.0
	rewardHeavyDamage = -0.50
	rewardIdleCycle   = -0.05
	rewardNovelAction = 0.15
	rewardNewLocation = 0.25
)

// heavyDamageFraction is the single-cycle health loss (as a fraction of max)
// that counts as taking heavy damage.
const heavyDamageFraction = 0.25

// noveltySimilarity is the JaroWinkler score above which two action
// descriptions count as the same move.
const noveltySimilarity = 0.92

// OutcomeEvaluator scores the raw mechanics of the cycle: did the tools the
// model called actually work.
type OutcomeEvaluator struct{}

func (OutcomeEvaluator) Name() string { return "outcome" }

func (OutcomeEvaluator) Evaluate(_ context.Context, o Outcome) (Evaluation, error) {
	var delta float64
	for _, r := range o.ToolResults {
		if r.OK {
			delta += rewardToolSuccess
		} else {
			delta += rewardToolFailure
		}
	}
	return Evaluation{RewardDelta: delta}, nil
}

// GoalProgressEvaluator rewards quest advancement between the two snapshots.
type GoalProgressEvaluator struct{}

func (GoalProgressEvaluator) Name() string { return "goal-progress" }

func (GoalProgressEvaluator) Evaluate(_ context.Context, o Outcome) (Evaluation, error) {
	if o.Before == nil || o.After == nil {
		return Evaluation{}, nil
	}

	before := make(map[string]game.Quest, len(o.Before.Quests))
	for _, q := range o.Before.Quests {
		before[q.ID] = q
	}

	var ev Evaluation
	for _, q := range o.After.Quests {
		prev, known := before[q.ID]
		switch {
		case q.Status == game.QuestCompleted && (!known || prev.Status == game.QuestActive):
			ev.RewardDelta += rewardQuestDone
			ev.Insights = append(ev.Insights, memory.Entry{
				Content:    fmt.Sprintf("Completed quest %q", q.Name),
				Importance: 0.9,
				Tags:       []string{"quest", "milestone"},
			})
		case known && q.Progress > prev.Progress:
			ev.RewardDelta += rewardQuestStep * (q.Progress - prev.Progress)
		}
	}
	return ev, nil
}

// RiskEvaluator penalises health lost during the cycle and remembers what
// hurt the agent.
type RiskEvaluator struct{}

func (RiskEvaluator) Name() string { return "risk" }

func (RiskEvaluator) Evaluate(_ context.Context, o Outcome) (Evaluation, error) {
	if o.Before == nil || o.After == nil {
		return Evaluation{}, nil
	}
	lost := o.Before.HealthFraction() - o.After.HealthFraction()
	if lost < heavyDamageFraction {
		return Evaluation{}, nil
	}

	ev := Evaluation{RewardDelta: rewardHeavyDamage}
	if hostiles := o.After.HostileEntities(); len(hostiles) > 0 {
		names := make([]string, len(hostiles))
		for i, h := range hostiles {
			names[i] = h.Name
		}
		ev.Insights = append(ev.Insights, memory.Entry{
			Content:    fmt.Sprintf("Took heavy damage fighting %s", strings.Join(names, ", ")),
			Importance: 0.8,
			Tags:       []string{"combat", "danger"},
		})
	}
	return ev, nil
}

// EfficiencyEvaluator nudges the agent to act rather than observe, and to
// stop repeating tool calls that fail.
type EfficiencyEvaluator struct{}

func (EfficiencyEvaluator) Name() string { return "efficiency" }

func (EfficiencyEvaluator) Evaluate(_ context.Context, o Outcome) (Evaluation, error) {
	if len(o.ToolResults) == 0 {
		return Evaluation{RewardDelta: rewardIdleCycle}, nil
	}

	// A tool that failed the same way last cycle is wasted effort.
	var lastFailed map[string]bool
	if n := len(o.Recent); n > 0 {
		lastFailed = make(map[string]bool)
		for _, r := range o.Recent[n-1].ToolResults {
			if !r.OK {
				lastFailed[r.Tool] = true
			}
		}
	}

	var ev Evaluation
	for _, r := range o.ToolResults {
		if !r.OK && lastFailed[r.Tool] {
			ev.RewardDelta += rewardToolFailure
			ev.Insights = append(ev.Insights, memory.Entry{
				Content:    fmt.Sprintf("Tool %s keeps failing (%s); try something else", r.Tool, r.ErrorKind),
				Importance: 0.6,
				Tags:       []string{"efficiency"},
			})
		}
	}
	return ev, nil
}

// NoveltyEvaluator rewards doing something new: an action unlike the recent
// ones, or reaching a location the agent has not been rewarded for before.
// Repetition earns nothing, and a location already remembered stays earned
// exactly once no matter how often the agent shuttles back.
type NoveltyEvaluator struct{}

func (NoveltyEvaluator) Name() string { return "novelty" }

func (NoveltyEvaluator) Evaluate(_ context.Context, o Outcome) (Evaluation, error) {
	var ev Evaluation

	repeat := false
	current := actionSignature(o.Action, toolNames(o.ToolResults))
	for _, d := range o.Recent {
		past := actionSignature(d.Action, toolNames(d.ToolResults))
		if matchr.JaroWinkler(current, past, false) >= noveltySimilarity {
			repeat = true
			break
		}
	}
	if !repeat && o.Action != "" {
		ev.RewardDelta += rewardNovelAction
	}

	if o.Before != nil && o.After != nil &&
		o.After.Location != "" && o.After.Location != o.Before.Location &&
		!locationRemembered(o.Remembered, o.After.Location) {
		ev.RewardDelta += rewardNewLocation
		ev.Insights = append(ev.Insights, memory.Entry{
			Content:    fmt.Sprintf("Reached %s", o.After.Location),
			Importance: 0.7,
			Tags:       []string{"exploration", "location"},
		})
	}
	return ev, nil
}

// locationRemembered reports whether a "Reached" insight for location is
// already in memory.
func locationRemembered(entries []memory.Entry, location string) bool {
	content := "Reached " + location
	for _, e := range entries {
		if e.Content == content {
			return true
		}
	}
	return false
}

// toolNames lists the tools a decision invoked, in call order.
func toolNames(results []toolhost.Result) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Tool
	}
	return names
}

// actionSignature flattens a decision into a comparable string.
func actionSignature(action string, tools []string) string {
	if len(tools) == 0 {
		return action
	}
	return action + " " + strings.Join(tools, " ")
}
