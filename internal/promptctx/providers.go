package promptctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/emberforge/questpilot/internal/runtime"
)

// memoryTopK is how many insights the memory provider surfaces per cycle.
const memoryTopK = 5

// historyTail is how many recent decisions the history provider surfaces.
const historyTail = 5

// GameStateProvider summarises the world snapshot: vitals, location,
// visible entities, inventory, and quest progress.
type GameStateProvider struct{}

func (GameStateProvider) Name() string { return "game-state" }

func (GameStateProvider) Collect(_ context.Context, s *runtime.Session) (string, error) {
	gs := s.GameState()

	var sb strings.Builder
	sb.WriteString("## Current situation\n")
	fmt.Fprintf(&sb, "Health: %.0f%%", gs.HealthFraction()*100)
	if gs.Energy > 0 {
		fmt.Fprintf(&sb, " | Energy: %.0f", gs.Energy)
	}
	sb.WriteString("\n")
	if gs.Location != "" {
		fmt.Fprintf(&sb, "Location: %s (%.1f, %.1f, %.1f)\n",
			gs.Location, gs.Position.X, gs.Position.Y, gs.Position.Z)
	} else {
		fmt.Fprintf(&sb, "Position: (%.1f, %.1f, %.1f)\n",
			gs.Position.X, gs.Position.Y, gs.Position.Z)
	}

	if hostiles := gs.HostileEntities(); len(hostiles) > 0 {
		sb.WriteString("Hostiles in sight:\n")
		for _, e := range hostiles {
			fmt.Fprintf(&sb, "- %s (id %s)", e.Name, e.ID)
			if e.Health > 0 {
				fmt.Fprintf(&sb, ", health %.0f", e.Health)
			}
			sb.WriteString("\n")
		}
	}
	if len(gs.Entities) > 0 {
		var other []string
		for _, e := range gs.Entities {
			if !e.Hostile {
				other = append(other, fmt.Sprintf("%s %s (id %s)", e.Kind, e.Name, e.ID))
			}
		}
		if len(other) > 0 {
			fmt.Fprintf(&sb, "Also visible: %s\n", strings.Join(other, "; "))
		}
	}
	if len(gs.Inventory) > 0 {
		var items []string
		for _, it := range gs.Inventory {
			items = append(items, fmt.Sprintf("%s x%d (id %s)", it.Name, it.Quantity, it.ID))
		}
		fmt.Fprintf(&sb, "Inventory: %s\n", strings.Join(items, ", "))
	}
	if q := gs.ActiveQuest(); q != nil {
		fmt.Fprintf(&sb, "Active quest: %s (%.0f%% done)", q.Name, q.Progress*100)
		if q.Objective != "" {
			fmt.Fprintf(&sb, " — next: %s", q.Objective)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// GoalsProvider renders the persona: traits, play style, and objectives.
type GoalsProvider struct{}

func (GoalsProvider) Name() string { return "goals" }

func (GoalsProvider) Collect(_ context.Context, s *runtime.Session) (string, error) {
	p := s.Config.Personality

	var sb strings.Builder
	sb.WriteString("## Who you are\n")
	fmt.Fprintf(&sb, "You are %s", p.Name)
	if len(p.Traits) > 0 {
		fmt.Fprintf(&sb, " — %s", strings.Join(p.Traits, ", "))
	}
	sb.WriteString(".\n")
	if p.Style != "" {
		fmt.Fprintf(&sb, "Play style: %s.\n", p.Style)
	}
	if goal := p.PrimaryGoal(); goal != "" {
		fmt.Fprintf(&sb, "Primary goal: %s\n", goal)
	}
	if secondary := p.SecondaryGoals(); len(secondary) > 0 {
		fmt.Fprintf(&sb, "Also pursuing: %s\n", strings.Join(secondary, "; "))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// MemoryProvider surfaces the most important remembered insights.
type MemoryProvider struct{}

func (MemoryProvider) Name() string { return "memory" }

func (MemoryProvider) Collect(_ context.Context, s *runtime.Session) (string, error) {
	entries := s.Memory.TopK(memoryTopK)
	if len(entries) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Things you remember\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s\n", e.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// SocialProvider describes nearby NPCs and the agent's standing with them.
type SocialProvider struct{}

func (SocialProvider) Name() string { return "social" }

func (SocialProvider) Collect(_ context.Context, s *runtime.Session) (string, error) {
	gs := s.GameState()
	npcs := gs.NearbyNPCs()
	if len(npcs) == 0 && len(gs.Relationships) == 0 {
		return "", nil
	}

	standing := make(map[string]float64, len(gs.Relationships))
	for _, r := range gs.Relationships {
		standing[r.NPCID] = r.Affinity
	}

	var sb strings.Builder
	sb.WriteString("## People nearby\n")
	for _, npc := range npcs {
		fmt.Fprintf(&sb, "- %s (id %s)", npc.Name, npc.ID)
		if aff, ok := standing[npc.ID]; ok {
			fmt.Fprintf(&sb, ", standing %s", describeAffinity(aff))
		}
		sb.WriteString("\n")
	}
	for _, r := range gs.Relationships {
		if r.LastDialogue != "" {
			fmt.Fprintf(&sb, "Last exchange with %s: %q\n", r.Name, r.LastDialogue)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// describeAffinity maps a [-1, 1] affinity to a coarse label the model can
// reason about.
func describeAffinity(a float64) string {
	switch {
	case a <= -0.5:
		return "hostile"
	case a < 0:
		return "wary"
	case a == 0:
		return "neutral"
	case a < 0.5:
		return "friendly"
	default:
		return "trusted"
	}
}

// HistoryProvider replays the most recent decisions so the model does not
// repeat itself.
type HistoryProvider struct{}

func (HistoryProvider) Name() string { return "history" }

func (HistoryProvider) Collect(_ context.Context, s *runtime.Session) (string, error) {
	decisions := s.History(historyTail)
	if len(decisions) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Your recent actions\n")
	for _, d := range decisions {
		fmt.Fprintf(&sb, "- %s", d.Action)
		for _, r := range d.ToolResults {
			if r.OK {
				fmt.Fprintf(&sb, " → %s", firstLine(r.Content))
			} else {
				fmt.Fprintf(&sb, " → failed (%s)", r.ErrorKind)
			}
		}
		if d.RewardDelta != 0 {
			fmt.Fprintf(&sb, " [reward %+.2f]", d.RewardDelta)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// firstLine truncates multi-line tool output to its first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
