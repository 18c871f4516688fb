package promptctx_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
	"github.com/emberforge/questpilot/internal/promptctx"
	"github.com/emberforge/questpilot/internal/runtime"
)

func newSession(t *testing.T, gs *game.State) *runtime.Session {
	t.Helper()
	m := runtime.NewManager(runtime.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s, err := m.Create(agent.Config{
		Personality: agent.Personality{
			Name:   "Bramble",
			Traits: []string{"curious", "soft-spoken"},
			Style:  agent.StyleSocial,
			Goals:  []string{"befriend the river village", "collect rare herbs"},
		},
		Model: "gpt-4o",
	}, gs)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func richState() *game.State {
	return &game.State{
		Health:    60,
		MaxHealth: 120,
		Location:  "river village",
		Entities: []game.Entity{
			{ID: "npc-1", Kind: game.EntityNPC, Name: "Torvel"},
			{ID: "mob-1", Kind: game.EntityMonster, Name: "Marsh Wisp", Hostile: true},
		},
		Inventory: []game.Item{{ID: "herb-3", Name: "Kingsfoil", Quantity: 4}},
		Quests: []game.Quest{{
			ID: "q1", Name: "Roots of Trust", Status: game.QuestActive,
			Progress: 0.5, Objective: "Bring 5 kingsfoil to Torvel",
		}},
		Relationships: []game.Relationship{{NPCID: "npc-1", Name: "Torvel", Affinity: 0.7}},
	}
}

func quietPipeline(providers ...promptctx.Provider) *promptctx.Pipeline {
	cfg := promptctx.PipelineConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if len(providers) > 0 {
		cfg.Providers = providers
	}
	return promptctx.NewPipeline(cfg)
}

// stubProvider returns a fixed fragment or error.
type stubProvider struct {
	name     string
	fragment string
	err      error
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) Collect(context.Context, *runtime.Session) (string, error) {
	return p.fragment, p.err
}

func TestCollect_FixedPriorityOrder(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	s.Memory.Add(memory.Entry{Content: "Torvel pays double for kingsfoil", Importance: 0.9})
	s.AppendDecision(runtime.Decision{Action: "move"})

	out := quietPipeline().Collect(context.Background(), s)

	idx := func(marker string) int { return strings.Index(out, marker) }
	order := []string{
		"## Current situation",
		"## Who you are",
		"## Things you remember",
		"## People nearby",
		"## Your recent actions",
	}
	last := -1
	for _, marker := range order {
		i := idx(marker)
		if i < 0 {
			t.Fatalf("fragment %q missing from output:\n%s", marker, out)
		}
		if i < last {
			t.Errorf("fragment %q out of order", marker)
		}
		last = i
	}
}

func TestCollect_Deterministic(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	p := quietPipeline()

	a := p.Collect(context.Background(), s)
	b := p.Collect(context.Background(), s)
	if a != b {
		t.Errorf("two collections over identical state differ:\n%s\n--\n%s", a, b)
	}
}

func TestCollect_ProviderFailureIsolated(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	p := quietPipeline(
		stubProvider{name: "first", fragment: "FIRST"},
		stubProvider{name: "broken", err: errors.New("backend unreachable")},
		stubProvider{name: "last", fragment: "LAST"},
	)

	out := p.Collect(context.Background(), s)

	if !strings.Contains(out, "FIRST") || !strings.Contains(out, "LAST") {
		t.Errorf("healthy fragments missing: %q", out)
	}
	if strings.Contains(out, "backend unreachable") {
		t.Errorf("error text leaked into context: %q", out)
	}

	errs := s.Events.Filter([]eventlog.Type{eventlog.TypeError}, 0)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	payload := errs[0].Payload.(eventlog.ErrorPayload)
	if payload.Component != "provider.broken" {
		t.Errorf("Component = %q, want provider.broken", payload.Component)
	}
}

func TestCollect_EmptyFragmentSkipped(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	p := quietPipeline(
		stubProvider{name: "a", fragment: "ALPHA"},
		stubProvider{name: "quiet", fragment: ""},
		stubProvider{name: "b", fragment: "BETA"},
	)

	out := p.Collect(context.Background(), s)
	if out != "ALPHA\n\nBETA" {
		t.Errorf("output = %q, want fragments joined without a gap for the empty one", out)
	}

	ctxEvents := s.Events.Filter([]eventlog.Type{eventlog.TypeProviderContext}, 0)
	if len(ctxEvents) != 2 {
		t.Errorf("provider_context events = %d, want 2", len(ctxEvents))
	}
}

func TestCollectFragments_NamesAndOrder(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	p := quietPipeline(
		stubProvider{name: "a", fragment: "ALPHA"},
		stubProvider{name: "quiet", fragment: ""},
		stubProvider{name: "broken", err: errors.New("backend unreachable")},
		stubProvider{name: "b", fragment: "BETA"},
	)

	frags := p.CollectFragments(context.Background(), s)
	if len(frags) != 2 {
		t.Fatalf("fragments = %d, want 2 (empty and failed providers skipped)", len(frags))
	}
	if frags[0].Provider != "a" || frags[0].Text != "ALPHA" {
		t.Errorf("frags[0] = %+v", frags[0])
	}
	if frags[1].Provider != "b" || frags[1].Text != "BETA" {
		t.Errorf("frags[1] = %+v", frags[1])
	}
}

func TestMemoryProvider_EmptyStore(t *testing.T) {
	t.Parallel()

	s := newSession(t, richState())
	fragment, err := promptctx.MemoryProvider{}.Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if fragment != "" {
		t.Errorf("fragment = %q, want empty for empty store", fragment)
	}
}
