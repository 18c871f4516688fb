package runtime_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/runtime"
)

func quietManager(clock func() time.Time) *runtime.Manager {
	return runtime.NewManager(runtime.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clock,
	})
}

func validConfig() agent.Config {
	return agent.Config{
		Personality: agent.Personality{
			Name:  "Ember",
			Style: agent.StyleExplorer,
			Goals: []string{"map the northern ruins"},
		},
		Model: "gpt-4o",
	}
}

func startedState() *game.State {
	return &game.State{Health: 100, MaxHealth: 100, Location: "crossroads"}
}

func TestCreate_StartsRunningWithInitEvent(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, err := m.Create(validConfig(), startedState())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if s.Status() != runtime.StatusRunning {
		t.Errorf("Status = %q, want running", s.Status())
	}
	inits := s.Events.Filter([]eventlog.Type{eventlog.TypeInit}, 0)
	if len(inits) != 1 {
		t.Fatalf("init events = %d, want exactly 1", len(inits))
	}
	if s.Events.Len() != 1 {
		t.Errorf("total events = %d, want 1", s.Events.Len())
	}
}

func TestCreate_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	cfg := validConfig()
	cfg.Model = ""
	if _, err := m.Create(cfg, startedState()); !errors.Is(err, agent.ErrInvalid) {
		t.Fatalf("err = %v, want agent.ErrInvalid", err)
	}
	if m.Len() != 0 {
		t.Errorf("registry size = %d after failed create", m.Len())
	}
}

func TestCreate_RejectsNilGameState(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	if _, err := m.Create(validConfig(), nil); !errors.Is(err, runtime.ErrNilGameState) {
		t.Fatalf("err = %v, want ErrNilGameState", err)
	}
}

func TestPauseResume_Idempotent(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())

	if st, err := m.Pause(s.ID); err != nil || st != runtime.StatusPaused {
		t.Fatalf("Pause = (%q, %v)", st, err)
	}
	// Second pause is a no-op success and adds no event.
	before := s.Events.Len()
	if st, err := m.Pause(s.ID); err != nil || st != runtime.StatusPaused {
		t.Fatalf("second Pause = (%q, %v)", st, err)
	}
	if s.Events.Len() != before {
		t.Errorf("idempotent pause appended an event")
	}

	if st, err := m.Resume(s.ID); err != nil || st != runtime.StatusRunning {
		t.Fatalf("Resume = (%q, %v)", st, err)
	}
	if st, err := m.Resume(s.ID); err != nil || st != runtime.StatusRunning {
		t.Fatalf("second Resume = (%q, %v)", st, err)
	}

	updates := s.Events.Filter([]eventlog.Type{eventlog.TypeSessionUpdate}, 0)
	if len(updates) != 2 {
		t.Errorf("session_update events = %d, want 2 (one pause, one resume)", len(updates))
	}
}

func TestEnd_EvictsFromRegistry(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())

	if err := m.End(s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if s.Status() != runtime.StatusEnded {
		t.Errorf("Status = %q, want ended", s.Status())
	}
	if _, err := m.Get(s.ID); !errors.Is(err, runtime.ErrSessionNotFound) {
		t.Errorf("Get after End = %v, want ErrSessionNotFound", err)
	}
	if err := m.End(s.ID); !errors.Is(err, runtime.ErrSessionNotFound) {
		t.Errorf("second End = %v, want ErrSessionNotFound", err)
	}
}

func TestEnded_IsTerminal(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())
	id := s.ID
	if err := m.End(id); err != nil {
		t.Fatalf("End: %v", err)
	}
	// The session is gone from the registry, so resume reports not-found
	// rather than reviving a terminal session.
	if _, err := m.Resume(id); !errors.Is(err, runtime.ErrSessionNotFound) {
		t.Errorf("Resume after End = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateGameState_DeepCopies(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())

	next := startedState()
	next.Inventory = []game.Item{{ID: "torch", Name: "Torch", Quantity: 2}}
	if err := m.UpdateGameState(s.ID, next); err != nil {
		t.Fatalf("UpdateGameState: %v", err)
	}

	// Mutating the caller's copy must not leak into the session.
	next.Inventory[0].Quantity = 99
	got := s.GameState()
	if got.Inventory[0].Quantity != 2 {
		t.Errorf("session inventory quantity = %d, want 2", got.Inventory[0].Quantity)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	m := quietManager(func() time.Time { return now })

	stale, _ := m.Create(validConfig(), startedState())

	now = now.Add(45 * time.Minute)
	fresh, _ := m.Create(validConfig(), startedState())

	swept := m.SweepExpired(30 * time.Minute)
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if _, err := m.Get(stale.ID); !errors.Is(err, runtime.ErrSessionNotFound) {
		t.Errorf("stale session still present: %v", err)
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestSweepExpired_CountsOnlySessionsItEnded(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	m := quietManager(func() time.Time { return now })

	const sessions = 3
	for range sessions {
		if _, err := m.Create(validConfig(), startedState()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	now = now.Add(time.Hour)

	// Two concurrent sweeps race over the same expired set; each session may
	// be ended by exactly one of them, so the counts must sum to the number
	// of sessions rather than double-count.
	results := make(chan int, 2)
	for range 2 {
		go func() { results <- m.SweepExpired(30 * time.Minute) }()
	}
	total := <-results + <-results

	if total != sessions {
		t.Errorf("swept total = %d, want %d", total, sessions)
	}
	if m.Len() != 0 {
		t.Errorf("live sessions = %d, want 0", m.Len())
	}
}

func TestSweepExpired_SkipsInFlightCycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	m := quietManager(func() time.Time { return now })
	s, _ := m.Create(validConfig(), startedState())

	if !s.BeginCycle() {
		t.Fatal("BeginCycle refused on fresh session")
	}
	defer s.EndCycle()

	now = now.Add(2 * time.Hour)
	if swept := m.SweepExpired(30 * time.Minute); swept != 0 {
		t.Fatalf("swept = %d, want 0 while a cycle is in flight", swept)
	}
}

func TestBeginCycle_Exclusive(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())

	if !s.BeginCycle() {
		t.Fatal("first BeginCycle refused")
	}
	if s.BeginCycle() {
		t.Fatal("second BeginCycle succeeded while slot held")
	}
	s.EndCycle()
	if !s.BeginCycle() {
		t.Fatal("BeginCycle refused after release")
	}
	s.EndCycle()
}

func TestHistory_Tail(t *testing.T) {
	t.Parallel()

	m := quietManager(nil)
	s, _ := m.Create(validConfig(), startedState())
	for i := 0; i < 5; i++ {
		s.AppendDecision(runtime.Decision{Action: "move", Timestamp: time.Now()})
	}

	if got := len(s.History(0)); got != 5 {
		t.Errorf("History(0) = %d entries, want 5", got)
	}
	if got := len(s.History(2)); got != 2 {
		t.Errorf("History(2) = %d entries, want 2", got)
	}
	if s.ActionCount() != 5 {
		t.Errorf("ActionCount = %d, want 5", s.ActionCount())
	}
}
