// Package runtime owns live agent sessions: the session state machine, the
// per-session lock discipline, and the registry that maps session IDs to
// sessions.
//
// A [Session] exclusively owns its game-state snapshot, event log, insight
// store, and action history. Only the [Manager] and the decision loop write
// the session status, always under the session's own lock. The registry is
// the single structure shared across sessions; everything else is
// session-private.
package runtime

import (
	"sync"
	"time"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
	"github.com/emberforge/questpilot/internal/toolhost"
)

// Status is the session lifecycle state.
//
// Transitions: Idle → Running ⇄ Paused → Ended. Ended is terminal. Idle
// exists only momentarily between allocation and first run and is not
// observable through the manager.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// canTransition reports whether the state machine permits from → to.
func canTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusRunning || to == StatusEnded
	case StatusRunning:
		return to == StatusPaused || to == StatusEnded
	case StatusPaused:
		return to == StatusRunning || to == StatusEnded
	case StatusEnded:
		return false
	}
	return false
}

// Decision is one completed decision cycle, immutable once recorded.
type Decision struct {
	// Action is the chosen action descriptor (usually the first tool name,
	// or "observe" for a cycle that called no tools).
	Action string

	// Rationale is the model's natural-language reasoning for the action.
	Rationale string

	// ToolResults lists every tool invocation of the cycle with its outcome.
	ToolResults []toolhost.Result

	// RewardDelta is the summed evaluator reward for this cycle.
	RewardDelta float64

	// Timestamp is when the decision completed.
	Timestamp time.Time
}

// Session is one running agent instance bound to a game state and config.
// All exported methods are safe for concurrent use.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// Config is the immutable agent configuration.
	Config agent.Config

	// Events is the session's append-only event log.
	Events *eventlog.Log

	// Memory is the session's bounded insight store.
	Memory *memory.Store

	mu           sync.Mutex
	status       Status
	gameState    *game.State
	totalReward  float64
	history      []Decision
	createdAt    time.Time
	lastActivity time.Time
	cycleActive  bool
	now          func() time.Time
}

// newSession allocates a Session in [StatusIdle]. clock stamps every
// activity update so the idle sweeper and tests share one time source.
func newSession(id string, cfg agent.Config, gs *game.State, memCapacity int, clock func() time.Time) *Session {
	now := clock().UTC()
	return &Session{
		ID:           id,
		Config:       cfg,
		Events:       eventlog.New(),
		Memory:       memory.NewStore(memCapacity),
		status:       StatusIdle,
		gameState:    gs.Clone(),
		createdAt:    now,
		lastActivity: now,
		now:          clock,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transition attempts the state change and reports whether it was applied.
// Illegal transitions leave the status untouched.
func (s *Session) transition(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status, to) {
		return false
	}
	s.status = to
	s.lastActivity = s.now().UTC()
	return true
}

// GameState returns a deep copy of the session's current game state.
func (s *Session) GameState() *game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameState.Clone()
}

// SetGameState replaces the session's game-state snapshot with a deep copy
// of gs.
func (s *Session) SetGameState(gs *game.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameState = gs.Clone()
	s.lastActivity = s.now().UTC()
}

// TotalReward returns the cumulative reward.
func (s *Session) TotalReward() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalReward
}

// AddReward adjusts the cumulative reward by delta. The evaluator pipeline
// is the only caller.
func (s *Session) AddReward(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalReward += delta
}

// AppendDecision records a completed decision cycle.
func (s *Session) AppendDecision(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, d)
	s.lastActivity = s.now().UTC()
}

// History returns a copy of the action history, oldest first. A positive
// tail limits the result to the most recent n decisions.
func (s *Session) History(tail int) []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if tail > 0 && len(h) > tail {
		h = h[len(h)-tail:]
	}
	out := make([]Decision, len(h))
	copy(out, h)
	return out
}

// ActionCount returns the number of recorded decisions.
func (s *Session) ActionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivityAt returns the time of the most recent state-changing call.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch refreshes the idle clock. The decision loop calls this on every
// chunk yield so the sweeper never evicts a session mid-decision.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now().UTC()
}

// BeginCycle claims the session's single decision-cycle slot. It returns
// false when another cycle is already in flight; callers must not proceed in
// that case. Pair every successful claim with EndCycle.
func (s *Session) BeginCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleActive {
		return false
	}
	s.cycleActive = true
	return true
}

// EndCycle releases the decision-cycle slot.
func (s *Session) EndCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleActive = false
}

// cycleInFlight reports whether a decision cycle currently holds the slot.
func (s *Session) cycleInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleActive
}

// Snapshot is a read-only view of a session for external callers.
type Snapshot struct {
	ID          string
	Status      Status
	GameState   *game.State
	History     []Decision
	TotalReward float64
	ActionCount int
	CreatedAt   time.Time
}

// Snapshot captures the session's externally visible state. The history is
// limited to the most recent historyTail decisions (0 means all).
func (s *Session) Snapshot(historyTail int) Snapshot {
	return Snapshot{
		ID:          s.ID,
		Status:      s.Status(),
		GameState:   s.GameState(),
		History:     s.History(historyTail),
		TotalReward: s.TotalReward(),
		ActionCount: s.ActionCount(),
		CreatedAt:   s.CreatedAt(),
	}
}
