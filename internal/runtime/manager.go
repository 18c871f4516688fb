package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/memory"
)

// ErrSessionNotFound is returned when a session ID is unknown or the session
// has already ended.
var ErrSessionNotFound = errors.New("session not found")

// ErrNilGameState is returned by Create when no initial game state is given.
var ErrNilGameState = errors.New("initial game state must not be nil")

// ManagerConfig configures a Manager. Zero values select defaults.
type ManagerConfig struct {
	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// MemoryCapacity bounds each session's insight store.
	// Defaults to memory.DefaultCapacity.
	MemoryCapacity int

	// Clock supplies the current time. Defaults to time.Now. Tests override
	// it to drive idle expiry deterministically.
	Clock func() time.Time

	// OnEnd is called synchronously after a session reaches the terminal
	// ended status, both for explicit End calls and idle-swept sessions.
	// The session is already evicted from the registry when the callback
	// runs. May be nil.
	OnEnd func(*Session)
}

// Manager is the concurrent session registry. It is the only component that
// creates, looks up, and retires sessions.
type Manager struct {
	logger      *slog.Logger
	memCapacity int
	clock       func() time.Time
	onEnd       func(*Session)

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = memory.DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		logger:      cfg.Logger,
		memCapacity: cfg.MemoryCapacity,
		clock:       cfg.Clock,
		onEnd:       cfg.OnEnd,
		sessions:    make(map[string]*Session),
	}
}

// Create validates cfg, registers a new session around a deep copy of gs,
// and moves it to [StatusRunning]. The session's event log starts with
// exactly one initialization event.
func (m *Manager) Create(cfg agent.Config, gs *game.State) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if gs == nil {
		return nil, ErrNilGameState
	}

	s := newSession(uuid.NewString(), cfg, gs, m.memCapacity, m.clock)
	s.transition(StatusRunning)
	s.Events.Append("manager", eventlog.InitPayload{
		AgentName: cfg.Personality.Name,
		Model:     cfg.Model,
		PlayStyle: string(cfg.Personality.Style),
	})

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		"session_id", s.ID,
		"agent", cfg.Personality.Name,
		"model", cfg.Model,
		"style", cfg.Personality.Style)
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// UpdateGameState replaces the session's game-state snapshot. The next
// decision cycle observes the new state.
func (m *Manager) UpdateGameState(id string, gs *game.State) error {
	if gs == nil {
		return ErrNilGameState
	}
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.SetGameState(gs)
	return nil
}

// Pause moves the session to [StatusPaused]. Pausing an already-paused
// session is a no-op success. A cycle already in flight finishes; the next
// cycle boundary observes the pause.
func (m *Manager) Pause(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if s.Status() == StatusPaused {
		return StatusPaused, nil
	}
	if !s.transition(StatusPaused) {
		return s.Status(), fmt.Errorf("pause session %s: cannot pause from %q", id, s.Status())
	}
	s.Events.Append("manager", eventlog.SessionUpdatePayload{
		Status:      string(StatusPaused),
		ActionCount: s.ActionCount(),
		TotalReward: s.TotalReward(),
		Note:        "session paused",
	})
	m.logger.Info("session paused", "session_id", id)
	return StatusPaused, nil
}

// Resume moves the session back to [StatusRunning]. Resuming a running
// session is a no-op success.
func (m *Manager) Resume(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if s.Status() == StatusRunning {
		return StatusRunning, nil
	}
	if !s.transition(StatusRunning) {
		return s.Status(), fmt.Errorf("resume session %s: cannot resume from %q", id, s.Status())
	}
	s.Events.Append("manager", eventlog.SessionUpdatePayload{
		Status:      string(StatusRunning),
		ActionCount: s.ActionCount(),
		TotalReward: s.TotalReward(),
		Note:        "session resumed",
	})
	m.logger.Info("session resumed", "session_id", id)
	return StatusRunning, nil
}

// End moves the session to the terminal [StatusEnded] and evicts it from the
// registry. Subsequent Get calls for the ID fail with [ErrSessionNotFound].
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.transition(StatusEnded)
	s.Events.Append("manager", eventlog.SessionUpdatePayload{
		Status:      string(StatusEnded),
		ActionCount: s.ActionCount(),
		TotalReward: s.TotalReward(),
		Note:        "session ended",
	})
	m.logger.Info("session ended",
		"session_id", id,
		"actions", s.ActionCount(),
		"total_reward", s.TotalReward())

	if m.onEnd != nil {
		m.onEnd(s)
	}
	return nil
}

// SweepExpired ends every session idle for longer than maxIdle and returns
// the number of sessions retired. Sessions with a decision cycle in flight
// are skipped; the cycle refreshes the idle clock as it streams.
func (m *Manager) SweepExpired(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := m.clock().UTC().Add(-maxIdle)

	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.cycleInFlight() {
			continue
		}
		if s.LastActivityAt().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	// End can lose the race to a concurrent explicit End; only sessions this
	// sweep actually retired count.
	ended := 0
	for _, id := range expired {
		if err := m.End(id); err == nil {
			ended++
			m.logger.Info("session expired", "session_id", id, "max_idle", maxIdle)
		}
	}
	return ended
}
