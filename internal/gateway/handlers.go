package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/loop"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/internal/toolhost"
	"github.com/emberforge/questpilot/pkg/archive"
)

// historyTail is how many recent decisions a session view carries.
const historyTail = 10

// recallTopK is the default result count for archive recall queries.
const recallTopK = 5

// ─── Request / response bodies ──────────────────────────────────────────────

// personalitySpec mirrors [agent.Personality] for the JSON API.
type personalitySpec struct {
	Name        string             `json:"name"`
	Traits      []string           `json:"traits,omitempty"`
	Style       string             `json:"style,omitempty"`
	Goals       []string           `json:"goals,omitempty"`
	Preferences map[string]float64 `json:"preferences,omitempty"`
}

// agentSpec is an inline agent configuration in a create request.
// Durations are strings in Go syntax (e.g. "10s").
type agentSpec struct {
	Personality          personalitySpec `json:"personality"`
	Model                string          `json:"model,omitempty"`
	Temperature          float64         `json:"temperature,omitempty"`
	MaxTokens            int             `json:"max_tokens,omitempty"`
	Streaming            bool            `json:"streaming,omitempty"`
	ToolTimeout          string          `json:"tool_timeout,omitempty"`
	MaxAutonomousActions int             `json:"max_autonomous_actions,omitempty"`
}

// toConfig converts the spec into a runtime agent configuration.
func (a agentSpec) toConfig() (agent.Config, error) {
	var toolTimeout time.Duration
	if a.ToolTimeout != "" {
		d, err := time.ParseDuration(a.ToolTimeout)
		if err != nil {
			return agent.Config{}, fmt.Errorf("invalid tool_timeout %q: %w", a.ToolTimeout, err)
		}
		toolTimeout = d
	}
	return agent.Config{
		Personality: agent.Personality{
			Name:        a.Personality.Name,
			Traits:      a.Personality.Traits,
			Style:       agent.PlayStyle(a.Personality.Style),
			Goals:       a.Personality.Goals,
			Preferences: a.Personality.Preferences,
		},
		Model:                a.Model,
		Temperature:          a.Temperature,
		MaxTokens:            a.MaxTokens,
		Streaming:            a.Streaming,
		ToolTimeout:          toolTimeout,
		MaxAutonomousActions: a.MaxAutonomousActions,
	}, nil
}

// createRequest is the body for POST /v1/sessions. Exactly one of Preset or
// Agent selects the configuration.
type createRequest struct {
	Preset    string      `json:"preset,omitempty"`
	Agent     *agentSpec  `json:"agent,omitempty"`
	GameState *game.State `json:"game_state"`
}

// sessionView is the JSON projection of one live session.
type sessionView struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	AgentName   string         `json:"agent_name"`
	Model       string         `json:"model"`
	GameState   *game.State    `json:"game_state"`
	TotalReward float64        `json:"total_reward"`
	ActionCount int            `json:"action_count"`
	CreatedAt   time.Time      `json:"created_at"`
	History     []decisionView `json:"history,omitempty"`
}

// decisionView is the JSON projection of one completed decision cycle.
type decisionView struct {
	Action      string           `json:"action"`
	Rationale   string           `json:"rationale"`
	ToolResults []toolResultView `json:"tool_results,omitempty"`
	RewardDelta float64          `json:"reward_delta"`
	Timestamp   time.Time        `json:"timestamp"`
}

// toolResultView is the JSON projection of one tool invocation outcome.
type toolResultView struct {
	Tool       string  `json:"tool"`
	CallID     string  `json:"call_id,omitempty"`
	OK         bool    `json:"ok"`
	Content    string  `json:"content"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// statusResponse is the body for pause/resume/end responses.
type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func viewDecision(d runtime.Decision) decisionView {
	v := decisionView{
		Action:      d.Action,
		Rationale:   d.Rationale,
		RewardDelta: d.RewardDelta,
		Timestamp:   d.Timestamp,
	}
	for _, r := range d.ToolResults {
		v.ToolResults = append(v.ToolResults, viewToolResult(r))
	}
	return v
}

func viewToolResult(r toolhost.Result) toolResultView {
	return toolResultView{
		Tool:       r.Tool,
		CallID:     r.CallID,
		OK:         r.OK,
		Content:    r.Content,
		ErrorKind:  string(r.ErrorKind),
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
	}
}

func viewSession(s *runtime.Session, tail int) sessionView {
	snap := s.Snapshot(tail)
	v := sessionView{
		ID:          snap.ID,
		Status:      string(snap.Status),
		AgentName:   s.Config.Personality.Name,
		Model:       s.Config.Model,
		GameState:   snap.GameState,
		TotalReward: snap.TotalReward,
		ActionCount: snap.ActionCount,
		CreatedAt:   snap.CreatedAt,
	}
	for _, d := range snap.History {
		v.History = append(v.History, viewDecision(d))
	}
	return v
}

// ─── Session lifecycle ──────────────────────────────────────────────────────

// handleCreate handles POST /v1/sessions.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var cfg agent.Config
	switch {
	case req.Preset != "" && req.Agent != nil:
		http.Error(w, "preset and agent are mutually exclusive", http.StatusBadRequest)
		return
	case req.Preset != "":
		preset, ok := s.presets[req.Preset]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown preset %q", req.Preset), http.StatusNotFound)
			return
		}
		cfg = preset
	case req.Agent != nil:
		c, err := req.Agent.toConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if c.Model == "" {
			c.Model = s.defaultModel
		}
		cfg = c
	default:
		http.Error(w, "preset or agent is required", http.StatusBadRequest)
		return
	}

	sess, err := s.manager.Create(cfg, req.GameState)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess, historyTail))
}

// handleGet handles GET /v1/sessions/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess, historyTail))
}

// handlePause handles POST /v1/sessions/{id}/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.manager.Pause(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: string(status)})
}

// handleResume handles POST /v1/sessions/{id}/resume.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.manager.Resume(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: string(status)})
}

// handleEnd handles POST /v1/sessions/{id}/end.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.End(id); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: string(runtime.StatusEnded)})
}

// handleGameState handles PUT /v1/sessions/{id}/game-state.
func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	var gs game.State
	if err := json.NewDecoder(r.Body).Decode(&gs); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.manager.UpdateGameState(r.PathValue("id"), &gs); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Decisions and events ───────────────────────────────────────────────────

// handleDecide handles POST /v1/sessions/{id}/decide: one synchronous
// decision cycle.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	d, err := s.loop.Decide(r.Context(), sess)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDecision(d))
}

// handleEvents handles GET /v1/sessions/{id}/events: the XML event log
// export. Query parameters: types (comma-separated event types) and limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	opts := eventlog.ExportOptions{}
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			opts.Types = append(opts.Types, eventlog.Type(strings.TrimSpace(t)))
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := sess.Events.ExportXML(w, opts); err != nil {
		s.logger.Error("event export failed", "session_id", sess.ID, "err", err)
	}
}

// ─── Archive ────────────────────────────────────────────────────────────────

// archiveRecordView is the JSON projection of one archived session.
type archiveRecordView struct {
	SessionID     string    `json:"session_id"`
	AgentName     string    `json:"agent_name"`
	Model         string    `json:"model"`
	TotalReward   float64   `json:"total_reward"`
	ActionCount   int       `json:"action_count"`
	FinalLocation string    `json:"final_location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// recallView is the JSON projection of one recalled insight.
type recallView struct {
	SessionID  string   `json:"session_id"`
	AgentName  string   `json:"agent_name"`
	Text       string   `json:"text"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
	Distance   float64  `json:"distance"`
}

// handleArchiveList handles GET /v1/archive/sessions. Query parameters:
// agent (name filter) and limit.
func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		http.Error(w, "archive is not configured", http.StatusNotImplemented)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.arch.ListSessions(r.Context(), r.URL.Query().Get("agent"), limit)
	if err != nil {
		s.logger.Error("archive list failed", "err", err)
		http.Error(w, "archive query failed", http.StatusBadGateway)
		return
	}

	views := make([]archiveRecordView, len(recs))
	for i, rec := range recs {
		views[i] = archiveRecordView(rec)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleArchiveRecall handles GET /v1/archive/recall. Query parameters:
// q (the query text, required), agent (name filter), and k (result count).
//
// With an embedding provider configured the query is embedded and matched by
// vector similarity; otherwise the archive's full-text search is used.
func (s *Server) handleArchiveRecall(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		http.Error(w, "archive is not configured", http.StatusNotImplemented)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	topK := recallTopK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "k must be a positive integer", http.StatusBadRequest)
			return
		}
		topK = n
	}
	filter := archive.Filter{AgentName: r.URL.Query().Get("agent")}

	var (
		results []archive.Result
		err     error
	)
	if s.embedder != nil {
		var vec []float32
		vec, err = s.embedder.Embed(r.Context(), query)
		if err == nil {
			results, err = s.arch.Recall(r.Context(), vec, topK, filter)
		}
	} else {
		results, err = s.arch.SearchInsights(r.Context(), query, filter)
		if err == nil && len(results) > topK {
			results = results[:topK]
		}
	}
	if err != nil {
		s.logger.Error("archive recall failed", "err", err)
		http.Error(w, "archive query failed", http.StatusBadGateway)
		return
	}

	views := make([]recallView, len(results))
	for i, res := range results {
		views[i] = recallView{
			SessionID:  res.Insight.SessionID,
			AgentName:  res.Insight.AgentName,
			Text:       res.Insight.Text,
			Importance: res.Insight.Importance,
			Tags:       res.Insight.Tags,
			Distance:   res.Distance,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// respondError maps runtime and loop errors onto HTTP status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, runtime.ErrNilGameState), errors.Is(err, agent.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, loop.ErrNotRunning), errors.Is(err, loop.ErrCycleInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, loop.ErrModel):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
