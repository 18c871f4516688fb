package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/emberforge/questpilot/internal/loop"
)

// streamMsg is the wire form of one [loop.Chunk] on the websocket stream.
type streamMsg struct {
	Kind       string          `json:"kind"`
	Step       int             `json:"step"`
	Text       string          `json:"text,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	ToolCall   *streamToolCall `json:"tool_call,omitempty"`
	ToolResult *toolResultView `json:"tool_result,omitempty"`
	Decision   *decisionView   `json:"decision,omitempty"`
	Error      string          `json:"error,omitempty"`

	// Session counters, set on the final session_update message.
	Status      string  `json:"status,omitempty"`
	ActionCount int     `json:"action_count,omitempty"`
	TotalReward float64 `json:"total_reward,omitempty"`
}

// streamToolCall is the wire form of a model tool call.
type streamToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func viewChunk(c loop.Chunk) streamMsg {
	msg := streamMsg{
		Kind:        string(c.Kind),
		Step:        c.Step,
		Text:        c.Text,
		Provider:    c.Provider,
		Status:      string(c.Status),
		ActionCount: c.ActionCount,
		TotalReward: c.TotalReward,
	}
	if c.ToolCall != nil {
		msg.ToolCall = &streamToolCall{
			ID:        c.ToolCall.ID,
			Name:      c.ToolCall.Name,
			Arguments: c.ToolCall.Arguments,
		}
	}
	if c.ToolResult != nil {
		v := viewToolResult(*c.ToolResult)
		msg.ToolResult = &v
	}
	if c.Decision != nil {
		v := viewDecision(*c.Decision)
		msg.Decision = &v
	}
	if c.Err != nil {
		msg.Error = c.Err.Error()
	}
	return msg
}

// writeTimeout bounds each websocket send so one stalled client cannot pin
// the autonomous run forever.
const writeTimeout = 10 * time.Second

// handleStream handles GET /v1/sessions/{id}/stream: it upgrades to a
// websocket and relays the autonomous run's chunk stream as JSON messages.
// Query parameter max_steps caps the run; the agent config cap still applies.
//
// Closing the websocket cancels the run at the next chunk boundary.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	maxSteps := 0
	if raw := r.URL.Query().Get("max_steps"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "max_steps must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxSteps = n
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "session_id", sess.ID, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Info("autonomous stream started", "session_id", sess.ID, "max_steps", maxSteps)

	// After a failed write the client is gone: cancel the run and keep
	// draining so the loop can release the session's cycle slot.
	clientGone := false
	for chunk := range s.loop.RunAutonomous(ctx, sess, maxSteps) {
		if clientGone {
			continue
		}

		data, err := json.Marshal(viewChunk(chunk))
		if err != nil {
			s.logger.Error("chunk marshal failed", "session_id", sess.ID, "err", err)
			continue
		}

		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(wctx, websocket.MessageText, data)
		wcancel()
		if err != nil {
			s.logger.Info("stream client disconnected", "session_id", sess.ID, "err", err)
			clientGone = true
			cancel()
		}
	}

	if !clientGone {
		conn.Close(websocket.StatusNormalClosure, "run complete")
	}
}
