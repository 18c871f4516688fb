// Package loop runs decision cycles: it assembles context, renders the
// situation prompt, queries the model, executes the requested tools, and
// hands the outcome to the evaluators.
//
// One cycle produces one [runtime.Decision]. [Loop.Decide] runs a single
// cycle; [Loop.RunAutonomous] chains cycles until a step budget, a pause, or
// the session's end stops it. Progress streams out as [Chunk] values so
// callers can watch the agent think in real time.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emberforge/questpilot/internal/eval"
	"github.com/emberforge/questpilot/internal/eventlog"
	"github.com/emberforge/questpilot/internal/observe"
	"github.com/emberforge/questpilot/internal/prompt"
	"github.com/emberforge/questpilot/internal/promptctx"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/internal/toolhost"
	"github.com/emberforge/questpilot/pkg/provider/llm"
	"github.com/emberforge/questpilot/pkg/types"
)

// ErrNotRunning is returned when a cycle is requested on a session that is
// not in [runtime.StatusRunning].
var ErrNotRunning = errors.New("session is not running")

// ErrCycleInFlight is returned when a cycle is requested while another cycle
// holds the session's decision slot.
var ErrCycleInFlight = errors.New("decision cycle already in flight")

// ErrModel wraps model failures so callers can distinguish them from tool or
// pipeline errors.
var ErrModel = errors.New("model request failed")

// historyWindow is how many past decisions feed the evaluators each cycle.
const historyWindow = 5

// ChunkKind discriminates the variants of a streamed [Chunk].
type ChunkKind string

const (
	// ChunkProviderContext carries one context provider's contribution to the
	// cycle's prompt, emitted as the context is collected.
	ChunkProviderContext ChunkKind = "provider_context"

	// ChunkThought carries a fragment of the model's streamed reasoning.
	ChunkThought ChunkKind = "thought"

	// ChunkToolCall announces a tool invocation the model requested.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkToolResult carries the outcome of a tool invocation.
	ChunkToolResult ChunkKind = "tool_result"

	// ChunkDecision carries the completed decision for the cycle.
	ChunkDecision ChunkKind = "decision"

	// ChunkError reports a failed cycle. The autonomous run continues with
	// the next cycle.
	ChunkError ChunkKind = "error"

	// ChunkSessionUpdate is the final chunk of an autonomous run. It reports
	// the session's status, action count, and cumulative reward; Text explains
	// why the run stopped.
	ChunkSessionUpdate ChunkKind = "session_update"
)

// Chunk is one streamed progress fragment. Exactly the fields implied by
// Kind are set.
type Chunk struct {
	Kind ChunkKind

	// Step is the 1-based cycle number within an autonomous run, 0 for
	// single Decide calls.
	Step int

	// Text holds thought fragments, context fragments, and stop reasons.
	Text string

	// Provider names the context provider for ChunkProviderContext.
	Provider string

	// ToolCall is set for ChunkToolCall.
	ToolCall *types.ToolCall

	// ToolResult is set for ChunkToolResult.
	ToolResult *toolhost.Result

	// Decision is set for ChunkDecision.
	Decision *runtime.Decision

	// Err is set for ChunkError.
	Err error

	// Status, ActionCount, and TotalReward report the session's state for
	// ChunkSessionUpdate.
	Status      runtime.Status
	ActionCount int
	TotalReward float64
}

// Config configures a Loop. Provider and Tools are required; the pipelines
// default to their standard configurations.
type Config struct {
	// Logger receives cycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Provider is the LLM backend. Required.
	Provider llm.Provider

	// Tools executes the model's tool calls. Required.
	Tools *toolhost.Invoker

	// Context assembles the prompt context. Defaults to the standard
	// five-provider pipeline.
	Context *promptctx.Pipeline

	// Prompts renders situation templates. Defaults to prompt.NewEngine().
	Prompts *prompt.Engine

	// Evaluators scores completed cycles. Defaults to the standard
	// five-evaluator pipeline.
	Evaluators *eval.Pipeline

	// Metrics records cycle telemetry. Defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Loop drives decision cycles for sessions.
type Loop struct {
	logger     *slog.Logger
	provider   llm.Provider
	tools      *toolhost.Invoker
	contextp   *promptctx.Pipeline
	prompts    *prompt.Engine
	evaluators *eval.Pipeline
	metrics    *observe.Metrics
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, errors.New("loop: Provider is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("loop: Tools is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = promptctx.NewPipeline(promptctx.PipelineConfig{Logger: cfg.Logger})
	}
	if cfg.Prompts == nil {
		engine, err := prompt.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("loop: %w", err)
		}
		cfg.Prompts = engine
	}
	if cfg.Evaluators == nil {
		cfg.Evaluators = eval.NewPipeline(eval.PipelineConfig{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Loop{
		logger:     cfg.Logger,
		provider:   cfg.Provider,
		tools:      cfg.Tools,
		contextp:   cfg.Context,
		prompts:    cfg.Prompts,
		evaluators: cfg.Evaluators,
		metrics:    cfg.Metrics,
	}, nil
}

// Decide runs exactly one decision cycle and returns the resulting decision.
// The session must be running and must not have another cycle in flight.
func (l *Loop) Decide(ctx context.Context, s *runtime.Session) (runtime.Decision, error) {
	if s.Status() != runtime.StatusRunning {
		return runtime.Decision{}, fmt.Errorf("%w: session %s is %s", ErrNotRunning, s.ID, s.Status())
	}
	if !s.BeginCycle() {
		return runtime.Decision{}, fmt.Errorf("%w: session %s", ErrCycleInFlight, s.ID)
	}
	defer s.EndCycle()

	return l.cycle(ctx, s, 0, func(Chunk) {})
}

// RunAutonomous chains decision cycles and streams progress chunks. The run
// stops after min(maxSteps, config MaxAutonomousActions) cycles, or earlier
// when the session leaves the running state or ctx is cancelled. maxSteps <= 0
// means no caller-side limit; the config cap always applies.
//
// The returned channel is closed after a final [ChunkSessionUpdate]. The caller must
// drain it.
func (l *Loop) RunAutonomous(ctx context.Context, s *runtime.Session, maxSteps int) <-chan Chunk {
	out := make(chan Chunk, 16)

	steps := s.Config.MaxAutonomousActions
	if maxSteps > 0 && maxSteps < steps {
		steps = maxSteps
	}

	go func() {
		defer close(out)

		emit := func(c Chunk) {
			s.Touch()
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		// The run always closes with a session_update chunk carrying the
		// session's final counters, mirrored into the event log.
		finish := func(reason string) {
			s.Events.Append("loop", eventlog.SessionUpdatePayload{
				Status:      string(s.Status()),
				ActionCount: s.ActionCount(),
				TotalReward: s.TotalReward(),
				Note:        reason,
			})
			emit(Chunk{
				Kind:        ChunkSessionUpdate,
				Text:        reason,
				Status:      s.Status(),
				ActionCount: s.ActionCount(),
				TotalReward: s.TotalReward(),
			})
		}

		if !s.BeginCycle() {
			finish("another cycle is in flight")
			return
		}
		defer s.EndCycle()

		reason := "step budget exhausted"
		for step := 1; step <= steps; step++ {
			if err := ctx.Err(); err != nil {
				reason = "context cancelled"
				break
			}
			// Pause and end are honoured at cycle boundaries, never
			// mid-cycle.
			if st := s.Status(); st != runtime.StatusRunning {
				reason = "session " + string(st)
				break
			}

			d, err := l.cycle(ctx, s, step, emit)
			if err != nil {
				emit(Chunk{Kind: ChunkError, Step: step, Err: err})
				continue
			}
			emit(Chunk{Kind: ChunkDecision, Step: step, Decision: &d})
		}
		finish(reason)
	}()
	return out
}

// cycle runs one decision cycle: context, prompt, model, tools, evaluation.
// It records the decision on the session and reports progress through emit.
func (l *Loop) cycle(ctx context.Context, s *runtime.Session, step int, emit func(Chunk)) (runtime.Decision, error) {
	started := time.Now()
	before := s.GameState()

	ctxStart := time.Now()
	fragments := l.contextp.CollectFragments(ctx, s)
	l.metrics.ContextDuration.Record(ctx, time.Since(ctxStart).Seconds())

	parts := make([]string, len(fragments))
	for i, f := range fragments {
		emit(Chunk{Kind: ChunkProviderContext, Step: step, Provider: f.Provider, Text: f.Text})
		parts[i] = f.Text
	}
	contextBlock := strings.Join(parts, "\n\n")

	systemPrompt, situation, err := l.prompts.Build(s.Config, before, contextBlock)
	if err != nil {
		s.Events.Append("loop", eventlog.ErrorPayload{Component: "loop", Message: err.Error()})
		return runtime.Decision{}, err
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: "Decide and take your next action now."},
		},
		Tools:       l.tools.Definitions(),
		Temperature: s.Config.Temperature,
		MaxTokens:   s.Config.MaxTokens,
	}

	rationale, toolCalls, err := l.complete(ctx, s, step, req, emit)
	if err != nil {
		l.metrics.RecordProviderError(ctx, "llm", s.Config.Model)
		s.Events.Append("loop", eventlog.ErrorPayload{Component: "loop", Message: err.Error()})
		l.logger.Warn("model request failed", "session_id", s.ID, "error", err)
		return runtime.Decision{}, fmt.Errorf("%w: %v", ErrModel, err)
	}
	if rationale != "" {
		s.Events.Append("loop", eventlog.ThoughtPayload{Text: rationale})
	}

	results := make([]toolhost.Result, 0, len(toolCalls))
	for _, call := range toolCalls {
		s.Events.Append("loop", eventlog.ToolCallPayload{
			CallID:    call.ID,
			Tool:      call.Name,
			Arguments: call.Arguments,
		})
		emit(Chunk{Kind: ChunkToolCall, Step: step, ToolCall: &call})

		res := l.tools.Invoke(ctx, call, s.Config.ToolTimeout)
		results = append(results, res)

		status := "ok"
		if !res.OK {
			status = string(res.ErrorKind)
		}
		l.metrics.RecordToolCall(ctx, call.Name, status)
		l.metrics.ToolExecutionDuration.Record(ctx, res.Duration.Seconds())

		s.Events.Append("loop", eventlog.ToolResultPayload{
			CallID:    res.CallID,
			Tool:      res.Tool,
			Content:   res.Content,
			ErrorKind: string(res.ErrorKind),
		})
		emit(Chunk{Kind: ChunkToolResult, Step: step, ToolResult: &res})
	}

	action := "observe"
	if len(toolCalls) > 0 {
		action = toolCalls[0].Name
	}

	after := s.GameState()
	evalStart := time.Now()
	rewardDelta := l.evaluators.Run(ctx, s, eval.Outcome{
		Before:      before,
		After:       after,
		Action:      action,
		Rationale:   rationale,
		ToolResults: results,
		Recent:      s.History(historyWindow),
		Remembered:  s.Memory.All(),
	})
	l.metrics.EvaluationDuration.Record(ctx, time.Since(evalStart).Seconds())

	d := runtime.Decision{
		Action:      action,
		Rationale:   rationale,
		ToolResults: results,
		RewardDelta: rewardDelta,
		Timestamp:   time.Now().UTC(),
	}
	s.AppendDecision(d)

	l.metrics.RecordDecision(ctx, string(situation), "ok", time.Since(started).Seconds(), rewardDelta)
	l.logger.Info("decision completed",
		"session_id", s.ID,
		"situation", situation,
		"action", action,
		"tools", len(results),
		"reward_delta", rewardDelta,
		"duration", time.Since(started))
	return d, nil
}

// complete queries the model, streaming when the session and model both
// support it. It returns the assistant's reasoning text and requested tool
// calls.
func (l *Loop) complete(ctx context.Context, s *runtime.Session, step int, req llm.CompletionRequest, emit func(Chunk)) (string, []types.ToolCall, error) {
	llmStart := time.Now()
	defer func() {
		l.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}()

	if !s.Config.Streaming || !l.provider.Capabilities().SupportsStreaming {
		resp, err := l.provider.Complete(ctx, req)
		if err != nil {
			return "", nil, err
		}
		l.metrics.RecordProviderRequest(ctx, "llm", s.Config.Model, "ok")
		if resp.Content != "" {
			emit(Chunk{Kind: ChunkThought, Step: step, Text: resp.Content})
		}
		return resp.Content, resp.ToolCalls, nil
	}

	stream, err := l.provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var toolCalls []types.ToolCall
	for chunk := range stream {
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			emit(Chunk{Kind: ChunkThought, Step: step, Text: chunk.Text})
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason == "error" {
			return "", nil, fmt.Errorf("stream finished with error after %q", sb.String())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	l.metrics.RecordProviderRequest(ctx, "llm", s.Config.Model, "ok")
	return sb.String(), toolCalls, nil
}
