package toolhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberforge/questpilot/pkg/types"
)

// entry is one registered tool: either a builtin handler bound to the game
// host, or an imported MCP tool routed to its server session.
type entry struct {
	def     types.ToolDefinition
	builtin builtinHandler
	server  string // non-empty for MCP-imported tools
}

// Invoker executes tools requested by the model.
//
// The zero value is not usable; create instances with [New]. All methods are
// safe for concurrent use.
type Invoker struct {
	mu      sync.RWMutex
	tools   map[string]entry
	order   []string // registration order, builtins first
	host    GameHost
	servers map[string]serverConn
}

// New creates an Invoker with the eight builtin game tools registered
// against host.
func New(host GameHost) *Invoker {
	inv := &Invoker{
		tools:   make(map[string]entry),
		servers: make(map[string]serverConn),
		host:    host,
	}
	for _, b := range builtins() {
		inv.tools[b.def.Name] = entry{def: b.def, builtin: b.handler}
		inv.order = append(inv.order, b.def.Name)
	}
	return inv
}

// Definitions returns the definitions of every registered tool in
// registration order, for offering to the model.
func (inv *Invoker) Definitions() []types.ToolDefinition {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(inv.order))
	for _, name := range inv.order {
		defs = append(defs, inv.tools[name].def)
	}
	return defs
}

// Invoke executes the named tool with JSON-encoded args, bounded by timeout.
//
// Invoke never returns a Go error for tool-level failures: unknown names,
// bad arguments, overruns, and execution failures all come back as a failed
// [Result] so the model can consume the outcome in its next reasoning step.
// The side effect of a successful call happens exactly once; a timed-out
// call is not retried.
func (inv *Invoker) Invoke(ctx context.Context, call types.ToolCall, timeout time.Duration) Result {
	start := time.Now()

	inv.mu.RLock()
	e, ok := inv.tools[call.Name]
	inv.mu.RUnlock()

	if !ok {
		return Result{
			Tool:      call.Name,
			CallID:    call.ID,
			Content:   fmt.Sprintf("tool %q is not available", call.Name),
			ErrorKind: ErrUnsupportedTool,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		var (
			content string
			err     error
		)
		if e.builtin != nil {
			content, err = e.builtin(execCtx, inv.host, call.Arguments)
		} else {
			content, err = inv.executeMCP(execCtx, e, call.Arguments)
		}
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		res := Result{
			Tool:     call.Name,
			CallID:   call.ID,
			Duration: time.Since(start),
		}
		switch {
		case out.err == nil:
			res.OK = true
			res.Content = out.content
		case execCtx.Err() == context.DeadlineExceeded:
			res.Content = fmt.Sprintf("tool %q timed out after %s", call.Name, timeout)
			res.ErrorKind = ErrTimeout
		case isDecodeError(out.err):
			res.Content = out.err.Error()
			res.ErrorKind = ErrInvalidArgs
		default:
			res.Content = out.err.Error()
			res.ErrorKind = ErrExecution
		}
		return res

	case <-execCtx.Done():
		// The handler is still running; it holds execCtx and will unwind on
		// its own, but the decision cycle moves on now.
		res := Result{
			Tool:     call.Name,
			CallID:   call.ID,
			Duration: time.Since(start),
		}
		if execCtx.Err() == context.DeadlineExceeded {
			slog.Warn("tool invocation timed out", "tool", call.Name, "timeout", timeout)
			res.Content = fmt.Sprintf("tool %q timed out after %s", call.Name, timeout)
			res.ErrorKind = ErrTimeout
		} else {
			res.Content = fmt.Sprintf("tool %q cancelled: %v", call.Name, execCtx.Err())
			res.ErrorKind = ErrExecution
		}
		return res
	}
}

// isDecodeError reports whether err came from argument decoding.
func isDecodeError(err error) bool {
	return errors.Is(err, errBadArgs)
}
