// Package toolhost executes the game-action tools the model may request
// during a decision cycle.
//
// The host carries a fixed set of eight builtin game actions executed
// against the [GameHost] collaborator, and can optionally import additional
// tools from external MCP servers. Every invocation is bounded by a caller
// supplied timeout: a tool that overruns yields a Timeout result rather than
// blocking the decision cycle.
package toolhost

import (
	"context"
	"time"

	"github.com/emberforge/questpilot/internal/game"
)

// ErrorKind classifies a failed tool invocation.
type ErrorKind string

const (
	// ErrUnsupportedTool means the requested tool name is not registered.
	ErrUnsupportedTool ErrorKind = "unsupported_tool"

	// ErrInvalidArgs means the arguments JSON could not be decoded or failed
	// validation.
	ErrInvalidArgs ErrorKind = "invalid_args"

	// ErrTimeout means the tool did not complete within the invocation timeout.
	ErrTimeout ErrorKind = "timeout"

	// ErrExecution means the tool ran but the game collaborator reported a
	// failure.
	ErrExecution ErrorKind = "execution_failed"
)

// Result is the outcome of one tool invocation.
// OK results carry Content; failed results carry ErrorKind and a message in
// Content. A timed-out invocation is never retried by the host — retrying is
// the caller's decision at the next cycle.
type Result struct {
	// Tool is the invoked tool name.
	Tool string

	// CallID echoes the model-assigned tool call ID, when present.
	CallID string

	// OK reports whether the invocation succeeded.
	OK bool

	// Content is the tool output on success, or a failure message.
	Content string

	// ErrorKind is set when OK is false.
	ErrorKind ErrorKind

	// Duration is how long the invocation took.
	Duration time.Duration
}

// GameHost is the external game collaborator that tools act against. Each
// method applies exactly one side effect and returns a human-readable outcome
// description for the model's next reasoning step.
//
// Implementations must respect ctx cancellation; the host additionally
// enforces a hard timeout around every call.
type GameHost interface {
	// Move walks the agent toward the given position.
	Move(ctx context.Context, to game.Position) (string, error)

	// Interact activates an entity (open a door, pick up an item, pull a lever).
	Interact(ctx context.Context, entityID string) (string, error)

	// Attack strikes a hostile entity.
	Attack(ctx context.Context, targetID string) (string, error)

	// UseItem consumes or applies an inventory item.
	UseItem(ctx context.Context, itemID string) (string, error)

	// Speak says text to a nearby NPC and returns the NPC's reply.
	Speak(ctx context.Context, npcID string, text string) (string, error)

	// Inspect examines an entity and returns detail about it.
	Inspect(ctx context.Context, entityID string) (string, error)

	// Craft combines materials according to a named recipe.
	Craft(ctx context.Context, recipe string) (string, error)

	// Trade exchanges an offered item for a wanted item with an NPC.
	Trade(ctx context.Context, npcID string, offerItemID string, wantItemID string) (string, error)
}
