// Package mock provides a test double for the toolhost.GameHost interface.
//
// Each method returns the configured result string and error, and records
// its invocation so tests can assert on side-effect counts and arguments.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/internal/toolhost"
)

// Call records one GameHost method invocation.
type Call struct {
	// Method is the GameHost method name (e.g., "attack").
	Method string
	// Args holds the stringified arguments in declaration order.
	Args []string
}

// GameHost is a mock implementation of toolhost.GameHost.
// Set Result/Err before use; set Delay to simulate a slow collaborator.
type GameHost struct {
	mu sync.Mutex

	// Result is returned by every method when Err is nil.
	Result string

	// Err, if non-nil, is returned by every method.
	Err error

	// Delay makes every method sleep before returning, honouring ctx
	// cancellation. Used to exercise invocation timeouts.
	Delay time.Duration

	// Calls records every invocation in order.
	Calls []Call
}

var _ toolhost.GameHost = (*GameHost)(nil)

func (h *GameHost) run(ctx context.Context, method string, args ...string) (string, error) {
	h.mu.Lock()
	h.Calls = append(h.Calls, Call{Method: method, Args: args})
	delay, result, err := h.Delay, h.Result, h.Err
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return result, err
}

// CallCount returns the number of recorded invocations.
func (h *GameHost) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Calls)
}

// Move implements toolhost.GameHost.
func (h *GameHost) Move(ctx context.Context, to game.Position) (string, error) {
	return h.run(ctx, "move")
}

// Interact implements toolhost.GameHost.
func (h *GameHost) Interact(ctx context.Context, entityID string) (string, error) {
	return h.run(ctx, "interact", entityID)
}

// Attack implements toolhost.GameHost.
func (h *GameHost) Attack(ctx context.Context, targetID string) (string, error) {
	return h.run(ctx, "attack", targetID)
}

// UseItem implements toolhost.GameHost.
func (h *GameHost) UseItem(ctx context.Context, itemID string) (string, error) {
	return h.run(ctx, "use_item", itemID)
}

// Speak implements toolhost.GameHost.
func (h *GameHost) Speak(ctx context.Context, npcID string, text string) (string, error) {
	return h.run(ctx, "speak", npcID, text)
}

// Inspect implements toolhost.GameHost.
func (h *GameHost) Inspect(ctx context.Context, entityID string) (string, error) {
	return h.run(ctx, "inspect", entityID)
}

// Craft implements toolhost.GameHost.
func (h *GameHost) Craft(ctx context.Context, recipe string) (string, error) {
	return h.run(ctx, "craft", recipe)
}

// Trade implements toolhost.GameHost.
func (h *GameHost) Trade(ctx context.Context, npcID string, offerItemID string, wantItemID string) (string, error) {
	return h.run(ctx, "trade", npcID, offerItemID, wantItemID)
}
