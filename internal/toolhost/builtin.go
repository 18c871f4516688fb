package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberforge/questpilot/internal/game"
	"github.com/emberforge/questpilot/pkg/types"
)

// errBadArgs marks argument decode failures so the invoker can classify them
// as [ErrInvalidArgs] rather than execution failures.
var errBadArgs = errors.New("invalid tool arguments")

// builtinHandler executes one builtin tool with JSON-encoded args.
type builtinHandler func(ctx context.Context, host GameHost, args string) (string, error)

// builtin pairs a tool definition with its handler.
type builtin struct {
	def     types.ToolDefinition
	handler builtinHandler
}

// moveArgs are the decoded arguments for the move tool.
type moveArgs struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// entityArgs are shared by interact, attack, and inspect.
type entityArgs struct {
	EntityID string `json:"entity_id"`
}

type useItemArgs struct {
	ItemID string `json:"item_id"`
}

type speakArgs struct {
	NPCID string `json:"npc_id"`
	Text  string `json:"text"`
}

type craftArgs struct {
	Recipe string `json:"recipe"`
}

type tradeArgs struct {
	NPCID     string `json:"npc_id"`
	OfferItem string `json:"offer_item_id"`
	WantItem  string `json:"want_item_id"`
}

// decode unmarshals args strictly into v.
func decode[T any](args string) (T, error) {
	var v T
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return v, fmt.Errorf("%w: %v", errBadArgs, err)
	}
	return v, nil
}

// objectSchema builds a JSON Schema for an object with the given required
// string of property name → schema pairs.
func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// builtins returns the eight game-action tools in their canonical order.
func builtins() []builtin {
	return []builtin{
		{
			def: types.ToolDefinition{
				Name:        "move",
				Description: "Walk toward a position in the world. Provide target coordinates.",
				Parameters: objectSchema(map[string]any{
					"x": map[string]any{"type": "number"},
					"y": map[string]any{"type": "number"},
					"z": map[string]any{"type": "number"},
				}, "x", "y"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[moveArgs](args)
				if err != nil {
					return "", err
				}
				return host.Move(ctx, game.Position{X: a.X, Y: a.Y, Z: a.Z})
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "interact",
				Description: "Interact with a visible entity: open, pick up, activate.",
				Parameters: objectSchema(map[string]any{
					"entity_id": map[string]any{"type": "string"},
				}, "entity_id"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[entityArgs](args)
				if err != nil {
					return "", err
				}
				return host.Interact(ctx, a.EntityID)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "attack",
				Description: "Attack a hostile entity by ID.",
				Parameters: objectSchema(map[string]any{
					"entity_id": map[string]any{"type": "string"},
				}, "entity_id"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[entityArgs](args)
				if err != nil {
					return "", err
				}
				return host.Attack(ctx, a.EntityID)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "use_item",
				Description: "Use or consume an inventory item by ID.",
				Parameters: objectSchema(map[string]any{
					"item_id": map[string]any{"type": "string"},
				}, "item_id"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[useItemArgs](args)
				if err != nil {
					return "", err
				}
				return host.UseItem(ctx, a.ItemID)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "speak",
				Description: "Say something to a nearby NPC and receive their reply.",
				Parameters: objectSchema(map[string]any{
					"npc_id": map[string]any{"type": "string"},
					"text":   map[string]any{"type": "string"},
				}, "npc_id", "text"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[speakArgs](args)
				if err != nil {
					return "", err
				}
				return host.Speak(ctx, a.NPCID, a.Text)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "inspect",
				Description: "Examine a visible entity for detail before acting on it.",
				Parameters: objectSchema(map[string]any{
					"entity_id": map[string]any{"type": "string"},
				}, "entity_id"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[entityArgs](args)
				if err != nil {
					return "", err
				}
				return host.Inspect(ctx, a.EntityID)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "craft",
				Description: "Craft an item from inventory materials using a named recipe.",
				Parameters: objectSchema(map[string]any{
					"recipe": map[string]any{"type": "string"},
				}, "recipe"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[craftArgs](args)
				if err != nil {
					return "", err
				}
				return host.Craft(ctx, a.Recipe)
			},
		},
		{
			def: types.ToolDefinition{
				Name:        "trade",
				Description: "Trade an inventory item for one offered by an NPC.",
				Parameters: objectSchema(map[string]any{
					"npc_id":        map[string]any{"type": "string"},
					"offer_item_id": map[string]any{"type": "string"},
					"want_item_id":  map[string]any{"type": "string"},
				}, "npc_id", "offer_item_id", "want_item_id"),
			},
			handler: func(ctx context.Context, host GameHost, args string) (string, error) {
				a, err := decode[tradeArgs](args)
				if err != nil {
					return "", err
				}
				return host.Trade(ctx, a.NPCID, a.OfferItem, a.WantItem)
			},
		},
	}
}
