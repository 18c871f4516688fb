package toolhost_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberforge/questpilot/internal/toolhost"
	"github.com/emberforge/questpilot/internal/toolhost/mock"
	"github.com/emberforge/questpilot/pkg/types"
)

func TestDefinitions_EightBuiltins(t *testing.T) {
	t.Parallel()

	inv := toolhost.New(&mock.GameHost{})
	defs := inv.Definitions()

	want := []string{"move", "interact", "attack", "use_item", "speak", "inspect", "craft", "trade"}
	if len(defs) != len(want) {
		t.Fatalf("len(defs) = %d, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, name)
		}
		if defs[i].Parameters == nil {
			t.Errorf("defs[%d].Parameters should not be nil", i)
		}
	}
}

func TestInvoke_Success(t *testing.T) {
	t.Parallel()

	host := &mock.GameHost{Result: "struck the skeleton for 12 damage"}
	inv := toolhost.New(host)

	res := inv.Invoke(context.Background(),
		types.ToolCall{ID: "c1", Name: "attack", Arguments: `{"entity_id":"mob-7"}`},
		time.Second)

	if !res.OK {
		t.Fatalf("Invoke failed: kind=%s content=%s", res.ErrorKind, res.Content)
	}
	if res.Content != "struck the skeleton for 12 damage" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.CallID != "c1" {
		t.Errorf("CallID = %q, want c1", res.CallID)
	}
	if host.CallCount() != 1 {
		t.Errorf("host calls = %d, want exactly 1", host.CallCount())
	}
	if host.Calls[0].Method != "attack" || host.Calls[0].Args[0] != "mob-7" {
		t.Errorf("unexpected call record: %+v", host.Calls[0])
	}
}

func TestInvoke_UnsupportedTool(t *testing.T) {
	t.Parallel()

	inv := toolhost.New(&mock.GameHost{})
	res := inv.Invoke(context.Background(),
		types.ToolCall{Name: "teleport"}, time.Second)

	if res.OK {
		t.Fatal("expected failure for unknown tool")
	}
	if res.ErrorKind != toolhost.ErrUnsupportedTool {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, toolhost.ErrUnsupportedTool)
	}
}

func TestInvoke_InvalidArgs(t *testing.T) {
	t.Parallel()

	host := &mock.GameHost{Result: "ok"}
	inv := toolhost.New(host)
	res := inv.Invoke(context.Background(),
		types.ToolCall{Name: "move", Arguments: `{"x": "not-a-number"}`},
		time.Second)

	if res.OK {
		t.Fatal("expected failure for malformed args")
	}
	if res.ErrorKind != toolhost.ErrInvalidArgs {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, toolhost.ErrInvalidArgs)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	t.Parallel()

	host := &mock.GameHost{Result: "done", Delay: 500 * time.Millisecond}
	inv := toolhost.New(host)

	start := time.Now()
	res := inv.Invoke(context.Background(),
		types.ToolCall{Name: "craft", Arguments: `{"recipe":"iron sword"}`},
		50*time.Millisecond)
	elapsed := time.Since(start)

	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if res.ErrorKind != toolhost.ErrTimeout {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, toolhost.ErrTimeout)
	}
	// Must come back promptly, never block for the full handler duration.
	if elapsed > 300*time.Millisecond {
		t.Errorf("Invoke blocked for %s, want well under handler delay", elapsed)
	}
}

func TestInvoke_ExecutionFailure(t *testing.T) {
	t.Parallel()

	host := &mock.GameHost{Err: errors.New("target out of range")}
	inv := toolhost.New(host)
	res := inv.Invoke(context.Background(),
		types.ToolCall{Name: "attack", Arguments: `{"entity_id":"mob-1"}`},
		time.Second)

	if res.OK {
		t.Fatal("expected execution failure")
	}
	if res.ErrorKind != toolhost.ErrExecution {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, toolhost.ErrExecution)
	}
}

func TestInvoke_TradeArgumentOrder(t *testing.T) {
	t.Parallel()

	host := &mock.GameHost{Result: "trade complete"}
	inv := toolhost.New(host)
	res := inv.Invoke(context.Background(), types.ToolCall{
		Name:      "trade",
		Arguments: `{"npc_id":"npc-3","offer_item_id":"ore","want_item_id":"sword"}`,
	}, time.Second)

	if !res.OK {
		t.Fatalf("Invoke failed: %s", res.Content)
	}
	call := host.Calls[0]
	if call.Args[0] != "npc-3" || call.Args[1] != "ore" || call.Args[2] != "sword" {
		t.Errorf("trade args = %v", call.Args)
	}
}
