package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emberforge/questpilot/pkg/types"
)

// Transport selects the connection mechanism for an MCP tool server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to one external MCP tool server.
// Game integrations can expose world-specific tools (pathfinding, lore
// lookup, map queries) this way without recompiling the runtime.
type ServerConfig struct {
	// Name uniquely identifies the server (used in logs and tool routing).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport Transport `yaml:"transport"`

	// Command is the executable (with arguments) launched when Transport is
	// "stdio". Ignored for streamable-http.
	Command string `yaml:"command"`

	// URL is the endpoint address when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds extra environment variables for stdio subprocesses.
	Env map[string]string `yaml:"env"`
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// mcpClient is shared across all server connections.
var mcpClient = mcpsdk.NewClient(
	&mcpsdk.Implementation{Name: "questpilot-toolhost", Version: "1.0.0"},
	nil,
)

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the invoker. A tool whose name collides with a builtin
// is skipped — the eight game actions always win.
//
// If a server with the same Name is already registered, the old connection
// is closed and its tools replaced.
func (inv *Invoker) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("toolhost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolhost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("toolhost: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("toolhost: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("toolhost: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if old, ok := inv.servers[cfg.Name]; ok {
		_ = old.session.Close()
		inv.removeServerToolsLocked(cfg.Name)
	}
	inv.servers[cfg.Name] = serverConn{session: session}

	for _, t := range discovered {
		if existing, ok := inv.tools[t.Name]; ok && existing.builtin != nil {
			continue
		}
		if _, ok := inv.tools[t.Name]; !ok {
			inv.order = append(inv.order, t.Name)
		}
		inv.tools[t.Name] = entry{
			def:    toolDefinitionFromMCP(t),
			server: cfg.Name,
		}
	}
	return nil
}

// removeServerToolsLocked drops every tool imported from server.
// Caller must hold inv.mu.
func (inv *Invoker) removeServerToolsLocked(server string) {
	for name, e := range inv.tools {
		if e.server == server {
			delete(inv.tools, name)
			for i, n := range inv.order {
				if n == name {
					inv.order = append(inv.order[:i], inv.order[i+1:]...)
					break
				}
			}
		}
	}
}

// executeMCP routes a call to the owning server session and concatenates the
// textual content of the result.
func (inv *Invoker) executeMCP(ctx context.Context, e entry, args string) (string, error) {
	inv.mu.RLock()
	conn, ok := inv.servers[e.server]
	inv.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("server %q not connected for tool %q", e.server, e.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("%w: %v", errBadArgs, err)
		}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      e.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("call tool %q: %w", e.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %q reported failure: %s", e.def.Name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down all MCP server connections. Builtin tools remain usable.
func (inv *Invoker) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var firstErr error
	for name, conn := range inv.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("toolhost: close server %q: %w", name, err)
		}
		delete(inv.servers, name)
		inv.removeServerToolsLocked(name)
	}
	return firstErr
}

// toolDefinitionFromMCP converts an SDK tool into a ToolDefinition.
func toolDefinitionFromMCP(t mcpsdk.Tool) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
