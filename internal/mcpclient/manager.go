// Package mcpclient manages stdio MCP server subprocesses and exposes their
// tools so internal/skills can register one skill per (server, tool) pair.
// Grounded on the teacher's internal/mcp/manager.go connection-manager shape,
// narrowed to the stdio-only transport spec §3's MCP server record names.
package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerStatus reports one server's connection health (spec §4.8 step 5:
// "as each comes up, enumerate its tools").
type ServerStatus struct {
	Name      string
	Connected bool
	ToolNames []string
	Error     string
}

type serverState struct {
	name      string
	client    *client.Client
	connected atomic.Bool
	toolNames []string
	lastErr   string
}

// Manager owns this agent's MCP subprocess connections (spec §3 MCP server
// record; §4.8 step 5).
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState
}

func NewManager() *Manager {
	return &Manager{servers: make(map[string]*serverState)}
}

// Connect starts command as a stdio MCP server and lists its tools.
// Failures are logged and returned; callers (supervisor boot) treat them as
// non-fatal — the agent starts without that server's tools.
func (m *Manager) Connect(ctx context.Context, name, command string, args []string, env map[string]string) ([]string, error) {
	envPairs := make([]string, 0, len(env))
	for k, v := range env {
		envPairs = append(envPairs, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(command, envPairs, args...)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: start %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "moxxy", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcpclient: initialize %s: %w", name, err)
	}

	toolsResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcpclient: list tools %s: %w", name, err)
	}

	names := make([]string, 0, len(toolsResp.Tools))
	for _, t := range toolsResp.Tools {
		names = append(names, t.Name)
	}

	st := &serverState{name: name, client: c, toolNames: names}
	st.connected.Store(true)

	m.mu.Lock()
	m.servers[name] = st
	m.mu.Unlock()

	slog.Info("mcp.server.connected", "server", name, "tools", len(names))
	return names, nil
}

// CallTool invokes one tool on a connected server (spec §4.4 MCP execution).
// args may be nil, in which case an empty object is sent.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	m.mu.RLock()
	st, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcpclient: unknown server %q", serverName)
	}
	if args == nil {
		args = map[string]any{}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := st.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcpclient: call %s/%s: %w", serverName, toolName, err)
	}

	// Reduce to concatenated text parts; fall back to a JSON dump if none
	// (spec §4.4: "reduced to concatenated text parts ... if none, pretty-
	// printed JSON of the full result").
	var text string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			text += tc.Text
		}
	}
	if text == "" {
		return prettyJSON(result), nil
	}
	return text, nil
}

// ServerNames lists currently connected server names, used by internal/skills
// to resolve a skill name's server prefix.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	return names
}

func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, st := range m.servers {
		out = append(out, ServerStatus{
			Name:      st.name,
			Connected: st.connected.Load(),
			ToolNames: st.toolNames,
			Error:     st.lastErr,
		})
	}
	return out
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.servers {
		_ = st.client.Close()
	}
	m.servers = make(map[string]*serverState)
}

// StopOne matches the "delete must remove from both" rollback semantics
// callers use when unregistering a single MCP server record.
func (m *Manager) StopOne(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.servers[name]; ok {
		_ = st.client.Close()
		delete(m.servers, name)
	}
}

// connectTimeout bounds the initialize+list-tools handshake so a hung server
// subprocess cannot block agent boot indefinitely.
const connectTimeout = 20 * time.Second
