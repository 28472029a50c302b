package skills

import (
	"context"
	"encoding/json"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// runMCP delegates a skill invocation to its backing MCP server/tool,
// resolved by longest-prefix match against known server names (spec §4.4
// "prepare()"). args[0] is expected to be a JSON object; anything else is
// sent as {"input": args[0]}.
func (c *Catalog) runMCP(ctx context.Context, name string, args []string) (string, error) {
	knownServers := c.mcp.ServerNames()
	server, tool, ok := c.mcpServerForSkill(name, knownServers)
	if !ok {
		return "", moxxyerr.NotFoundf("skills: no MCP server matches skill %q", name)
	}

	var toolArgs map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal([]byte(args[0]), &toolArgs); err != nil {
			toolArgs = map[string]any{"input": args[0]}
		}
	}
	return c.mcp.CallTool(ctx, server, tool, toolArgs)
}
