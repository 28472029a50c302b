package skills

import (
	"context"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// Execute resolves and runs a skill by name, dispatching on its executor
// type. Resolution does not hold the catalog lock across the run, so a
// long-running native skill cannot stall LoadAll/Install/Remove (spec §4.4
// "prepare()").
func (c *Catalog) Execute(ctx context.Context, name string, args []string) (string, error) {
	m, ok := c.Get(name)
	if !ok {
		return "", moxxyerr.NotFoundf("skills: unknown skill %q", name)
	}

	switch m.ExecutorType {
	case ExecutorNative:
		if c.native == nil {
			return "", moxxyerr.Dependencyf("skills: no native executor configured")
		}
		return c.native.Run(ctx, m, args)
	case ExecutorMCP:
		if c.mcp == nil {
			return "", moxxyerr.Dependencyf("skills: no MCP manager configured")
		}
		return c.runMCP(ctx, name, args)
	case ExecutorOpenclaw:
		return runOpenclaw(m, args)
	default:
		return "", moxxyerr.Invariantf("skills: %q has unknown executor type %q", name, m.ExecutorType)
	}
}
