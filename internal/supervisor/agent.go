package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moxxy-run/moxxy/internal/brain"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/container"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/mcpclient"
	"github.com/moxxy-run/moxxy/internal/scheduler"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/vault"
)

// agentSubdirs are created under agents/<name>/ at first boot (spec §6
// "Persistent layout").
var agentSubdirs = []string{"skills", "workspace"}

// Agent bundles the handles one booted agent owns. It is the boot result
// handed back to the caller (httpapi/cmd); the canonical shared copies of
// each handle live in Registries, not here.
type Agent struct {
	Name string
	Dir  string

	Store     *store.Store
	Vault     *vault.Vault
	Catalog   *skills.Catalog
	Gateway   *llm.Gateway
	MCP       *mcpclient.Manager
	Scheduler *scheduler.Scheduler
	Heartbeat *scheduler.Heartbeat
	Container *container.AgentContainer
	Loop      *brain.Loop
}

// Boot runs the 10-step sequence in spec §4.8 for one agent and inserts its
// handles into regs. apiBase/internalToken are passed down to the native
// skill executor so skills can call back into the control plane.
func Boot(ctx context.Context, dataDir, name string, cfg *config.Config, swarm *store.SwarmStore, machineKey [32]byte, regs *Registries, apiBase, internalToken string) (*Agent, error) {
	agentDir := filepath.Join(dataDir, "agents", name)
	for _, sub := range agentSubdirs {
		if err := os.MkdirAll(filepath.Join(agentDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("supervisor: create %s: %w", sub, err)
		}
	}

	// Step 1: persistence + vault.
	st, err := store.Open(filepath.Join(agentDir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("supervisor: open store for %q: %w", name, err)
	}
	v := vault.New(st, machineKey)
	if err := v.Init(ctx); err != nil {
		return nil, fmt.Errorf("supervisor: init vault for %q: %w", name, err)
	}

	// Step 2: container config; if wasm, the bundled image just needs to
	// exist under <dataDir>/images - provisioning (copying the embedded
	// bundle there) is not part of boot.
	var agentContainer *container.AgentContainer
	containerCfg, hasContainer, err := container.LoadConfig(agentDir)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load container config for %q: %w", name, err)
	}
	if hasContainer && containerCfg.RuntimeSection.Type == container.RuntimeWASM {
		agentContainer = &container.AgentContainer{
			Config:    containerCfg,
			ImagesDir: filepath.Join(dataDir, "images"),
		}
	}

	// Step 3: skill catalog, native executor bound to this agent's vault +
	// workspace (agent root directory, per spec's persistent layout).
	native := skills.NewNativeExecutor(name, apiBase, internalToken, v)
	mcpMgr := mcpclient.NewManager()
	catalog := skills.NewCatalog(agentDir, native, mcpMgr)
	if err := catalog.LoadAll(); err != nil {
		return nil, fmt.Errorf("supervisor: load skill catalog for %q: %w", name, err)
	}

	// Step 4: LLM gateway; register one provider per config entry whose
	// vault key resolves, then fall back to AgentDefaults if nothing is
	// persisted as active yet.
	gw := llm.NewGateway(v)
	snapshot := cfg.Snapshot()
	for _, def := range snapshot.Providers {
		p, err := llm.FromDef(ctx, def, v)
		if err != nil {
			slog.Warn("supervisor.provider_skipped", "agent", name, "provider", def.ID, "error", err)
			continue
		}
		gw.Register(p)
	}
	if _, _, ok, err := gw.Active(ctx); err == nil && !ok && snapshot.AgentDefaults.Provider != "" {
		if err := gw.SetActive(ctx, snapshot.AgentDefaults.Provider, snapshot.AgentDefaults.Model); err != nil {
			slog.Warn("supervisor.set_active_provider_failed", "agent", name, "error", err)
		}
	}

	loop := &brain.Loop{
		AgentName: name,
		Workspace: agentDir,
		Store:     st,
		Swarm:     swarm,
		Gateway:   gw,
		Catalog:   catalog,
		Defaults:  snapshot.AgentDefaults,
	}

	// Step 5: start MCP subprocess clients recorded in persistence
	// asynchronously; as each comes up, register its tools as skills named
	// "<server>_<tool>".
	go startMCPServers(context.Background(), name, st, mcpMgr, catalog)

	// Step 6 + 7: scheduler, registries, re-register persisted jobs.
	sch := scheduler.New(name, st, makeReentry(loop))
	regs.Insert(name, st, catalog, gw, v, sch, agentContainer, mcpMgr)
	if err := sch.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("supervisor: load scheduled jobs for %q: %w", name, err)
	}
	sch.Start(context.Background())

	// Step 8: interface adapters (control-plane server, messaging channels,
	// desktop hotkey, mobile API) attach in internal/httpapi, which calls
	// Boot and then wires its own route handlers against the returned
	// *Agent - supervisor itself has no transport dependency.

	// Step 9: self-check heartbeat.
	hb := &scheduler.Heartbeat{
		AgentName: name,
		Workspace: agentDir,
		Store:     st,
		Gateway:   gw,
		Catalog:   catalog,
		Scheduler: sch,
	}
	hb.Start(context.Background())

	// Step 10 (run lifecycle start / drive one job headless) is the
	// caller's responsibility: supervisor only constructs and wires.

	return &Agent{
		Name:      name,
		Dir:       agentDir,
		Store:     st,
		Vault:     v,
		Catalog:   catalog,
		Gateway:   gw,
		MCP:       mcpMgr,
		Scheduler: sch,
		Heartbeat: hb,
		Container: agentContainer,
		Loop:      loop,
	}, nil
}

// makeReentry adapts a brain.Loop into a scheduler.ReentryFunc: each firing
// re-enters the reasoning loop with origin SYSTEM_CRON (spec §4.7), or with
// the job's recorded source as origin when it has one. brain.Loop gives every
// non-human origin a fresh session; a human origin runs in session "scheduled".
func makeReentry(loop *brain.Loop) scheduler.ReentryFunc {
	return func(ctx context.Context, prompt, source string) {
		origin := brain.OriginSystemCron
		if source != "" {
			origin = brain.Origin(source)
		}
		if _, err := loop.Run(ctx, brain.Request{
			TriggerText: prompt,
			Origin:      origin,
			SessionID:   "scheduled",
		}); err != nil {
			slog.Error("supervisor.scheduled_job_failed", "agent", loop.AgentName, "error", err)
		}
	}
}

// startMCPServers connects every persisted MCP server record and registers
// its tools into the catalog as they come up (spec §4.8 step 5).
func startMCPServers(ctx context.Context, agentName string, st *store.Store, mgr *mcpclient.Manager, catalog *skills.Catalog) {
	servers, err := st.ListMCPServers(ctx)
	if err != nil {
		slog.Error("supervisor.list_mcp_servers_failed", "agent", agentName, "error", err)
		return
	}
	for _, srv := range servers {
		tools, err := mgr.Connect(ctx, srv.Name, srv.Command, srv.Args, srv.Env)
		if err != nil {
			slog.Warn("supervisor.mcp_connect_failed", "agent", agentName, "server", srv.Name, "error", err)
			continue
		}
		for _, tool := range tools {
			catalog.RegisterMCPTool(srv.Name, tool)
		}
	}
}

// Shutdown reverses Boot with a short grace period: stop the scheduler and
// heartbeat loops, disconnect MCP subprocesses, close the store, and drop
// the agent from the registries.
func (a *Agent) Shutdown(regs *Registries) error {
	a.Scheduler.Stop()
	a.Heartbeat.Stop()
	a.MCP.Stop()
	regs.Remove(a.Name)
	return a.Store.Close()
}
