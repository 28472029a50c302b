package orchestrator

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/moxxy-run/moxxy/internal/brain"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/mcpclient"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/vault"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// runWorker dispatches one worker run (spec §4.9 "Worker kinds") and records
// it as a store.WorkerRun plus worker_started/worker_completed events,
// regardless of which kind actually executed it.
func (o *Orchestrator) runWorker(ctx context.Context, jobID string, a WorkerAssignment, idHint, prompt string) (store.TaskStatus, string, error) {
	run := store.WorkerRun{
		WorkerRunID: idHint + "-" + uuid.NewString(),
		JobID:       jobID,
		WorkerAgent: a.WorkerAgent,
		WorkerMode:  a.WorkerMode,
		TaskPrompt:  prompt,
		Status:      store.TaskInProgress,
		Attempt:     1,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.Store.InsertWorkerRun(ctx, run); err != nil {
		return store.TaskFailed, "", err
	}
	_ = o.appendEvent(ctx, jobID, protocol.OrchEventWorkerStarted, map[string]any{"role": a.Role, "worker_agent": a.WorkerAgent, "worker_mode": a.WorkerMode})

	var output string
	var err error
	switch a.WorkerMode {
	case store.WorkerModeNative:
		output, err = o.runNativeWorker(ctx, a, prompt)
	default:
		output, err = o.runEphemeralWorker(ctx, jobID, a, prompt)
	}

	status := store.TaskSucceeded
	errMsg := ""
	if err != nil {
		status = store.TaskFailed
		errMsg = err.Error()
	}
	if ferr := o.Store.FinishWorkerRun(ctx, run.WorkerRunID, status, output, errMsg); ferr != nil {
		return status, output, ferr
	}
	_ = o.appendEvent(ctx, jobID, protocol.OrchEventWorkerCompleted, map[string]any{"role": a.Role, "worker_agent": a.WorkerAgent, "status": status})
	return status, output, err
}

// runNativeWorker delegates to an existing agent's own shared handles (spec
// §4.9 "Native ... preserving that agent's memory/skills/LLM/container" —
// the shared *store.Store/*skills.Catalog/*llm.Gateway pointers themselves
// are reused, not clones, so the delegated run is visible in that agent's
// own memory).
func (o *Orchestrator) runNativeWorker(ctx context.Context, a WorkerAssignment, prompt string) (string, error) {
	if o.Regs == nil {
		return "", fmt.Errorf("orchestrator: no registries available for native worker %q", a.WorkerAgent)
	}
	st, ok := o.Regs.Store(a.WorkerAgent)
	if !ok {
		return "", fmt.Errorf("orchestrator: agent %q is not booted", a.WorkerAgent)
	}
	catalog, _ := o.Regs.Catalog(a.WorkerAgent)
	gw, _ := o.Regs.Gateway(a.WorkerAgent)

	loop := &brain.Loop{
		AgentName: a.WorkerAgent,
		Workspace: filepath.Join(o.DataDir, "agents", a.WorkerAgent),
		Store:     st,
		Swarm:     o.Swarm,
		Gateway:   gw,
		Catalog:   catalog,
		Defaults:  o.agentDefaults(),
	}
	result, err := loop.Run(ctx, brain.Request{
		TriggerText: prompt,
		Origin:      brain.OriginAssistant,
		SessionID:   "orchestrator-" + a.Role,
	})
	if err != nil {
		return "", err
	}
	return result.FinalText, nil
}

func (o *Orchestrator) agentDefaults() config.AgentDefaults {
	if o.Config == nil {
		return config.AgentDefaults{}
	}
	return o.Config.Snapshot().AgentDefaults
}

// runEphemeralWorker creates a task-scoped workspace, wires a transient
// memory/vault/skills/LLM stack for it, runs the worker, and always deletes
// the workspace afterward regardless of outcome (spec §9 "Ephemeral worker
// cleanup is unconditional").
func (o *Orchestrator) runEphemeralWorker(ctx context.Context, jobID string, a WorkerAssignment, prompt string) (string, error) {
	workDir := filepath.Join(o.DataDir, "agents", o.AgentName, "ephemeral", jobID, a.WorkerAgent)
	defer os.RemoveAll(workDir)

	for _, sub := range []string{"skills", "workspace"} {
		if err := os.MkdirAll(filepath.Join(workDir, sub), 0o755); err != nil {
			return "", fmt.Errorf("orchestrator: create ephemeral workspace: %w", err)
		}
	}

	st, err := store.Open(filepath.Join(workDir, "memory.db"))
	if err != nil {
		return "", fmt.Errorf("orchestrator: open ephemeral store: %w", err)
	}
	defer st.Close()

	v := vault.New(st, o.MachineKey)
	if err := v.Init(ctx); err != nil {
		return "", fmt.Errorf("orchestrator: init ephemeral vault: %w", err)
	}

	snap := config.Config{}
	if o.Config != nil {
		snap = o.Config.Snapshot()
	}
	providerID := providerOr(a.Profile.Provider, snap.AgentDefaults.Provider)
	if o.Vault != nil && providerID != "" {
		if def, ok := findProviderDef(snap.Providers, providerID); ok && def.Auth.VaultKey != "" {
			if val, found, err := o.Vault.Get(ctx, def.Auth.VaultKey); err != nil {
				return "", fmt.Errorf("orchestrator: read parent vault key %q: %w", def.Auth.VaultKey, err)
			} else if found {
				if err := v.Set(ctx, def.Auth.VaultKey, val); err != nil {
					return "", fmt.Errorf("orchestrator: copy vault key %q to ephemeral worker: %w", def.Auth.VaultKey, err)
				}
			}
		}
	}

	if err := copySkillManifests(filepath.Join(o.DataDir, "agents", o.AgentName, "skills"), filepath.Join(workDir, "skills")); err != nil {
		return "", fmt.Errorf("orchestrator: copy skill manifests: %w", err)
	}

	native := skills.NewNativeExecutor(a.WorkerAgent, "", "", v)
	mcpMgr := mcpclient.NewManager()
	catalog := skills.NewCatalog(workDir, native, mcpMgr)
	if err := catalog.LoadAll(); err != nil {
		return "", fmt.Errorf("orchestrator: load ephemeral skill catalog: %w", err)
	}

	gw := llm.NewGateway(v)
	if def, ok := findProviderDef(snap.Providers, providerID); ok {
		if p, err := llm.FromDef(ctx, def, v); err == nil {
			gw.Register(p)
			_ = gw.SetActive(ctx, def.ID, modelOr(a.Profile.Model, snap.AgentDefaults.Model))
		}
	}

	loop := &brain.Loop{
		AgentName: a.WorkerAgent,
		Workspace: workDir,
		Store:     st,
		Swarm:     o.Swarm,
		Gateway:   gw,
		Catalog:   catalog,
		Defaults:  snap.AgentDefaults,
	}
	result, err := loop.Run(ctx, brain.Request{
		TriggerText: prompt,
		Origin:      brain.OriginAssistant,
		SessionID:   "ephemeral",
	})
	if err != nil {
		return "", err
	}
	return result.FinalText, nil
}

func providerOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func modelOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func copySkillManifests(srcDir, dstDir string) error {
	if _, err := os.Stat(srcDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
