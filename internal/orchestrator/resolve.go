package orchestrator

import (
	"context"
	"fmt"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
)

// WorkerAssignment binds a role to a concrete worker for one job (spec
// §4.9 "Worker assignments").
type WorkerAssignment struct {
	Role        string
	WorkerMode  store.WorkerMode
	WorkerAgent string // existing agent name, or a synthesized ephemeral id
	Profile     store.SpawnProfile
}

// resolvedJob is everything StartJob's resolution phase computes before the
// job is allowed to leave Queued.
type resolvedJob struct {
	template       store.Template
	assignments    []WorkerAssignment
	mergeAction    store.MergeAction
	maxParallelism int
}

// resolve implements spec §4.9 "Resolution": pull agent-scoped config,
// resolve the template, validate every spawn profile, compute the effective
// worker mode/parallelism, and build worker assignments.
func (o *Orchestrator) resolve(ctx context.Context, req StartJobRequest) (resolvedJob, error) {
	orchCfg, _, err := o.Store.GetOrchConfig(ctx)
	if err != nil {
		return resolvedJob{}, err
	}

	tpl, err := o.resolveTemplate(ctx, req.TemplateID)
	if err != nil {
		return resolvedJob{}, err
	}

	if err := o.validateSpawnProfiles(tpl.SpawnProfiles); err != nil {
		return resolvedJob{}, err
	}

	mode := req.WorkerMode
	if mode == "" {
		mode = tpl.DefaultWorkerMode
	}
	if mode == "" {
		mode = orchCfg.DefaultWorkerMode
	}
	if mode == "" {
		mode = store.WorkerModeEphemeral
	}

	maxParallelism := req.MaxParallelism
	if maxParallelism <= 0 {
		maxParallelism = tpl.DefaultMaxParallelism
	}
	if maxParallelism <= 0 {
		maxParallelism = orchCfg.MaxParallelism
	}
	if maxParallelism <= 0 {
		maxParallelism = 1
	}

	existingAgents := req.ExistingAgents
	if requiresNative(mode) && len(existingAgents) == 0 {
		existingAgents = []string{o.AgentName}
	}
	ephemeralCount := req.EphemeralCount
	if requiresEphemeral(mode) && ephemeralCount <= 0 {
		ephemeralCount = 1
	}

	assignments := assignWorkers(tpl, req.Phases, mode, existingAgents, ephemeralCount)

	mergeAction := req.MergeAction
	return resolvedJob{
		template:       tpl,
		assignments:    assignments,
		mergeAction:    mergeAction,
		maxParallelism: maxParallelism,
	}, nil
}

func requiresNative(mode store.WorkerMode) bool {
	return mode == store.WorkerModeNative
}

func requiresEphemeral(mode store.WorkerMode) bool {
	// Mixed is treated as ephemeral per spec §9 design note.
	return mode == store.WorkerModeEphemeral || mode == store.WorkerModeMixed
}

func (o *Orchestrator) resolveTemplate(ctx context.Context, templateID string) (store.Template, error) {
	if templateID != "" {
		tpl, ok, err := o.Store.GetTemplate(ctx, templateID)
		if err != nil {
			return store.Template{}, err
		}
		if !ok {
			return store.Template{}, moxxyerr.NotFoundf("orchestrator: template %q not found", templateID)
		}
		return tpl, nil
	}
	if o.Config != nil {
		snap := o.Config.Snapshot()
		if snap.Orchestrator.DefaultTemplateID != "" {
			tpl, ok, err := o.Store.GetTemplate(ctx, snap.Orchestrator.DefaultTemplateID)
			if err != nil {
				return store.Template{}, err
			}
			if ok {
				return tpl, nil
			}
		}
	}
	tpl, ok, err := o.Store.GetTemplate(ctx, "simple")
	if err != nil {
		return store.Template{}, err
	}
	if !ok {
		return store.Template{}, moxxyerr.Dependencyf("orchestrator: no template_id given and no default templates seeded")
	}
	return tpl, nil
}

// validateSpawnProfiles fails the job structurally (spec §4.9 "on any miss,
// transition the job to Failed") when a profile names a provider that is
// not configured, or configures one whose vault key has never been set.
func (o *Orchestrator) validateSpawnProfiles(profiles []store.SpawnProfile) error {
	if o.Config == nil {
		return nil
	}
	snap := o.Config.Snapshot()
	for _, p := range profiles {
		if p.Provider == "" {
			continue
		}
		def, ok := findProviderDef(snap.Providers, p.Provider)
		if !ok {
			return moxxyerr.Validationf("orchestrator: spawn profile %q names unknown provider %q", p.Role, p.Provider)
		}
		if def.Auth.VaultKey != "" && o.Vault != nil {
			if _, ok, err := o.Vault.Get(context.Background(), def.Auth.VaultKey); err != nil {
				return err
			} else if !ok {
				return moxxyerr.Dependencyf("orchestrator: spawn profile %q provider %q is missing vault key %q", p.Role, p.Provider, def.Auth.VaultKey)
			}
		}
		if p.Model != "" && len(def.Models) > 0 && !containsString(def.Models, p.Model) {
			return moxxyerr.Validationf("orchestrator: spawn profile %q names unknown model %q for provider %q", p.Role, p.Model, p.Provider)
		}
	}
	return nil
}

func findProviderDef(defs []config.ProviderDef, id string) (config.ProviderDef, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return config.ProviderDef{}, false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// assignWorkers implements spec §4.9 "Worker assignments": explicit phases
// synthesize one ephemeral worker per phase keyed by role; otherwise roles
// come from the template's spawn profiles, combining existing-agent
// references (round-robin) with ephemeral slots depending on the effective
// mode.
func assignWorkers(tpl store.Template, phases []string, mode store.WorkerMode, existingAgents []string, ephemeralCount int) []WorkerAssignment {
	roles := phases
	if len(roles) == 0 {
		for _, p := range tpl.SpawnProfiles {
			roles = append(roles, p.Role)
		}
	}

	var assignments []WorkerAssignment
	ephemeralSeq := 0
	for i, role := range roles {
		profile, _ := findSpawnProfile(tpl.SpawnProfiles, role)
		if requiresNative(mode) && len(existingAgents) > 0 {
			agent := existingAgents[i%len(existingAgents)]
			assignments = append(assignments, WorkerAssignment{
				Role: role, WorkerMode: store.WorkerModeNative, WorkerAgent: agent, Profile: profile,
			})
			continue
		}
		ephemeralSeq++
		assignments = append(assignments, WorkerAssignment{
			Role:        role,
			WorkerMode:  store.WorkerModeEphemeral,
			WorkerAgent: fmt.Sprintf("ephemeral-%s-%d", role, ephemeralSeq),
			Profile:     profile,
		})
	}
	_ = ephemeralCount // not used: every role gets exactly one ephemeral slot
	return assignments
}
