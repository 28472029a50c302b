package orchestrator

import (
	"context"

	"github.com/moxxy-run/moxxy/internal/store"
)

func profile(role, persona string) store.SpawnProfile {
	return store.SpawnProfile{Role: role, Persona: persona, RuntimeType: "native", ImageProfile: "base"}
}

// defaultTemplates mirrors original_source/src/core/orchestrator/default_templates.rs,
// narrowed to the two templates spec §8's worked examples (E3/E4) exercise
// plus the single-worker "simple" template job resolution falls back to
// when no template_id is given and no agent-level default is configured.
func defaultTemplates() []store.Template {
	return []store.Template{
		{
			TemplateID:            "simple",
			Name:                  "Simple",
			Description:           "Single ephemeral worker for quick tasks.",
			DefaultWorkerMode:      store.WorkerModeEphemeral,
			DefaultMaxParallelism: 1,
			DefaultRetryLimit:     1,
			DefaultFailurePolicy:  store.FailFast,
			SpawnProfiles: []store.SpawnProfile{
				profile("worker", "You are a capable assistant. Execute the assigned task using available skills."),
			},
		},
		{
			TemplateID:            "builder-checker-merger",
			Name:                  "Builder-Checker-Merger",
			Description:           "Planner breaks down the request; builder implements; checker validates (CHECKS_FAILED stops the job); merger opens the PR.",
			DefaultWorkerMode:      store.WorkerModeEphemeral,
			DefaultMaxParallelism: 3,
			DefaultRetryLimit:     1,
			DefaultFailurePolicy:  store.FailFast,
			DefaultMergePolicy:    store.MergeManualApproval,
			SpawnProfiles: []store.SpawnProfile{
				profile("planner", "You are an orchestrator planner. Analyze the request and produce a structured JSON task graph. Output ONLY valid JSON with a \"tasks\" array."),
				profile("builder", "You are a builder agent. Create and edit files using file_ops, run builds with workspace_shell, and commit with git. When done, report what changed."),
				profile("checker", "You are a code reviewer and validator. Run tests, check code quality. If validation fails, output CHECKS_FAILED with details; otherwise summarize what passed."),
				profile("merger", "You are a merge agent. Use git and github skills to push branches and open pull requests based on prior task outputs."),
			},
		},
		{
			TemplateID:            "research-report",
			Name:                  "Research & Report",
			Description:           "Researcher gathers information, reporter synthesizes it into a structured report.",
			DefaultWorkerMode:      store.WorkerModeEphemeral,
			DefaultMaxParallelism: 2,
			DefaultRetryLimit:     1,
			DefaultFailurePolicy:  store.FailFast,
			SpawnProfiles: []store.SpawnProfile{
				profile("planner", "You are a research planner. Produce a structured JSON task graph with \"researcher\" tasks and one \"reporter\" task depending on all of them."),
				profile("researcher", "You are a research agent. Gather information using file_ops and workspace_shell, and report findings in detail."),
				profile("reporter", "You are a report writer. Synthesize prior findings into a structured markdown report."),
			},
		},
	}
}

// SeedDefaultTemplates inserts the default templates if the agent has none
// yet. Safe to call on every boot: InsertTemplate is ON CONFLICT DO NOTHING.
func SeedDefaultTemplates(ctx context.Context, st *store.Store) (int, error) {
	existing, err := st.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	tpls := defaultTemplates()
	for _, t := range tpls {
		if err := st.InsertTemplate(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(tpls), nil
}

func findSpawnProfile(profiles []store.SpawnProfile, role string) (store.SpawnProfile, bool) {
	for _, p := range profiles {
		if p.Role == role {
			return p, true
		}
	}
	return store.SpawnProfile{}, false
}
