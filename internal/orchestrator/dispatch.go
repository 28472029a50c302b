package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// run drives one job from Queued through to a terminal state (spec §4.9).
// It is always called in its own goroutine from StartJob.
func (o *Orchestrator) run(ctx context.Context, jobID string, rj resolvedJob) {
	if err := o.transition(ctx, jobID, store.JobQueued, store.JobPlanning, "", ""); err != nil {
		return
	}

	job, ok, err := o.Store.GetJob(ctx, jobID)
	if err != nil || !ok {
		return
	}

	assignments := rj.assignments
	var plannerOutput string
	var planned []store.Task
	hasPlanner := len(assignments) > 0 && strings.EqualFold(assignments[0].Role, "planner")

	if hasPlanner {
		planner := assignments[0]
		rest := assignments[1:]
		roles := make([]string, 0, len(rest))
		for _, a := range rest {
			roles = append(roles, a.Role)
		}
		plannerPrompt := buildStructuredPlannerPrompt(roles, job.Prompt)

		status, output, _ := o.runWorker(ctx, jobID, planner, "planner", plannerPrompt)
		plannerOutput = output
		if status != store.TaskSucceeded {
			_ = o.transition(ctx, jobID, store.JobPlanning, store.JobFailed, "", "planner failed")
			o.finish(ctx, jobID)
			return
		}
		assignments = rest
		planned, _ = parseTaskGraph(jobID, plannerOutput)
	}

	if err := o.transition(ctx, jobID, store.JobPlanning, store.JobDispatching, "", ""); err != nil {
		return
	}
	if err := o.transition(ctx, jobID, store.JobDispatching, store.JobExecuting, "", ""); err != nil {
		return
	}

	includeMerger := rj.mergeAction != store.MergeActionNone

	var checkerFailedFlag bool
	if len(planned) > 0 {
		checkerFailedFlag = o.runStructured(ctx, jobID, job.Prompt, planned, assignments, rj.template.SpawnProfiles, includeMerger, rj.maxParallelism)
	} else {
		checkerFailedFlag = o.runLegacy(ctx, jobID, job.Prompt, plannerOutput, assignments, rj.template.SpawnProfiles, includeMerger, string(rj.mergeAction), rj.maxParallelism)
	}

	if checkerFailedFlag {
		_ = o.transition(ctx, jobID, store.JobExecuting, store.JobFailed, "", "checker reported CHECKS_FAILED")
		o.finish(ctx, jobID)
		return
	}
	if o.isCanceled(jobID) {
		o.finish(ctx, jobID)
		return
	}

	if !includeMerger {
		_ = o.transition(ctx, jobID, store.JobExecuting, store.JobCompleted, "orchestration completed", "")
		o.finish(ctx, jobID)
		return
	}

	if err := o.runMergeGate(ctx, jobID, job, rj, planned, assignments); err != nil {
		_ = o.transition(ctx, jobID, store.JobExecuting, store.JobFailed, "", err.Error())
	}
	o.finish(ctx, jobID)
}

func (o *Orchestrator) finish(ctx context.Context, jobID string) {
	j, ok, err := o.Store.GetJob(ctx, jobID)
	status := store.JobFailed
	if err == nil && ok {
		status = j.Status
	}
	_ = o.appendEvent(ctx, jobID, protocol.OrchEventDone, map[string]any{"status": status})
}

// runStructured executes the dependency-gated dispatch loop over a parsed
// task graph (spec §4.9 "Dispatch"). Returns true iff a checker's
// CHECKS_FAILED gate tripped.
func (o *Orchestrator) runStructured(ctx context.Context, jobID, prompt string, tasks []store.Task, assignments []WorkerAssignment, profiles []store.SpawnProfile, includeMerger bool, maxParallelism int) bool {
	for _, t := range tasks {
		_ = o.Store.InsertTask(ctx, t)
	}

	byRole := make(map[string]WorkerAssignment, len(assignments))
	for _, a := range assignments {
		byRole[strings.ToLower(a.Role)] = a
	}
	ensureMergerAssignment(byRole, profiles, includeMerger, len(assignments))

	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}
	succeeded := make(map[string]bool)
	outputs := make(map[string]string)

	for {
		if o.isCanceled(jobID) {
			return false
		}
		ready := readyTasks(byID, succeeded)
		if len(ready) == 0 {
			return false
		}
		sort.Strings(ready)

		for _, tid := range ready {
			t := byID[tid]
			t.Status = store.TaskInProgress
			byID[tid] = t
			_ = o.Store.UpdateTaskStatus(ctx, jobID, tid, store.TaskInProgress)
		}

		type taskResult struct {
			id     string
			role   string
			status store.TaskStatus
			output string
		}
		results := make(chan taskResult, len(ready))
		sem := make(chan struct{}, max(1, maxParallelism))
		var wg sync.WaitGroup
		for _, tid := range ready {
			wg.Add(1)
			go func(tid string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				task := byID[tid]
				prior := map[string]string{}
				for _, dep := range task.DependsOn {
					if out, ok := outputs[dep]; ok {
						prior[dep] = out
					}
				}
				taskPrompt := buildTaskPrompt(task, prior)

				assignment, ok := byRole[task.Role]
				if !ok {
					assignment = ephemeralFallback(task.Role, profiles, tid)
				}
				status, output, _ := o.runWorker(ctx, jobID, assignment, tid, taskPrompt)
				results <- taskResult{id: tid, role: task.Role, status: status, output: output}
			}(tid)
		}
		wg.Wait()
		close(results)

		checkerFailedThisRound := false
		for r := range results {
			out := truncateOutput(r.output)
			outputs[r.id] = out
			t := byID[r.id]
			t.Status = r.status
			byID[r.id] = t
			_ = o.Store.UpdateTaskStatus(ctx, jobID, r.id, r.status)
			if r.status == store.TaskSucceeded {
				succeeded[r.id] = true
			}
			if checkerFailed(r.role, r.output) {
				checkerFailedThisRound = true
			}
		}
		if checkerFailedThisRound {
			return true
		}
	}
}

// runLegacy executes the markdown-fallback dispatch path (spec §9 "lenient
// twice"): roles are linearized in assignment order, each depending on every
// prior role.
func (o *Orchestrator) runLegacy(ctx context.Context, jobID, prompt, plannerOutput string, assignments []WorkerAssignment, profiles []store.SpawnProfile, includeMerger bool, mergeAction string, maxParallelism int) bool {
	tasksByRole := parsePlannerTasksMarkdown(plannerOutput)
	deps := buildLegacyTaskDeps(assignments, includeMerger)

	byRole := make(map[string]WorkerAssignment, len(assignments))
	for _, a := range assignments {
		byRole[strings.ToLower(a.Role)] = a
	}
	ensureMergerAssignment(byRole, profiles, includeMerger, len(assignments))

	completed := make(map[string]bool)
	outputs := make(map[string]string)

	for {
		if o.isCanceled(jobID) {
			return false
		}
		var ready []roleDep
		for _, d := range deps {
			if completed[d.Role] {
				continue
			}
			allDepsMet := true
			for _, dep := range d.DependsOn {
				if !completed[dep] {
					allDepsMet = false
					break
				}
			}
			if allDepsMet {
				ready = append(ready, d)
			}
		}
		if len(ready) == 0 {
			return false
		}

		var prior strings.Builder
		if plannerOutput != "" {
			fmt.Fprintf(&prior, "[Planner]\n%s\n\n", plannerOutput)
		}
		for _, d := range deps {
			if completed[d.Role] {
				if out, ok := outputs[d.Role]; ok {
					fmt.Fprintf(&prior, "[%s]\n%s\n\n", d.Role, out)
				}
			}
		}
		priorStr := strings.TrimSpace(prior.String())

		type roleResult struct {
			role   string
			status store.TaskStatus
			output string
		}
		results := make(chan roleResult, len(ready))
		sem := make(chan struct{}, max(1, maxParallelism))
		var wg sync.WaitGroup
		for _, d := range ready {
			wg.Add(1)
			go func(d roleDep) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				assignment, ok := byRole[d.Role]
				if !ok {
					return
				}
				isMerger := includeMerger && d.Role == "merger"
				phasePrompt := buildLegacyPhasePrompt(d.Role, tasksByRole, prompt, priorStr, isMerger, mergeAction)
				status, output, _ := o.runWorker(ctx, jobID, assignment, d.Role, phasePrompt)
				results <- roleResult{role: d.Role, status: status, output: output}
			}(d)
		}
		wg.Wait()
		close(results)

		checkerFailedThisRound := false
		for r := range results {
			outputs[r.role] = truncateOutput(r.output)
			completed[r.role] = true
			if checkerFailed(r.role, r.output) {
				checkerFailedThisRound = true
			}
		}
		if checkerFailedThisRound {
			return true
		}
	}
}

// readyTasks returns Pending tasks whose depends_on are all in succeeded
// (spec §8 invariant 9: failed deps never unlock a dependent).
func readyTasks(byID map[string]store.Task, succeeded map[string]bool) []string {
	var ready []string
	for id, t := range byID {
		if t.Status != store.TaskPending {
			continue
		}
		allMet := true
		for _, dep := range t.DependsOn {
			if !succeeded[dep] {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, id)
		}
	}
	return ready
}

// ensureMergerAssignment synthesizes a merger worker from the template's
// spawn profile when merge_action requires one and no assignment supplied
// it (spec §4.9 "Merge gate").
func ensureMergerAssignment(byRole map[string]WorkerAssignment, profiles []store.SpawnProfile, includeMerger bool, seq int) {
	if !includeMerger {
		return
	}
	if _, ok := byRole["merger"]; ok {
		return
	}
	p, _ := findSpawnProfile(profiles, "merger")
	byRole["merger"] = WorkerAssignment{
		Role:        "merger",
		WorkerMode:  store.WorkerModeEphemeral,
		WorkerAgent: fmt.Sprintf("ephemeral-merger-%d", seq+1),
		Profile:     p,
	}
}

func ephemeralFallback(role string, profiles []store.SpawnProfile, taskID string) WorkerAssignment {
	p, _ := findSpawnProfile(profiles, role)
	return WorkerAssignment{
		Role:        role,
		WorkerMode:  store.WorkerModeEphemeral,
		WorkerAgent: "ephemeral-" + taskID,
		Profile:     p,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
