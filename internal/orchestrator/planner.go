package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/moxxy-run/moxxy/internal/store"
)

// maxFedForwardOutput caps a worker's output before it is fed to downstream
// dependents or persisted as a worker run's recorded output (spec §4.9 step
// 4: "keep ≤ 8000 characters").
const maxFedForwardOutput = 8000

func truncateOutput(s string) string {
	if len(s) <= maxFedForwardOutput {
		return s
	}
	return s[:maxFedForwardOutput] + "..."
}

// extractJSONBlock finds the planner's JSON payload: a fenced ```json block
// first, else a bare object/array starting the trimmed text. Grounded on
// original_source's extract_json_block.
func extractJSONBlock(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "```json"); start >= 0 {
		rest := trimmed[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			block := strings.TrimSpace(rest[:end])
			if block != "" {
				return block, true
			}
		}
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed, true
	}
	return "", false
}

type taskGraphJSON struct {
	Tasks []taskJSON `json:"tasks"`
}

type taskJSON struct {
	TaskID      string         `json:"task_id"`
	Role        string         `json:"role"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Context     taskContextJSON `json:"context"`
	DependsOn   []string       `json:"depends_on"`
	Status      string         `json:"status"`
}

type taskContextJSON struct {
	Repo           string   `json:"repo"`
	Branch         string   `json:"branch"`
	WorktreeBranch string   `json:"worktree_branch"`
	FilesToCreate  []string `json:"files_to_create"`
	FilesToEdit    []string `json:"files_to_edit"`
	BuildCommands  []string `json:"build_commands"`
}

// parseTaskGraph tries the strict-JSON pass (spec §4.9 "Task graph"). The
// caller falls back to legacy markdown parsing on failure.
func parseTaskGraph(jobID, plannerOutput string) ([]store.Task, bool) {
	block, ok := extractJSONBlock(plannerOutput)
	if !ok {
		return nil, false
	}
	var graph taskGraphJSON
	if err := json.Unmarshal([]byte(block), &graph); err != nil || len(graph.Tasks) == 0 {
		return nil, false
	}
	tasks := make([]store.Task, 0, len(graph.Tasks))
	for _, t := range graph.Tasks {
		if t.TaskID == "" || t.Role == "" {
			return nil, false
		}
		tasks = append(tasks, store.Task{
			TaskID:      t.TaskID,
			JobID:       jobID,
			Role:        strings.ToLower(t.Role),
			Title:       t.Title,
			Description: t.Description,
			Context: store.TaskContext{
				Repo:           t.Context.Repo,
				Branch:         t.Context.Branch,
				WorktreeBranch: t.Context.WorktreeBranch,
				FilesToCreate:  t.Context.FilesToCreate,
				FilesToEdit:    t.Context.FilesToEdit,
				BuildCommands:  t.Context.BuildCommands,
			},
			DependsOn: t.DependsOn,
			Status:    store.TaskPending,
		})
	}
	return tasks, true
}

// buildStructuredPlannerPrompt asks the planner to emit the task-graph JSON
// schema documented in spec §8 scenario E3. Unlike buildTaskPrompt, this one
// intentionally includes the full request: the planner is the only worker
// that needs it.
func buildStructuredPlannerPrompt(roles []string, prompt string) string {
	rolesStr := strings.Join(roles, ", ")
	return fmt.Sprintf(`Analyze the REQUEST below and produce a task graph as JSON. Output ONLY valid JSON, no other text.

Available roles: %s

JSON schema ("tasks" array):
{
  "tasks": [
    {
      "task_id": "t1",
      "role": "<one of: %s>",
      "title": "<short descriptive title>",
      "description": "<detailed, actionable description of what to implement or do>",
      "context": {
        "repo": "<owner/repo, if applicable>",
        "branch": "<base branch, e.g. main>",
        "worktree_branch": "<new branch name for this task>",
        "files_to_create": ["<paths of new files>"],
        "files_to_edit": ["<paths of existing files to modify>"],
        "build_commands": ["<shell commands to build/test>"]
      },
      "depends_on": [],
      "status": "pending"
    }
  ]
}

Rules:
- Each task has a unique task_id (t1, t2, ...)
- Tasks with no dependencies can run in parallel
- Use depends_on to specify which task_ids must complete first
- The merger task (if present) should depend on all builder/checker tasks

REQUEST:
%s`, rolesStr, rolesStr, prompt)
}

// buildTaskPrompt builds a worker's scoped prompt from a structured task
// graph node. It deliberately omits the full user request (spec §4.9 step 3:
// "prevents scope creep") — only the task's own title/description/context
// and its direct dependencies' outputs are included.
func buildTaskPrompt(task store.Task, priorOutputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# YOUR TASK (task_id: %s): %s\n\n", task.TaskID, task.Title)
	fmt.Fprintf(&b, "## Role: %s\n\n", task.Role)
	b.WriteString("## SCOPE\nYou are responsible for THIS TASK ONLY. Do NOT implement other parts of the project. Other agents handle their own tasks in parallel.\n\n")
	fmt.Fprintf(&b, "## Description\n%s\n\n", task.Description)

	if task.Context.Repo != "" {
		fmt.Fprintf(&b, "## Repository: %s\n\n", task.Context.Repo)
	}
	if task.Context.Branch != "" {
		fmt.Fprintf(&b, "## Base branch: %s\n\n", task.Context.Branch)
	}
	if task.Context.WorktreeBranch != "" {
		repo := task.Context.Repo
		if repo == "" {
			repo = "<repo>"
		}
		base := task.Context.Branch
		if base == "" {
			base = "main"
		}
		fmt.Fprintf(&b, "## Worktree\nCreate or use a worktree with branch: %s\nUse: git ws init %s %s %s\n\n", task.Context.WorktreeBranch, repo, base, task.Context.WorktreeBranch)
	}
	if len(task.Context.FilesToCreate) > 0 {
		fmt.Fprintf(&b, "## Files to create\n%s\n\n", bulletList(task.Context.FilesToCreate))
	}
	if len(task.Context.FilesToEdit) > 0 {
		fmt.Fprintf(&b, "## Files to edit\n%s\n\n", bulletList(task.Context.FilesToEdit))
	}
	if len(task.Context.BuildCommands) > 0 {
		fmt.Fprintf(&b, "## Build/test commands\n%s\n\n", bulletList(task.Context.BuildCommands))
	}

	if len(priorOutputs) > 0 {
		b.WriteString("## Prior task outputs\n")
		for _, dep := range task.DependsOn {
			if out, ok := priorOutputs[dep]; ok {
				fmt.Fprintf(&b, "[Task: %s]\n%s\n\n", dep, out)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func bulletList(items []string) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = "- " + it
	}
	return strings.Join(parts, "\n")
}

// --- Legacy markdown planner parsing (spec §9 "lenient twice") ---

var markdownHeaderRe = regexp.MustCompile(`(?mi)^#+\s*(\w+)\s*\n`)
var boldHeaderRe = regexp.MustCompile(`(?mi)^\*\*(\w+)\*\*:?\s*\n`)

// parsePlannerTasksMarkdown parses `## role` / `### role` sections, falling
// back to `**role:**` sections, into {role: task}.
func parsePlannerTasksMarkdown(output string) map[string]string {
	tasks := make(map[string]string)
	text := strings.TrimSpace(output)
	if text == "" {
		return tasks
	}

	if extractHeaderSections(text, markdownHeaderRe, tasks); len(tasks) > 0 {
		return tasks
	}
	extractHeaderSections(text, boldHeaderRe, tasks)
	return tasks
}

func extractHeaderSections(text string, re *regexp.Regexp, out map[string]string) {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		role := strings.ToLower(text[m[2]:m[3]])
		contentStart := m[1]
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		task := strings.TrimSpace(text[contentStart:contentEnd])
		if role != "" && task != "" {
			out[role] = task
		}
	}
}

// roleDep is one legacy-mode task: a role and the roles it depends on.
type roleDep struct {
	Role      string
	DependsOn []string
}

// buildLegacyTaskDeps linearizes roles in assignment order: each role
// depends on every role before it (spec §4.9 "linearizes role
// dependencies"). The merger, if included and absent, depends on everything.
func buildLegacyTaskDeps(assignments []WorkerAssignment, includeMerger bool) []roleDep {
	var roles []string
	for _, a := range assignments {
		if !strings.EqualFold(a.Role, "planner") {
			roles = append(roles, strings.ToLower(a.Role))
		}
	}

	deps := make([]roleDep, 0, len(roles)+1)
	for i, role := range roles {
		deps = append(deps, roleDep{Role: role, DependsOn: append([]string(nil), roles[:i]...)})
	}
	if includeMerger && !containsString(roles, "merger") {
		deps = append(deps, roleDep{Role: "merger", DependsOn: append([]string(nil), roles...)})
	}
	return deps
}

// fallbackTaskForRole is used when the legacy markdown parse produced no
// section for a role the template still expects.
func fallbackTaskForRole(role string) string {
	switch strings.ToLower(role) {
	case "builder":
		return "Implement the full request. Create/update the necessary code and files using available skills. Report what changed when done."
	case "checker":
		return "Validate the builder's implementation. Run tests and checks. Reply with exactly CHECKS_FAILED if validation fails, otherwise summarize what passed."
	case "merger":
		return "Merge or open a PR based on prior outputs using available skills."
	default:
		return "Execute your assigned role for the request below."
	}
}

// buildLegacyPhasePrompt builds a worker's prompt in legacy markdown mode.
// Unlike the structured path, this one includes the full request as context
// (grounded on original_source's build_phase_prompt) since there is no
// per-task description to scope the worker to.
func buildLegacyPhasePrompt(role string, tasksByRole map[string]string, prompt, prior string, isMerger bool, mergeAction string) string {
	assigned, ok := tasksByRole[role]
	if !ok {
		assigned = fallbackTaskForRole(role)
	}
	if mergeAction == "" {
		mergeAction = "pr_only"
	}
	if isMerger {
		return fmt.Sprintf("YOUR ASSIGNED TASK (role: merger):\n%s\n\nFULL REQUEST (context):\n%s\n\nMerge action: %s\n\nPrior phase outputs:\n%s", assigned, prompt, mergeAction, prior)
	}
	return fmt.Sprintf("YOUR ASSIGNED TASK (role: %s):\n%s\n\nFULL REQUEST (context):\n%s\n\nPrior phase outputs:\n%s", role, assigned, prompt, prior)
}

// checkerFailed reports whether a checker's output trips the CHECKS_FAILED
// gate (spec §8 invariant 10, scenario E4).
func checkerFailed(role, output string) bool {
	return strings.EqualFold(role, "checker") && strings.Contains(output, "CHECKS_FAILED")
}
