package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/store"
)

// TestParseTaskGraphFencedJSON grounds scenario E3: a fenced ```json block
// containing a well-formed task graph parses into Pending tasks regardless
// of any status field the planner included.
func TestParseTaskGraphFencedJSON(t *testing.T) {
	output := "Here is the plan:\n```json\n" + `{
  "tasks": [
    {"task_id": "t1", "role": "Builder", "title": "Build", "description": "do it", "depends_on": [], "status": "done"},
    {"task_id": "t2", "role": "checker", "title": "Check", "description": "verify", "depends_on": ["t1"], "status": "pending"}
  ]
}` + "\n```\nlet me know if questions.\n"

	tasks, ok := parseTaskGraph("job1", output)
	require.True(t, ok)
	require.Len(t, tasks, 2)
	require.Equal(t, "builder", tasks[0].Role)
	require.Equal(t, store.TaskPending, tasks[0].Status, "status field in JSON is ignored; every parsed task starts Pending")
	require.Equal(t, store.TaskPending, tasks[1].Status)
	require.Equal(t, []string{"t1"}, tasks[1].DependsOn)
}

func TestParseTaskGraphBareJSON(t *testing.T) {
	output := `{"tasks": [{"task_id": "t1", "role": "worker", "title": "x", "description": "y", "depends_on": []}]}`
	tasks, ok := parseTaskGraph("job1", output)
	require.True(t, ok)
	require.Len(t, tasks, 1)
}

func TestParseTaskGraphRejectsMissingFields(t *testing.T) {
	_, ok := parseTaskGraph("job1", `{"tasks": [{"title": "no id or role"}]}`)
	require.False(t, ok)
}

func TestParseTaskGraphFallsBackOnPlainProse(t *testing.T) {
	_, ok := parseTaskGraph("job1", "I think we should build a thing and then check it.")
	require.False(t, ok)
}

// TestBuildTaskPromptOmitsFullRequestButIncludesRequiredSubstrings grounds
// scenario E3's literal prompt-shape assertions: task_id, role header, and
// "[Task: <dep>]\n<output>" for each direct dependency - with no trace of
// the original user request, to keep workers scoped to their own task.
func TestBuildTaskPromptOmitsFullRequestButIncludesRequiredSubstrings(t *testing.T) {
	task := store.Task{
		TaskID:      "t2",
		Role:        "checker",
		Title:       "Validate build output",
		Description: "Run the test suite against src/api.rs.",
		DependsOn:   []string{"t1"},
	}
	prior := map[string]string{"t1": "Built src/api.rs"}

	prompt := buildTaskPrompt(task, prior)

	require.Contains(t, prompt, "task_id: t2")
	require.Contains(t, prompt, "## Role: checker")
	require.Contains(t, prompt, "[Task: t1]\nBuilt src/api.rs")
	require.NotContains(t, prompt, "REQUEST:", "structured task prompts must not leak the full user request")
}

func TestBuildTaskPromptIncludesContextSections(t *testing.T) {
	task := store.Task{
		TaskID: "t1",
		Role:   "builder",
		Title:  "Add endpoint",
		Context: store.TaskContext{
			Repo:          "acme/widgets",
			Branch:        "main",
			FilesToCreate: []string{"api/new.go"},
			BuildCommands: []string{"go build ./..."},
		},
	}
	prompt := buildTaskPrompt(task, nil)
	require.Contains(t, prompt, "acme/widgets")
	require.Contains(t, prompt, "api/new.go")
	require.Contains(t, prompt, "go build ./...")
}

// TestCheckerFailedRequiresCheckerRole grounds invariant 10: only a checker
// role's output trips the gate, even if another role's output happens to
// contain the same literal string.
func TestCheckerFailedRequiresCheckerRole(t *testing.T) {
	require.True(t, checkerFailed("checker", "some tests broke\nCHECKS_FAILED\nsee logs"))
	require.False(t, checkerFailed("builder", "CHECKS_FAILED appears here too but builder isn't the gate"))
	require.False(t, checkerFailed("checker", "all good, no failures"))
}

func TestTruncateOutputCapsAt8000Chars(t *testing.T) {
	long := strings.Repeat("a", 9000)
	out := truncateOutput(long)
	require.LessOrEqual(t, len(out), maxFedForwardOutput+len("..."))
	require.True(t, strings.HasSuffix(out, "..."))

	short := "fits fine"
	require.Equal(t, short, truncateOutput(short))
}

func TestParsePlannerTasksMarkdownHeaderSections(t *testing.T) {
	md := "## builder\nImplement the feature.\n\n## checker\nRun the tests.\n"
	tasks := parsePlannerTasksMarkdown(md)
	require.Equal(t, "Implement the feature.", tasks["builder"])
	require.Equal(t, "Run the tests.", tasks["checker"])
}

func TestParsePlannerTasksMarkdownFallsBackToBoldHeaders(t *testing.T) {
	md := "**builder**:\nImplement the feature.\n\n**checker**:\nRun the tests.\n"
	tasks := parsePlannerTasksMarkdown(md)
	require.Equal(t, "Implement the feature.", tasks["builder"])
	require.Equal(t, "Run the tests.", tasks["checker"])
}

func TestBuildLegacyTaskDepsLinearizesRoles(t *testing.T) {
	assignments := []WorkerAssignment{{Role: "builder"}, {Role: "checker"}}
	deps := buildLegacyTaskDeps(assignments, true)
	require.Len(t, deps, 3)
	require.Equal(t, "builder", deps[0].Role)
	require.Empty(t, deps[0].DependsOn)
	require.Equal(t, "checker", deps[1].Role)
	require.Equal(t, []string{"builder"}, deps[1].DependsOn)
	require.Equal(t, "merger", deps[2].Role)
	require.ElementsMatch(t, []string{"builder", "checker"}, deps[2].DependsOn)
}
