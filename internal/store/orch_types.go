package store

import "time"

// JobStatus is one node of the orchestrator state DAG (spec §4.9).
type JobStatus string

const (
	JobQueued      JobStatus = "Queued"
	JobPlanning    JobStatus = "Planning"
	JobDispatching JobStatus = "Dispatching"
	JobExecuting   JobStatus = "Executing"
	JobReviewing   JobStatus = "Reviewing"
	JobMergePending JobStatus = "MergePending"
	JobMerging     JobStatus = "Merging"
	JobCompleted   JobStatus = "Completed"
	JobFailed      JobStatus = "Failed"
	JobCanceled    JobStatus = "Canceled"
)

// TaskStatus is one task-graph node's lifecycle state (spec §3 Task).
type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskInProgress TaskStatus = "InProgress"
	TaskSucceeded  TaskStatus = "Succeeded"
	TaskFailed     TaskStatus = "Failed"
)

// WorkerMode selects whether tasks run against existing named agents or
// disposable ephemeral ones (spec §3 Orchestration job, §9 Open Questions:
// "Mixed" is treated as ephemeral).
type WorkerMode string

const (
	WorkerModeNative    WorkerMode = "native"
	WorkerModeEphemeral WorkerMode = "ephemeral"
	WorkerModeMixed     WorkerMode = "mixed"
)

// FailurePolicy controls whether one task failure aborts the whole job.
type FailurePolicy string

const (
	FailFast   FailurePolicy = "FailFast"
	BestEffort FailurePolicy = "BestEffort"
)

// MergePolicy controls whether the merge step waits for an explicit approval.
type MergePolicy string

const (
	MergeAuto           MergePolicy = "Auto"
	MergeManualApproval MergePolicy = "ManualApproval"
)

// MergeAction is the requested merge behavior on StartJob (spec §4.9).
type MergeAction string

const (
	MergeActionNone      MergeAction = ""
	MergeActionDirect    MergeAction = "merge_direct"
	MergeActionAndPR     MergeAction = "merge_and_pr"
	MergeActionPROnly    MergeAction = "pr_only"
)

// Job is one orchestration run (spec §3 Orchestration job).
type Job struct {
	JobID      string
	AgentName  string
	Status     JobStatus
	Prompt     string
	WorkerMode WorkerMode
	Summary    string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// WorkerRun is one execution of a task by a worker (spec §3 Worker run).
type WorkerRun struct {
	WorkerRunID string
	JobID       string
	WorkerAgent string
	WorkerMode  WorkerMode
	TaskPrompt  string
	Status      TaskStatus
	Attempt     int
	StartedAt   time.Time
	FinishedAt  *time.Time
	Output      string
	Error       string
}

// Event is one monotonically ordered journal entry (spec §3 Event).
type Event struct {
	ID        int64
	JobID     string
	EventType string
	Payload   string // raw JSON
	CreatedAt time.Time
}

// TaskContext carries a task's enriched build context (spec §3 Task.context).
type TaskContext struct {
	Repo           string            `json:"repo,omitempty"`
	Branch         string            `json:"branch,omitempty"`
	WorktreeBranch string            `json:"worktree_branch,omitempty"`
	FilesToCreate  []string          `json:"files_to_create,omitempty"`
	FilesToEdit    []string          `json:"files_to_edit,omitempty"`
	BuildCommands  []string          `json:"build_commands,omitempty"`
	PriorOutputs   map[string]string `json:"prior_outputs,omitempty"`
}

// Task is one task-graph node (spec §3 Task).
type Task struct {
	TaskID      string
	JobID       string
	Role        string
	Title       string
	Description string
	Context     TaskContext
	DependsOn   []string
	Status      TaskStatus
}

// SpawnProfile describes how to materialize a worker for a given role
// (spec §3 Orchestrator template).
type SpawnProfile struct {
	Role         string `json:"role"`
	Persona      string `json:"persona,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	RuntimeType  string `json:"runtime_type,omitempty"`
	ImageProfile string `json:"image_profile,omitempty"`
}

// Template is one orchestrator template (spec §3 Orchestrator template).
// Tagged for direct JSON decoding in internal/httpapi's template routes.
type Template struct {
	TemplateID            string        `json:"template_id"`
	Name                  string        `json:"name"`
	Description           string        `json:"description,omitempty"`
	DefaultWorkerMode      WorkerMode   `json:"default_worker_mode,omitempty"`
	DefaultMaxParallelism int           `json:"default_max_parallelism,omitempty"`
	DefaultRetryLimit     int           `json:"default_retry_limit,omitempty"`
	DefaultFailurePolicy  FailurePolicy `json:"default_failure_policy,omitempty"`
	DefaultMergePolicy    MergePolicy   `json:"default_merge_policy,omitempty"`
	SpawnProfiles         []SpawnProfile `json:"spawn_profiles,omitempty"`
}
