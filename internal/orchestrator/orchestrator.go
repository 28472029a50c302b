// Package orchestrator implements spec §4.9: a coordinator that plans a task
// graph for a parent agent's request, dispatches it to native or ephemeral
// workers as dependencies clear, and gates the result behind an optional
// merge step. Grounded on
// original_source/src/core/orchestrator/executor/mod.rs for the planner
// prompt shape, the structured/legacy parsing fallback, the per-task prompt
// format, and the CHECKS_FAILED gate; the richer Reviewing/MergePending
// state pair is this package's own addition per spec §4.9, since the
// original collapses straight to completed/failed.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/internal/vault"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// Orchestrator runs jobs on behalf of one parent agent. The parent's own
// store holds the orch_* tables (spec: "on a specific parent agent"), so one
// Orchestrator value is scoped to exactly that agent.
type Orchestrator struct {
	DataDir    string
	AgentName  string
	Store      *store.Store
	Vault      *vault.Vault
	Swarm      *store.SwarmStore
	Config     *config.Config
	Regs       *supervisor.Registries
	MachineKey [32]byte

	mu       sync.Mutex
	canceled map[string]bool
}

// New builds an Orchestrator scoped to one parent agent's handles.
func New(dataDir, agentName string, st *store.Store, v *vault.Vault, swarm *store.SwarmStore, cfg *config.Config, regs *supervisor.Registries, machineKey [32]byte) *Orchestrator {
	return &Orchestrator{
		DataDir:    dataDir,
		AgentName:  agentName,
		Store:      st,
		Vault:      v,
		Swarm:      swarm,
		Config:     cfg,
		Regs:       regs,
		MachineKey: machineKey,
		canceled:   make(map[string]bool),
	}
}

// StartJobRequest mirrors spec §4.9's StartJob payload. Tagged for direct
// JSON decoding in internal/httpapi's POST /orchestrate/jobs handlers.
type StartJobRequest struct {
	Prompt         string            `json:"prompt"`
	TemplateID     string            `json:"template_id"`
	WorkerMode     store.WorkerMode  `json:"worker_mode,omitempty"`
	ExistingAgents []string          `json:"existing_agents,omitempty"`
	EphemeralCount int               `json:"ephemeral_count,omitempty"`
	MaxParallelism int               `json:"max_parallelism,omitempty"`
	Phases         []string          `json:"phases,omitempty"` // role per phase, in order
	MergeAction    store.MergeAction `json:"merge_action,omitempty"`
}

// allowedTransitions encodes the state DAG in spec §4.9; can_transition
// forbids any edge not listed here, including staying put.
var allowedTransitions = map[store.JobStatus][]store.JobStatus{
	store.JobQueued:       {store.JobPlanning, store.JobFailed, store.JobCanceled},
	store.JobPlanning:     {store.JobDispatching, store.JobFailed, store.JobCanceled},
	store.JobDispatching:  {store.JobExecuting, store.JobFailed, store.JobCanceled},
	store.JobExecuting:    {store.JobReviewing, store.JobCompleted, store.JobFailed, store.JobCanceled},
	store.JobReviewing:    {store.JobMergePending, store.JobFailed, store.JobCanceled},
	store.JobMergePending: {store.JobMerging, store.JobFailed, store.JobCanceled},
	store.JobMerging:      {store.JobCompleted, store.JobFailed, store.JobCanceled},
}

// canTransition reports whether from→to is a legal state-DAG edge (spec §8
// invariant 11: "no Completed → Executing, etc.").
func canTransition(from, to store.JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves job to a new status iff legal, persisting the change and
// appending a state_changed event. An illegal request is logged and
// rejected rather than applied (spec §7 InvariantViolation: "bug-level;
// logged and rejected").
func (o *Orchestrator) transition(ctx context.Context, jobID string, from, to store.JobStatus, summary, errMsg string) error {
	if !canTransition(from, to) {
		slog.Error("orchestrator.illegal_transition", "job", jobID, "from", from, "to", to)
		return moxxyerr.Invariantf("orchestrator: illegal transition %s -> %s", from, to)
	}
	if err := o.Store.UpdateJobStatus(ctx, jobID, to, summary, errMsg); err != nil {
		return err
	}
	return o.appendEvent(ctx, jobID, protocol.OrchEventStateChanged, map[string]any{"from": from, "to": to})
}

func (o *Orchestrator) appendEvent(ctx context.Context, jobID, eventType string, payload map[string]any) error {
	data := marshalEvent(payload)
	_, err := o.Store.AppendEvent(ctx, jobID, eventType, data)
	return err
}

// StartJob resolves the job's configuration, persists it in Queued state,
// then runs it to completion in the background. It returns the job id
// immediately; callers poll/stream for progress.
func (o *Orchestrator) StartJob(ctx context.Context, req StartJobRequest) (string, error) {
	jobID := uuid.NewString()

	job := store.Job{
		JobID:      jobID,
		AgentName:  o.AgentName,
		Status:     store.JobQueued,
		Prompt:     req.Prompt,
		WorkerMode: req.WorkerMode,
	}
	if err := o.Store.InsertJob(ctx, job); err != nil {
		return "", err
	}
	_ = o.appendEvent(ctx, jobID, protocol.OrchEventQueued, map[string]any{"prompt": req.Prompt})

	resolved, err := o.resolve(ctx, req)
	if err != nil {
		_ = o.transition(ctx, jobID, store.JobQueued, store.JobFailed, "", err.Error())
		_ = o.appendEvent(ctx, jobID, protocol.OrchEventDone, map[string]any{"status": store.JobFailed})
		return jobID, nil
	}

	go o.run(context.Background(), jobID, resolved)
	return jobID, nil
}

// Cancel marks a job Canceled at the next dispatcher yield point (spec
// §5 "Cancellation"); in-flight workers are left to finish but their
// results no longer unblock descendants once the job is terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	o.canceled[jobID] = true
	o.mu.Unlock()

	j, ok, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return moxxyerr.NotFoundf("orchestrator: job %q not found", jobID)
	}
	return o.transition(ctx, jobID, j.Status, store.JobCanceled, "canceled by request", "")
}

func (o *Orchestrator) isCanceled(jobID string) bool {
	o.mu.Lock()
	flagged := o.canceled[jobID]
	o.mu.Unlock()
	if flagged {
		return true
	}
	j, ok, err := o.Store.GetJob(context.Background(), jobID)
	return err == nil && ok && j.Status == store.JobCanceled
}

// ApproveMerge advances a job waiting in MergePending through Merging to
// Completed (spec §4.9 "waits for an explicit approve call").
func (o *Orchestrator) ApproveMerge(ctx context.Context, jobID string) error {
	j, ok, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return moxxyerr.NotFoundf("orchestrator: job %q not found", jobID)
	}
	if j.Status != store.JobMergePending {
		return moxxyerr.Conflictf("orchestrator: job %q is not awaiting merge approval (status %s)", jobID, j.Status)
	}
	if err := o.transition(ctx, jobID, store.JobMergePending, store.JobMerging, "", ""); err != nil {
		return err
	}
	return o.transition(ctx, jobID, store.JobMerging, store.JobCompleted, "merge approved", "")
}

// Events returns the job's journal after afterID, for polling clients (spec
// §4.9 Streaming).
func (o *Orchestrator) Events(ctx context.Context, jobID string, afterID int64, limit int) ([]store.Event, error) {
	return o.Store.ListEvents(ctx, jobID, afterID, limit)
}

func marshalEvent(payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}
