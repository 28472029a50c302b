package orchestrator

import (
	"context"

	"github.com/moxxy-run/moxxy/internal/store"
)

// runMergeGate sequences the post-execution states for jobs with a
// merge_action (spec §4.9 "Merge gate"). The merger worker itself already
// ran as part of the dispatch loop above (synthesized into the task graph /
// legacy role chain by ensureMergerAssignment); this only sequences the
// Reviewing → MergePending → Merging states around it, gating on
// DefaultMergePolicy.
func (o *Orchestrator) runMergeGate(ctx context.Context, jobID string, job store.Job, rj resolvedJob, planned []store.Task, assignments []WorkerAssignment) error {
	if err := o.transition(ctx, jobID, store.JobExecuting, store.JobReviewing, "", ""); err != nil {
		return err
	}
	if err := o.transition(ctx, jobID, store.JobReviewing, store.JobMergePending, "", ""); err != nil {
		return err
	}

	if rj.template.DefaultMergePolicy == store.MergeManualApproval {
		// ApproveMerge (called separately, e.g. via the control-plane API)
		// advances MergePending → Merging → Completed.
		return nil
	}

	if err := o.transition(ctx, jobID, store.JobMergePending, store.JobMerging, "", ""); err != nil {
		return err
	}
	return o.transition(ctx, jobID, store.JobMerging, store.JobCompleted, "orchestration completed, merge auto-approved", "")
}
