package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// InsertTemplate persists a template; used both for operator-authored
// templates and the seeded defaults (SPEC_FULL.md §C).
func (s *Store) InsertTemplate(ctx context.Context, t Template) error {
	profiles, err := json.Marshal(t.SpawnProfiles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orch_templates (template_id, name, description, default_worker_mode,
			default_max_parallelism, default_retry_limit, default_failure_policy,
			default_merge_policy, spawn_profiles)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(template_id) DO NOTHING`,
		t.TemplateID, t.Name, t.Description, string(t.DefaultWorkerMode),
		t.DefaultMaxParallelism, t.DefaultRetryLimit, string(t.DefaultFailurePolicy),
		string(t.DefaultMergePolicy), string(profiles))
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert template")
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, bool, error) {
	var t Template
	var workerMode, failurePolicy, mergePolicy, profiles string
	err := s.db.QueryRowContext(ctx,
		`SELECT template_id, name, description, default_worker_mode, default_max_parallelism,
			default_retry_limit, default_failure_policy, default_merge_policy, spawn_profiles
		 FROM orch_templates WHERE template_id = ?`, id).
		Scan(&t.TemplateID, &t.Name, &t.Description, &workerMode, &t.DefaultMaxParallelism,
			&t.DefaultRetryLimit, &failurePolicy, &mergePolicy, &profiles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, false, nil
		}
		return Template{}, false, moxxyerr.WrapUpstream(err, "get template")
	}
	t.DefaultWorkerMode = WorkerMode(workerMode)
	t.DefaultFailurePolicy = FailurePolicy(failurePolicy)
	t.DefaultMergePolicy = MergePolicy(mergePolicy)
	_ = json.Unmarshal([]byte(profiles), &t.SpawnProfiles)
	return t, true, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT template_id FROM orch_templates ORDER BY template_id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	out := make([]Template, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// InsertJob persists a newly created orchestration job in Queued state.
func (s *Store) InsertJob(ctx context.Context, j Job) error {
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orch_jobs (job_id, agent_name, status, prompt, worker_mode, summary, error, created_at, updated_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.AgentName, string(j.Status), j.Prompt, string(j.WorkerMode), j.Summary, j.Error,
		j.CreatedAt, j.UpdatedAt, j.FinishedAt)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert job")
	}
	return nil
}

// UpdateJobStatus records a state transition plus optional summary/error.
// Callers are responsible for checking can_transition before calling this
// (spec §4.9); the store layer does not re-validate the DAG.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, summary, errMsg string) error {
	now := time.Now().UTC()
	var finishedAt *time.Time
	if status == JobCompleted || status == JobFailed || status == JobCanceled {
		finishedAt = &now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE orch_jobs SET status = ?, summary = COALESCE(NULLIF(?, ''), summary),
			error = COALESCE(NULLIF(?, ''), error), updated_at = ?, finished_at = COALESCE(?, finished_at)
		 WHERE job_id = ?`,
		string(status), summary, errMsg, now, finishedAt, jobID)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "update job status")
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	var j Job
	var status, workerMode string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, agent_name, status, prompt, worker_mode, summary, error, created_at, updated_at, finished_at
		 FROM orch_jobs WHERE job_id = ?`, jobID).
		Scan(&j.JobID, &j.AgentName, &status, &j.Prompt, &workerMode, &j.Summary, &j.Error,
			&j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, moxxyerr.WrapUpstream(err, "get job")
	}
	j.Status, j.WorkerMode = JobStatus(status), WorkerMode(workerMode)
	return j, true, nil
}

// InsertWorkerRun records a started worker run.
func (s *Store) InsertWorkerRun(ctx context.Context, w WorkerRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orch_worker_runs (worker_run_id, job_id, worker_agent, worker_mode, task_prompt,
			status, attempt, started_at, finished_at, output, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.WorkerRunID, w.JobID, w.WorkerAgent, string(w.WorkerMode), w.TaskPrompt,
		string(w.Status), w.Attempt, w.StartedAt, w.FinishedAt, w.Output, w.Error)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert worker run")
	}
	return nil
}

// FinishWorkerRun records the terminal status/output/error of a worker run.
func (s *Store) FinishWorkerRun(ctx context.Context, workerRunID string, status TaskStatus, output, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE orch_worker_runs SET status = ?, finished_at = ?, output = ?, error = ? WHERE worker_run_id = ?`,
		string(status), now, output, errMsg, workerRunID)
	return err
}

func (s *Store) ListWorkerRuns(ctx context.Context, jobID string) ([]WorkerRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_run_id, job_id, worker_agent, worker_mode, task_prompt, status, attempt,
			started_at, finished_at, output, error
		 FROM orch_worker_runs WHERE job_id = ? ORDER BY started_at`, jobID)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list worker runs")
	}
	defer rows.Close()
	var out []WorkerRun
	for rows.Next() {
		var w WorkerRun
		var mode, status string
		if err := rows.Scan(&w.WorkerRunID, &w.JobID, &w.WorkerAgent, &mode, &w.TaskPrompt,
			&status, &w.Attempt, &w.StartedAt, &w.FinishedAt, &w.Output, &w.Error); err != nil {
			return nil, err
		}
		w.WorkerMode, w.Status = WorkerMode(mode), TaskStatus(status)
		out = append(out, w)
	}
	return out, rows.Err()
}

// AppendEvent appends one monotonically ordered journal event (spec §4.9 Streaming).
func (s *Store) AppendEvent(ctx context.Context, jobID, eventType, payloadJSON string) (Event, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orch_events (job_id, event_type, payload_json, created_at) VALUES (?, ?, ?, ?)`,
		jobID, eventType, payloadJSON, now)
	if err != nil {
		return Event{}, moxxyerr.WrapUpstream(err, "append event")
	}
	id, _ := res.LastInsertId()
	return Event{ID: id, JobID: jobID, EventType: eventType, Payload: payloadJSON, CreatedAt: now}, nil
}

// ListEvents returns events for a job with id > afterID, oldest first,
// capped at limit (0 = unbounded).
func (s *Store) ListEvents(ctx context.Context, jobID string, afterID int64, limit int) ([]Event, error) {
	query := `SELECT id, job_id, event_type, payload_json, created_at FROM orch_events
		WHERE job_id = ? AND id > ? ORDER BY id`
	args := []any{jobID, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list events")
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertTask persists one task-graph node.
func (s *Store) InsertTask(ctx context.Context, t Task) error {
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return err
	}
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orch_tasks (task_id, job_id, role, title, description, context, depends_on, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.JobID, t.Role, t.Title, t.Description, string(ctxJSON), string(deps), string(t.Status))
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert task")
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, jobID, taskID string, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orch_tasks SET status = ? WHERE job_id = ? AND task_id = ?`, string(status), jobID, taskID)
	return err
}

func (s *Store) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, job_id, role, title, description, context, depends_on, status
		 FROM orch_tasks WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list tasks")
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var t Task
		var ctxJSON, deps string
		if err := rows.Scan(&t.TaskID, &t.JobID, &t.Role, &t.Title, &t.Description, &ctxJSON, &deps, &t.Status); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(ctxJSON), &t.Context)
		_ = json.Unmarshal([]byte(deps), &t.DependsOn)
		out = append(out, t)
	}
	return out, rows.Err()
}
