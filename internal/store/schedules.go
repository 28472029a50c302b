package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// ScheduledJob is one cron registration (spec §3). Tagged for direct JSON
// decoding in internal/httpapi's schedule routes.
type ScheduledJob struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	Prompt    string    `json:"prompt"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) InsertScheduledJob(ctx context.Context, j ScheduledJob) error {
	j.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (name, cron, prompt, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		j.Name, j.Cron, j.Prompt, j.Source, j.CreatedAt)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert scheduled job")
	}
	return nil
}

// UpdateScheduledJob overwrites an existing job's cron/prompt/source in
// place, leaving name and created_at untouched.
func (s *Store) UpdateScheduledJob(ctx context.Context, j ScheduledJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET cron = ?, prompt = ?, source = ? WHERE name = ?`,
		j.Cron, j.Prompt, j.Source, j.Name)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "update scheduled job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return moxxyerr.WrapUpstream(err, "update scheduled job")
	}
	if n == 0 {
		return moxxyerr.NotFoundf("scheduled job %q", j.Name)
	}
	return nil
}

func (s *Store) DeleteScheduledJob(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE name = ?`, name)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "delete scheduled job")
	}
	return nil
}

func (s *Store) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, cron, prompt, source, created_at FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list scheduled jobs")
	}
	defer rows.Close()
	var out []ScheduledJob
	for rows.Next() {
		var j ScheduledJob
		if err := rows.Scan(&j.Name, &j.Cron, &j.Prompt, &j.Source, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) GetScheduledJob(ctx context.Context, name string) (ScheduledJob, bool, error) {
	var j ScheduledJob
	j.Name = name
	err := s.db.QueryRowContext(ctx, `SELECT cron, prompt, source, created_at FROM scheduled_jobs WHERE name = ?`, name).
		Scan(&j.Cron, &j.Prompt, &j.Source, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScheduledJob{}, false, nil
		}
		return ScheduledJob{}, false, moxxyerr.WrapUpstream(err, "get scheduled job")
	}
	return j, true, nil
}
