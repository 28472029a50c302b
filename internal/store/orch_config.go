package store

import (
	"context"
	"database/sql"
	"errors"
)

// OrchConfig is the agent-scoped orchestrator configuration pulled during
// job resolution (spec §4.9 "Pull agent-scoped orchestrator config").
type OrchConfig struct {
	DefaultWorkerMode WorkerMode `json:"default_worker_mode,omitempty"`
	MaxParallelism    int        `json:"max_parallelism,omitempty"`
}

func (s *Store) GetOrchConfig(ctx context.Context) (OrchConfig, bool, error) {
	var mode sql.NullString
	var maxP sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT default_worker_mode, max_parallelism FROM orch_config WHERE id = 1`).
		Scan(&mode, &maxP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OrchConfig{}, false, nil
		}
		return OrchConfig{}, false, err
	}
	return OrchConfig{DefaultWorkerMode: WorkerMode(mode.String), MaxParallelism: int(maxP.Int64)}, true, nil
}

func (s *Store) SetOrchConfig(ctx context.Context, cfg OrchConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orch_config (id, default_worker_mode, max_parallelism) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET default_worker_mode = excluded.default_worker_mode,
			max_parallelism = excluded.max_parallelism`,
		string(cfg.DefaultWorkerMode), cfg.MaxParallelism)
	return err
}
