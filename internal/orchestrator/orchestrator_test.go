package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = SeedDefaultTemplates(context.Background(), st)
	require.NoError(t, err)

	o := New(dir, "testagent", st, nil, nil, nil, nil, [32]byte{})
	return o, st
}

// TestCanTransitionForbidsRegression grounds invariant 11: no edge skips
// forward or moves backward outside the documented DAG.
func TestCanTransitionForbidsRegression(t *testing.T) {
	require.True(t, canTransition(store.JobQueued, store.JobPlanning))
	require.True(t, canTransition(store.JobExecuting, store.JobCompleted))
	require.True(t, canTransition(store.JobExecuting, store.JobReviewing))

	require.False(t, canTransition(store.JobCompleted, store.JobExecuting))
	require.False(t, canTransition(store.JobQueued, store.JobExecuting))
	require.False(t, canTransition(store.JobMergePending, store.JobReviewing))
	require.False(t, canTransition(store.JobCompleted, store.JobCompleted))
}

// TestStartJobFailsStructurallyOnUnknownTemplate grounds spec §4.9's
// resolution-phase requirement that a bad template fails the job rather
// than returning a Go error from StartJob.
func TestStartJobFailsStructurallyOnUnknownTemplate(t *testing.T) {
	o, st := newTestOrchestrator(t)

	jobID, err := o.StartJob(context.Background(), StartJobRequest{
		Prompt:     "do something",
		TemplateID: "does-not-exist",
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, ok, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.JobFailed, job.Status)
}

// TestStartJobFailsStructurallyOnUnknownProvider grounds spec §4.9's spawn
// profile validation: a profile naming an unconfigured provider fails the
// job without ever reaching the dispatch loop.
func TestStartJobFailsStructurallyOnUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.InsertTemplate(context.Background(), store.Template{
		TemplateID: "bad-provider",
		Name:       "Bad Provider",
		SpawnProfiles: []store.SpawnProfile{
			{Role: "worker", Provider: "nonexistent-provider"},
		},
	}))

	cfg := &config.Config{Providers: nil}
	o := New(dir, "testagent", st, nil, nil, cfg, nil, [32]byte{})
	jobID, err := o.StartJob(context.Background(), StartJobRequest{Prompt: "x", TemplateID: "bad-provider"})
	require.NoError(t, err)

	job, ok, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.JobFailed, job.Status)
}

func TestSeedDefaultTemplatesIsIdempotent(t *testing.T) {
	_, st := newTestOrchestrator(t)

	n, err := SeedDefaultTemplates(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, 0, n, "second seed call must be a no-op")

	tpls, err := st.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, tpls, 3)
}
