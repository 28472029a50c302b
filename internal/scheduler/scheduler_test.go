package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/store"
)

func newTestScheduler(t *testing.T, reentry ReentryFunc) (*Scheduler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New("testagent", st, reentry), st
}

// TestRegisterRejectsInvalidCronWithoutTouchingPersistence grounds invariant
// 12: an invalid cron expression leaves persistence unchanged.
func TestRegisterRejectsInvalidCronWithoutTouchingPersistence(t *testing.T) {
	s, st := newTestScheduler(t, nil)

	err := s.Register(context.Background(), "bad", "not a cron", "do something", "api")
	require.Error(t, err)

	jobs, err := st.ListScheduledJobs(context.Background())
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Equal(t, 0, s.ActiveCount())
}

func TestRegisterPersistsValidJob(t *testing.T) {
	s, st := newTestScheduler(t, nil)

	require.NoError(t, s.Register(context.Background(), "daily", "0 9 * * *", "say good morning", "api"))

	jobs, err := st.ListScheduledJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "daily", jobs[0].Name)
	require.Equal(t, 1, s.ActiveCount())
}

// TestDeleteRemovesFromBothPersistenceAndRuntime grounds invariant 13 and
// scenario E6's companion direction.
func TestDeleteRemovesFromBothPersistenceAndRuntime(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	require.NoError(t, s.Register(context.Background(), "daily", "0 9 * * *", "morning", "api"))

	require.NoError(t, s.Delete(context.Background(), "daily"))

	jobs, err := st.ListScheduledJobs(context.Background())
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Equal(t, 0, s.ActiveCount())
}

func TestUpdateRejectsInvalidCronLeavingOriginalIntact(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	require.NoError(t, s.Register(context.Background(), "daily", "0 9 * * *", "morning", "api"))

	err := s.Update(context.Background(), "daily", "garbage", "evening", "api")
	require.Error(t, err)

	jobs, err := st.ListScheduledJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "0 9 * * *", jobs[0].Cron)
}

func TestLoadAllReRegistersPersistedJobs(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.InsertScheduledJob(context.Background(), store.ScheduledJob{
		Name: "daily", Cron: "0 9 * * *", Prompt: "morning", Source: "api",
	}))

	s := New("testagent", st, nil)
	require.NoError(t, s.LoadAll(context.Background()))
	require.Equal(t, 1, s.ActiveCount())
}

func TestFireDueInvokesReentryAtMostOncePerMinute(t *testing.T) {
	var calls int32
	s, _ := newTestScheduler(t, func(ctx context.Context, prompt, source string) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, s.Register(context.Background(), "every-minute", "* * * * *", "tick", "cron"))

	now := time.Now().Truncate(time.Minute)
	s.fireDue(context.Background(), now)
	s.fireDue(context.Background(), now.Add(15*time.Second))
	s.fireDue(context.Background(), now.Add(30*time.Second))

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
