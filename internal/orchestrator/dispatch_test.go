package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/internal/vault"
)

// newNativeTestAgent registers a native worker in regs whose gateway talks
// to srv, mirroring brain.newTestLoop's setup.
func newNativeTestAgent(t *testing.T, regs *supervisor.Registries, name string, srv *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	v := vault.New(st, machineKey)
	require.NoError(t, v.Init(context.Background()))

	gw := llm.NewGateway(v)
	gw.Register(llm.Provider{Def: config.ProviderDef{ID: "test", APIFormat: "openai", BaseURL: srv.URL}})
	require.NoError(t, gw.SetActive(context.Background(), "test", "test-model"))

	catalog := skills.NewCatalog(dir, nil, nil)
	regs.Insert(name, st, catalog, gw, v, nil, nil, nil)
}

func scriptedReplyServer(t *testing.T, reply string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		resp := map[string]any{"choices": []map[string]any{{"message": map[string]any{"content": reply}}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

// TestRunStructuredNeverUnlocksDependentOfFailedTask grounds invariant 9: a
// failed task's dependents never become ready, even once the dispatch loop
// has nothing left to run. The builder's native agent is never registered
// in regs, so runNativeWorker fails structurally (spec §4.9 "agent not
// booted") without any LLM round trip.
func TestRunStructuredNeverUnlocksDependentOfFailedTask(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	checkerCalls := int32(0)
	checkerSrv := scriptedReplyServer(t, "all good", &checkerCalls)
	defer checkerSrv.Close()

	regs := supervisor.NewRegistries()
	newNativeTestAgent(t, regs, "checker-agent", checkerSrv)

	o := New(dir, "parent", st, nil, nil, nil, regs, [32]byte{})

	jobID := "job-inv9"
	require.NoError(t, st.InsertJob(context.Background(), store.Job{JobID: jobID, AgentName: "parent", Status: store.JobExecuting, Prompt: "x"}))

	tasks := []store.Task{
		{TaskID: "t1", JobID: jobID, Role: "builder", Title: "build", Status: store.TaskPending},
		{TaskID: "t2", JobID: jobID, Role: "checker", Title: "check", DependsOn: []string{"t1"}, Status: store.TaskPending},
	}
	assignments := []WorkerAssignment{
		{Role: "builder", WorkerMode: store.WorkerModeNative, WorkerAgent: "builder-agent-never-booted"},
		{Role: "checker", WorkerMode: store.WorkerModeNative, WorkerAgent: "checker-agent"},
	}

	checkerFailedFlag := o.runStructured(context.Background(), jobID, "x", tasks, assignments, nil, false, 2)
	require.False(t, checkerFailedFlag)

	require.EqualValues(t, 0, checkerCalls, "checker depends on the failed builder task and must never run")

	stored, err := st.ListTasks(context.Background(), jobID)
	require.NoError(t, err)
	byID := map[string]store.Task{}
	for _, task := range stored {
		byID[task.TaskID] = task
	}
	require.Equal(t, store.TaskFailed, byID["t1"].Status)
	require.Equal(t, store.TaskPending, byID["t2"].Status, "never-ready task keeps its Pending status")
}

// TestRunStructuredStopsOnChecksFailed grounds invariant 10 and scenario E4:
// a checker emitting CHECKS_FAILED halts the job even when other tasks would
// otherwise still be runnable.
func TestRunStructuredStopsOnChecksFailed(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	builderCalls, checkerCalls, mergerCalls := int32(0), int32(0), int32(0)
	builderSrv := scriptedReplyServer(t, "Built src/api.rs", &builderCalls)
	defer builderSrv.Close()
	checkerSrv := scriptedReplyServer(t, "tests failed\nCHECKS_FAILED", &checkerCalls)
	defer checkerSrv.Close()
	mergerSrv := scriptedReplyServer(t, "merged", &mergerCalls)
	defer mergerSrv.Close()

	regs := supervisor.NewRegistries()
	newNativeTestAgent(t, regs, "builder-agent", builderSrv)
	newNativeTestAgent(t, regs, "checker-agent", checkerSrv)
	newNativeTestAgent(t, regs, "merger-agent", mergerSrv)

	o := New(dir, "parent", st, nil, nil, nil, regs, [32]byte{})

	jobID := "job-e4"
	require.NoError(t, st.InsertJob(context.Background(), store.Job{JobID: jobID, AgentName: "parent", Status: store.JobExecuting, Prompt: "x"}))

	tasks := []store.Task{
		{TaskID: "t1", JobID: jobID, Role: "builder", Title: "build", Status: store.TaskPending},
		{TaskID: "t2", JobID: jobID, Role: "checker", Title: "check", DependsOn: []string{"t1"}, Status: store.TaskPending},
		{TaskID: "t3", JobID: jobID, Role: "merger", Title: "merge", DependsOn: []string{"t2"}, Status: store.TaskPending},
	}
	assignments := []WorkerAssignment{
		{Role: "builder", WorkerMode: store.WorkerModeNative, WorkerAgent: "builder-agent"},
		{Role: "checker", WorkerMode: store.WorkerModeNative, WorkerAgent: "checker-agent"},
		{Role: "merger", WorkerMode: store.WorkerModeNative, WorkerAgent: "merger-agent"},
	}

	checkerFailedFlag := o.runStructured(context.Background(), jobID, "x", tasks, assignments, nil, true, 2)
	require.True(t, checkerFailedFlag)

	require.EqualValues(t, 1, builderCalls)
	require.EqualValues(t, 1, checkerCalls)
	require.EqualValues(t, 0, mergerCalls, "merger must never run once the checker gate trips")
}
