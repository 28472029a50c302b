package brain

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
	"github.com/moxxy-run/moxxy/internal/vault"
)

// newScriptedProvider returns an httptest server that answers successive
// /chat/completions calls with the given replies in order.
func newScriptedProvider(t *testing.T, replies []string) *httptest.Server {
	t.Helper()
	var call int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&call, 1) - 1
		reply := replies[len(replies)-1]
		if int(i) < len(replies) {
			reply = replies[i]
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestLoop(t *testing.T, srv *httptest.Server) (*Loop, string) {
	t.Helper()
	workspace := t.TempDir()
	st, err := store.Open(filepath.Join(workspace, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	swarm, err := store.OpenSwarm(filepath.Join(workspace, "swarm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = swarm.Close() })

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	v := vault.New(st, machineKey)
	require.NoError(t, v.Init(context.Background()))

	gw := llm.NewGateway(v)
	gw.Register(llm.Provider{Def: config.ProviderDef{
		ID:        "test",
		APIFormat: "openai",
		BaseURL:   srv.URL,
	}})
	require.NoError(t, gw.SetActive(context.Background(), "test", "test-model"))

	catalog := skills.NewCatalog(workspace, nil, nil)

	return &Loop{
		AgentName: "testagent",
		Workspace: workspace,
		Store:     st,
		Swarm:     swarm,
		Gateway:   gw,
		Catalog:   catalog,
		Defaults:  config.AgentDefaults{MaxIterations: 10, MaxHistoryEntries: 40, MaxSwarmChunks: 10},
	}, workspace
}

func TestRunPersistsOneFinalAssistantEntry(t *testing.T) {
	srv := newScriptedProvider(t, []string{"Hello there."})
	defer srv.Close()
	loop, _ := newTestLoop(t, srv)

	res, err := loop.Run(context.Background(), Request{
		TriggerText: "hi",
		Origin:      OriginUser,
		SessionID:   "sess-1",
	})
	require.NoError(t, err)
	require.Equal(t, "Hello there.", res.FinalText)

	entries, err := loop.Store.RecentSTM(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2) // user trigger + one final assistant entry
	require.Equal(t, store.RoleAssistant, entries[1].Role)
}

func TestRunContinueThenFinal(t *testing.T) {
	srv := newScriptedProvider(t, []string{"thinking... [CONTINUE]", "Final answer."})
	defer srv.Close()
	loop, _ := newTestLoop(t, srv)

	res, err := loop.Run(context.Background(), Request{
		TriggerText: "go",
		Origin:      OriginUser,
		SessionID:   "sess-2",
	})
	require.NoError(t, err)
	require.Equal(t, "Final answer.", res.FinalText)

	entries, err := loop.Store.RecentSTM(context.Background(), "sess-2", 10)
	require.NoError(t, err)
	// Only the trigger and the single final assistant entry are persisted;
	// the [CONTINUE] turn never hits STM.
	require.Len(t, entries, 2)
}

func TestRunCircuitBreakerOnIterationExhaustion(t *testing.T) {
	srv := newScriptedProvider(t, []string{"still going [CONTINUE]"})
	defer srv.Close()
	loop, _ := newTestLoop(t, srv)
	loop.MaxIterations = 2

	res, err := loop.Run(context.Background(), Request{
		TriggerText: "loop forever",
		Origin:      OriginUser,
		SessionID:   "sess-3",
	})
	require.NoError(t, err)
	require.True(t, res.CircuitBroken)
	require.Contains(t, res.FinalText, "[CIRCUIT_BREAKER]")
}

func TestRunAnnouncePublishesToSwarm(t *testing.T) {
	srv := newScriptedProvider(t, []string{"[ANNOUNCE] the sky is blue"})
	defer srv.Close()
	loop, _ := newTestLoop(t, srv)

	_, err := loop.Run(context.Background(), Request{
		TriggerText: "note this",
		Origin:      OriginUser,
		SessionID:   "sess-4",
	})
	require.NoError(t, err)

	msgs, err := loop.Swarm.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "the sky is blue", msgs[0].Content)
}

func TestRunNonHumanOriginUsesIsolatedSession(t *testing.T) {
	srv := newScriptedProvider(t, []string{"cron tick handled"})
	defer srv.Close()
	loop, _ := newTestLoop(t, srv)

	before, err := loop.Store.SessionEntryCount(context.Background(), "sess-5")
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), Request{
		TriggerText: "cron fired",
		Origin:      OriginSystemCron,
		SessionID:   "sess-5",
	})
	require.NoError(t, err)

	after, err := loop.Store.SessionEntryCount(context.Background(), "sess-5")
	require.NoError(t, err)
	require.Equal(t, before, after) // the cron run never touched the named session
}
