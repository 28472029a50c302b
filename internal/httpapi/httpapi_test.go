package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/authgate"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/scheduler"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/internal/vault"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	regs := supervisor.NewRegistries()
	regs.Insert("default", st, nil, nil, nil, nil, nil, nil)

	gate := authgate.New(regs, "internal-secret", true)
	srv := NewServer(dir, &config.Config{}, regs, nil, [32]byte{}, "http://127.0.0.1:17890", "internal-secret", gate)
	return srv, st
}

// TestHealthNeverGated grounds the convention that liveness checks bypass
// auth entirely, matching vanducng-goclaw's /health route.
func TestHealthNeverGated(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestLoopbackZeroTokenAllowsListAgents grounds scenario E5's loopback half
// end to end through the real mux.
func TestLoopbackZeroTokenAllowsListAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	req := httptest.NewRequest("GET", "/api/agents", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["agents"], "default")
}

// TestOrchestrateJobLifecycleThroughHTTP grounds spec §6's orchestration
// routes end to end: start a job naming an unknown template_id, read back
// its Failed status, list its events.
func TestOrchestrateJobLifecycleThroughHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	body, _ := json.Marshal(map[string]any{"prompt": "do a thing", "template_id": "bad-template-id"})
	req := httptest.NewRequest("POST", "/api/agents/default/orchestrate/jobs", bodyReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	jobID, _ := started["job_id"].(string)
	require.NotEmpty(t, jobID)

	getReq := httptest.NewRequest("GET", "/api/agents/default/orchestrate/jobs/"+jobID, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var job store.Job
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &job))
	require.Equal(t, store.JobFailed, job.Status, "unknown template_id fails the job structurally, not via a Go error")

	evReq := httptest.NewRequest("GET", "/api/agents/default/orchestrate/jobs/"+jobID+"/events", nil)
	evRec := httptest.NewRecorder()
	mux.ServeHTTP(evRec, evReq)
	require.Equal(t, http.StatusOK, evRec.Code)

	var evResp map[string]any
	require.NoError(t, json.Unmarshal(evRec.Body.Bytes(), &evResp))
	events, _ := evResp["events"].([]any)
	require.NotEmpty(t, events)
}

// TestTokenRoutesRoundTrip grounds spec §6's token CRUD routes.
func TestTokenRoutesRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	req := httptest.NewRequest("POST", "/api/agents/default/tokens", bodyReaderJSON(map[string]any{"name": "cli"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	raw, _ := created["token"].(string)
	require.NotEmpty(t, raw)

	listReq := httptest.NewRequest("GET", "/api/agents/default/tokens", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), "cli")
}

// newScriptedProvider answers successive /chat/completions calls with the
// given replies in order, mirroring internal/brain's own test helper.
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

// newChatTestServer builds a Server whose "default" agent has a live
// catalog and gateway registered, so the chat routes can actually run a
// turn end to end.
func newChatTestServer(t *testing.T, llmSrv *httptest.Server) *Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	v := vault.New(st, machineKey)
	require.NoError(t, v.Init(t.Context()))

	gw := llm.NewGateway(v)
	gw.Register(llm.Provider{Def: config.ProviderDef{
		ID:        "test",
		APIFormat: "openai",
		BaseURL:   llmSrv.URL,
	}})
	require.NoError(t, gw.SetActive(t.Context(), "test", "test-model"))

	workspace := agentWorkspace(dir, "default")
	catalog := skills.NewCatalog(workspace, nil, nil)

	regs := supervisor.NewRegistries()
	regs.Insert("default", st, catalog, gw, v, nil, nil, nil)

	gate := authgate.New(regs, "internal-secret", true)
	return NewServer(dir, &config.Config{}, regs, nil, machineKey, "http://127.0.0.1:17890", "internal-secret", gate)
}

// TestChatRunsOneTurnThroughHTTP grounds scenario E1: a single-shot chat
// request returns the reasoning loop's final response.
func TestChatRunsOneTurnThroughHTTP(t *testing.T) {
	llmSrv := newScriptedProvider(t, []string{"Hello there."})
	t.Cleanup(llmSrv.Close)
	srv := newChatTestServer(t, llmSrv)
	mux := srv.BuildMux()

	req := httptest.NewRequest("POST", "/api/agents/default/chat", bodyReaderJSON(map[string]any{"message": "hi"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
	require.Equal(t, "Hello there.", body["response"])
}

// TestChatStreamEmitsSkillInvokeThenDone grounds scenario E2: a turn that
// invokes a skill streams skill_invoke, skill_result, response, then done,
// in that order.
func TestChatStreamEmitsSkillInvokeThenDone(t *testing.T) {
	llmSrv := newScriptedProvider(t, []string{
		`<invoke name="echo">[]</invoke>`,
		"the echo skill ran.",
	})
	t.Cleanup(llmSrv.Close)
	srv := newChatTestServer(t, llmSrv)

	skillDir := filepath.Join(agentWorkspace(srv.DataDir, "default"), "skills", "echo")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "manifest.toml"), []byte(`
name = "echo"
description = "echoes a fixed reply"
executor_type = "openclaw"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "skill.md"), []byte("echoed output"), 0o644))

	catalog, _ := srv.Regs.Catalog("default")
	require.NoError(t, catalog.LoadAll())

	mux := srv.BuildMux()
	req := httptest.NewRequest("POST", "/api/agents/default/chat/stream", bodyReaderJSON(map[string]any{"message": "use echo"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	invokeIdx := strings.Index(body, `"type":"skill_invoke"`)
	resultIdx := strings.Index(body, `"type":"skill_result"`)
	responseIdx := strings.Index(body, `"type":"response"`)
	doneIdx := strings.Index(body, `"type":"done"`)
	require.True(t, invokeIdx >= 0 && resultIdx > invokeIdx && responseIdx > resultIdx && doneIdx > responseIdx,
		"expected skill_invoke, skill_result, response, done in order, got: %s", body)
}

// TestScheduleInvalidCronRollsBackCleanly grounds scenario E6 and invariant
// 13: an invalid cron expression is rejected before anything is persisted,
// and a subsequent valid registration still succeeds.
func TestScheduleInvalidCronRollsBackCleanly(t *testing.T) {
	srv, st := newTestServer(t)
	sch := scheduler.New("default", st, func(context.Context, string, string) {})
	srv.Regs.Insert("default", st, nil, nil, nil, sch, nil, nil)
	mux := srv.BuildMux()

	badReq := httptest.NewRequest("POST", "/api/agents/default/schedules",
		bodyReaderJSON(map[string]any{"name": "daily", "cron": "not-a-cron", "prompt": "say hi"}))
	badRec := httptest.NewRecorder()
	mux.ServeHTTP(badRec, badReq)
	require.Equal(t, http.StatusBadRequest, badRec.Code)

	listReq := httptest.NewRequest("GET", "/api/agents/default/schedules", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.NotContains(t, listRec.Body.String(), "daily", "a rejected cron must not reach persistence")

	goodReq := httptest.NewRequest("POST", "/api/agents/default/schedules",
		bodyReaderJSON(map[string]any{"name": "daily", "cron": "0 9 * * *", "prompt": "say hi"}))
	goodRec := httptest.NewRecorder()
	mux.ServeHTTP(goodRec, goodReq)
	require.Equal(t, http.StatusCreated, goodRec.Code)

	delReq := httptest.NewRequest("DELETE", "/api/agents/default/schedules/daily", nil)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)
}

// TestVaultRoundTripThroughHTTP grounds invariant 16: set a secret, read it
// back, delete it, read back as absent.
func TestVaultRoundTripThroughHTTP(t *testing.T) {
	srv, st := newTestServer(t)
	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	v := vault.New(st, machineKey)
	require.NoError(t, v.Init(t.Context()))
	srv.Regs.Insert("default", st, nil, nil, v, nil, nil, nil)
	mux := srv.BuildMux()

	setReq := httptest.NewRequest("POST", "/api/agents/default/vault",
		bodyReaderJSON(map[string]any{"key": "telegram_bot_token", "value": "secret-123"}))
	setRec := httptest.NewRecorder()
	mux.ServeHTTP(setRec, setReq)
	require.Equal(t, http.StatusCreated, setRec.Code)

	getReq := httptest.NewRequest("GET", "/api/agents/default/vault/telegram_bot_token", nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	require.NotContains(t, getRec.Body.String(), "secret-123", "plaintext value must never round-trip over HTTP")

	delReq := httptest.NewRequest("DELETE", "/api/agents/default/vault/telegram_bot_token", nil)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	goneReq := httptest.NewRequest("GET", "/api/agents/default/vault/telegram_bot_token", nil)
	goneRec := httptest.NewRecorder()
	mux.ServeHTTP(goneRec, goneReq)
	require.Equal(t, http.StatusNotFound, goneRec.Code)
}

// TestInstallSkillRejectsLoopbackDocURL grounds spec §4.4 invariant 7: an
// openclaw install whose doc_url resolves to loopback is rejected as SSRF.
func TestInstallSkillRejectsLoopbackDocURL(t *testing.T) {
	srv, st := newTestServer(t)
	catalog := skills.NewCatalog(agentWorkspace(srv.DataDir, "default"), nil, nil)
	srv.Regs.Insert("default", st, catalog, nil, nil, nil, nil, nil)
	mux := srv.BuildMux()

	req := httptest.NewRequest("POST", "/api/agents/default/skills",
		bodyReaderJSON(map[string]any{"name": "evil", "doc_url": "http://127.0.0.1:1/doc"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestWebhookRegistrationRoundTrip grounds spec §3's "source is globally
// unique": register, list, toggle inactive, reject a second registration
// reusing the same source, then delete.
func TestWebhookRegistrationRoundTrip(t *testing.T) {
	srv, st := newTestServer(t)
	srv.Regs.Insert("default", st, nil, nil, nil, nil, nil, nil)
	mux := srv.BuildMux()

	createReq := httptest.NewRequest("POST", "/api/agents/default/webhooks",
		bodyReaderJSON(map[string]any{"name": "github", "source": "github.com", "secret": "shh", "prompt_template": "new event: {{body}}", "active": true}))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	listReq := httptest.NewRequest("GET", "/api/agents/default/webhooks", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), "github")

	dupReq := httptest.NewRequest("POST", "/api/agents/default/webhooks",
		bodyReaderJSON(map[string]any{"name": "github-mirror", "source": "github.com", "secret": "shh2"}))
	dupRec := httptest.NewRecorder()
	mux.ServeHTTP(dupRec, dupReq)
	require.Equal(t, http.StatusConflict, dupRec.Code, "a second webhook cannot claim an already-registered source")

	toggleReq := httptest.NewRequest("PATCH", "/api/agents/default/webhooks/github",
		bodyReaderJSON(map[string]any{"active": false}))
	toggleRec := httptest.NewRecorder()
	mux.ServeHTTP(toggleRec, toggleReq)
	require.Equal(t, http.StatusOK, toggleRec.Code)

	delReq := httptest.NewRequest("DELETE", "/api/agents/default/webhooks/github", nil)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	afterReq := httptest.NewRequest("GET", "/api/agents/default/webhooks", nil)
	afterRec := httptest.NewRecorder()
	mux.ServeHTTP(afterRec, afterReq)
	require.NotContains(t, afterRec.Body.String(), "github")
}

func TestUnknownAgentReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.BuildMux()

	req := httptest.NewRequest("GET", "/api/agents/ghost/tokens", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func bodyReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func bodyReaderJSON(v any) io.Reader {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bytes.NewReader(b)
}
