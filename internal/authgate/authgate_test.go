package authgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// TestZeroTokensLoopbackAllows grounds scenario E5's loopback-bind half:
// zero tokens anywhere, but the bind is loopback, so requests pass.
func TestZeroTokensLoopbackAllows(t *testing.T) {
	regs := supervisor.NewRegistries()
	regs.Insert("default", newTestStore(t), nil, nil, nil, nil, nil, nil)

	g := New(regs, "internal-secret", true)
	req := httptest.NewRequest("GET", "/api/agents", nil)
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestZeroTokensNonLoopbackRejects grounds scenario E5: binding to a
// non-loopback address with zero tokens configured anywhere returns 401
// with the documented body text.
func TestZeroTokensNonLoopbackRejects(t *testing.T) {
	regs := supervisor.NewRegistries()
	regs.Insert("default", newTestStore(t), nil, nil, nil, nil, nil, nil)

	g := New(regs, "internal-secret", false)
	req := httptest.NewRequest("GET", "/api/agents", nil)
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "No API tokens configured")
}

// TestCreateTokenThenBearerSucceeds completes scenario E5: after a token is
// minted, presenting it as a bearer credential on a non-loopback bind
// succeeds.
func TestCreateTokenThenBearerSucceeds(t *testing.T) {
	st := newTestStore(t)
	regs := supervisor.NewRegistries()
	regs.Insert("default", st, nil, nil, nil, nil, nil, nil)

	raw, _, err := st.CreateToken(context.Background(), "cli")
	require.NoError(t, err)

	g := New(regs, "internal-secret", false)

	req := httptest.NewRequest("GET", "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestInternalTokenHeaderBypasses grounds spec §4.10's internal-token
// bypass, used by skills making loopback calls.
func TestInternalTokenHeaderBypasses(t *testing.T) {
	regs := supervisor.NewRegistries()
	regs.Insert("default", newTestStore(t), nil, nil, nil, nil, nil, nil)

	g := New(regs, "internal-secret", false)
	req := httptest.NewRequest("GET", "/api/agents", nil)
	req.Header.Set(InternalTokenHeader, "internal-secret")
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestScopedPathRejectsOtherAgentsToken grounds invariant 8's scoped-route
// half: a token valid for one agent must not authorize a request scoped to
// a different agent's path.
func TestScopedPathRejectsOtherAgentsToken(t *testing.T) {
	stA := newTestStore(t)
	stB := newTestStore(t)
	regs := supervisor.NewRegistries()
	regs.Insert("agent-a", stA, nil, nil, nil, nil, nil, nil)
	regs.Insert("agent-b", stB, nil, nil, nil, nil, nil, nil)

	rawA, _, err := stA.CreateToken(context.Background(), "a-token")
	require.NoError(t, err)

	g := New(regs, "internal-secret", false)

	reqScoped := httptest.NewRequest("GET", "/api/agents/agent-b/tokens", nil)
	reqScoped.Header.Set("Authorization", "Bearer "+rawA)
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, reqScoped)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	reqOwn := httptest.NewRequest("GET", "/api/agents/agent-a/tokens", nil)
	reqOwn.Header.Set("Authorization", "Bearer "+rawA)
	rec2 := httptest.NewRecorder()
	g.Wrap(okHandler)(rec2, reqOwn)
	require.Equal(t, http.StatusOK, rec2.Code)
}

// TestGlobalPathAcceptsAnyAgentsToken grounds invariant 8's global-route
// half: for non-scoped paths, any registered agent's token validates.
func TestGlobalPathAcceptsAnyAgentsToken(t *testing.T) {
	stA := newTestStore(t)
	stB := newTestStore(t)
	regs := supervisor.NewRegistries()
	regs.Insert("agent-a", stA, nil, nil, nil, nil, nil, nil)
	regs.Insert("agent-b", stB, nil, nil, nil, nil, nil, nil)

	rawB, _, err := stB.CreateToken(context.Background(), "b-token")
	require.NoError(t, err)

	g := New(regs, "internal-secret", false)
	request := httptest.NewRequest("GET", "/jobs", nil)
	request.Header.Set("Authorization", "Bearer "+rawB)
	rec := httptest.NewRecorder()
	g.Wrap(okHandler)(rec, request)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScopedAgentPathParsing(t *testing.T) {
	agent, ok := scopedAgent("/api/agents/default/tokens")
	require.True(t, ok)
	require.Equal(t, "default", agent)

	_, ok = scopedAgent("/api/agents")
	require.False(t, ok)

	_, ok = scopedAgent("/jobs/abc/events")
	require.False(t, ok)
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, IsLoopbackAddr("127.0.0.1:17890"))
	require.True(t, IsLoopbackAddr("localhost:17890"))
	require.True(t, IsLoopbackAddr("[::1]:17890"))
	require.False(t, IsLoopbackAddr("0.0.0.0:17890"))
	require.False(t, IsLoopbackAddr("192.168.1.5:17890"))
}
