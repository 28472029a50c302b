package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// defaultAgentName is protected from deletion (spec §3 Agent: "default agent
// undeletable").
const defaultAgentName = "default"

var (
	bootedMu sync.Mutex
	booted   = map[string]*supervisor.Agent{}
)

func (s *Server) registerAgentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", s.route(protocol.RouteAgentsList, s.handleListAgents))
	mux.HandleFunc("POST /api/agents", s.route(protocol.RouteAgentsCreate, s.handleCreateAgent))
	mux.HandleFunc("DELETE /api/agents/{a}", s.route(protocol.RouteAgentsDelete, s.handleDeleteAgent))
	mux.HandleFunc("POST /api/agents/{a}/restart", s.route(protocol.RouteAgentRestart, s.handleRestartAgent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.Regs != nil {
		names = s.Regs.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": names})
}

type createAgentRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TelegramToken string `json:"telegram_token"`
	RuntimeType   string `json:"runtime_type"`
	ImageProfile  string `json:"image_profile"`
}

// handleCreateAgent boots a new agent inheriting LLM defaults from the
// running config (spec §6 "inheriting LLM defaults from the first existing
// agent"; since agent_defaults is the process-wide seed here, every new
// agent already inherits it the same way the first one did).
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, moxxyerr.Validationf("name is required"))
		return
	}
	if s.Regs != nil {
		if _, ok := s.Regs.Store(req.Name); ok {
			writeError(w, moxxyerr.Conflictf("agent %q already exists", req.Name))
			return
		}
	}

	agent, err := supervisor.Boot(r.Context(), s.DataDir, req.Name, s.Config, s.Swarm, s.MachineKey, s.Regs, s.APIBase, s.InternalToken)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "boot agent %q", req.Name))
		return
	}

	bootedMu.Lock()
	booted[req.Name] = agent
	bootedMu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"name": agent.Name})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	if name == defaultAgentName {
		writeError(w, moxxyerr.Validationf("the default agent cannot be deleted"))
		return
	}
	if s.Regs == nil {
		writeError(w, moxxyerr.NotFoundf("agent %q not found", name))
		return
	}
	if _, ok := s.Regs.Store(name); !ok {
		writeError(w, moxxyerr.NotFoundf("agent %q not found", name))
		return
	}

	bootedMu.Lock()
	agent := booted[name]
	delete(booted, name)
	bootedMu.Unlock()

	if agent != nil {
		if err := agent.Shutdown(s.Regs); err != nil {
			writeError(w, moxxyerr.WrapUpstream(err, "shut down agent %q", name))
			return
		}
	} else {
		s.Regs.Remove(name)
	}
	_ = os.RemoveAll(filepath.Join(s.DataDir, "agents", name))

	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

// handleRestartAgent starts a fresh STM session for the agent (spec §6
// "start a new STM session"). The new id is recorded in current.md (spec §6
// "Persistent layout") so the next human-interactive trigger picks it up.
func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	if _, err := s.agentStore(name); err != nil {
		writeError(w, err)
		return
	}
	sessionID, err := s.newSession(name)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "restart agent %q", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID})
}

func currentSessionPath(dataDir, agent string) string {
	return filepath.Join(dataDir, "agents", agent, "current.md")
}

// agentWorkspace mirrors supervisor.Boot's agentDir: persona.md and
// current.md both live directly under it, not under the workspace/ subdir.
func agentWorkspace(dataDir, agent string) string {
	return filepath.Join(dataDir, "agents", agent)
}

func (s *Server) newSession(agent string) (string, error) {
	sessionID := uuid.NewString()
	if err := os.WriteFile(currentSessionPath(s.DataDir, agent), []byte(sessionID), 0o644); err != nil {
		return "", err
	}
	return sessionID, nil
}

// currentSession returns the agent's live STM session id, creating one on
// first use (spec §6 "Persistent layout": current.md holds it).
func (s *Server) currentSession(agent string) (string, error) {
	data, err := os.ReadFile(currentSessionPath(s.DataDir, agent))
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	return s.newSession(agent)
}

func (s *Server) registerTokenRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/tokens", s.route(protocol.RouteTokensList, s.handleListTokens))
	mux.HandleFunc("POST /api/agents/{a}/tokens", s.route(protocol.RouteTokensCreate, s.handleCreateToken))
	mux.HandleFunc("DELETE /api/agents/{a}/tokens/{id}", s.route(protocol.RouteTokensDelete, s.handleDeleteToken))
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	tokens, err := st.ListTokens(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list tokens"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

type createTokenRequest struct {
	Name string `json:"name"`
}

// handleCreateToken returns the raw token exactly once (spec §3 API token).
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req createTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	raw, tok, err := st.CreateToken(r.Context(), req.Name)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "create token"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": raw, "id": tok.ID, "name": tok.Name})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := st.DeleteToken(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "delete token"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": r.PathValue("id")})
}
