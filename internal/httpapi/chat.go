package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/moxxy-run/moxxy/internal/brain"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

func (s *Server) registerChatRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agents/{a}/chat", s.route(protocol.RouteChat, s.handleChat))
	mux.HandleFunc("POST /api/agents/{a}/chat/stream", s.route(protocol.RouteChatStream, s.handleChatStream))
}

type chatRequest struct {
	Message string `json:"message"`
}

// loopFor builds a brain.Loop scoped to agent from the booted registries,
// mirroring orchestratorFor: cheap to construct, no state beyond what the
// registries already hold, so a fresh value per request is fine.
func (s *Server) loopFor(agent string) (*brain.Loop, error) {
	st, err := s.agentStore(agent)
	if err != nil {
		return nil, err
	}
	catalog, _ := s.Regs.Catalog(agent)
	gw, _ := s.Regs.Gateway(agent)

	var defaults config.AgentDefaults
	if s.Config != nil {
		defaults = s.Config.Snapshot().AgentDefaults
	}

	return &brain.Loop{
		AgentName: agent,
		Workspace: agentWorkspace(s.DataDir, agent),
		Store:     st,
		Swarm:     s.Swarm,
		Gateway:   gw,
		Catalog:   catalog,
		Defaults:  defaults,
	}, nil
}

// handleChat runs one turn of the reasoning loop to completion and returns
// the final response (spec §6 "single-shot chat").
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	loop, err := s.loopFor(name)
	if err != nil {
		writeError(w, err)
		return
	}
	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, moxxyerr.Validationf("message is required"))
		return
	}
	sessionID, err := s.currentSession(name)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "resolve session for agent %q", name))
		return
	}

	result, err := loop.Run(r.Context(), brain.Request{
		TriggerText: req.Message,
		Origin:      brain.OriginWebUI,
		SessionID:   sessionID,
		AgentName:   name,
	})
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "run agent %q", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "response": result.FinalText})
}

// handleChatStream runs one turn and streams its events as Server-Sent
// Events (spec §6 "SSE of skill_invoke | skill_result | thinking | response
// | error | done").
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	loop, err := s.loopFor(name)
	if err != nil {
		writeError(w, err)
		return
	}
	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, moxxyerr.Validationf("message is required"))
		return
	}
	sessionID, err := s.currentSession(name)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "resolve session for agent %q", name))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, moxxyerr.Upstreamf("streaming unsupported by this response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := func(e brain.Event) {
		b, _ := json.Marshal(e)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	_, err = loop.Run(r.Context(), brain.Request{
		TriggerText: req.Message,
		Origin:      brain.OriginWebUI,
		SessionID:   sessionID,
		AgentName:   name,
		Stream:      stream,
	})
	if err != nil {
		stream(brain.Event{Type: brain.EventError, Payload: err.Error()})
		stream(brain.Event{Type: brain.EventDone})
	}
}
