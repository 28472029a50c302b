package httpapi

import (
	"net/http"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// registerWebhookRoutes wires the webhook registration CRUD (spec §3, §6
// "GET/POST/DELETE /api/agents/{a}/webhooks[/{name}]", PATCH to toggle).
// Mirrors registerScheduleRoutes: webhooks live in the same per-agent store
// as scheduled jobs, so there is no separate registry lookup beyond
// agentStore.
func (s *Server) registerWebhookRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/webhooks", s.route(protocol.RouteWebhooksList, s.handleListWebhooks))
	mux.HandleFunc("POST /api/agents/{a}/webhooks", s.route(protocol.RouteWebhookCreate, s.handleCreateWebhook))
	mux.HandleFunc("DELETE /api/agents/{a}/webhooks/{name}", s.route(protocol.RouteWebhookDelete, s.handleDeleteWebhook))
	mux.HandleFunc("PATCH /api/agents/{a}/webhooks/{name}", s.route(protocol.RouteWebhookToggle, s.handleToggleWebhook))
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	hooks, err := st.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list webhooks"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

type createWebhookRequest struct {
	Name           string `json:"name"`
	Source         string `json:"source"`
	Secret         string `json:"secret"`
	PromptTemplate string `json:"prompt_template"`
	Active         bool   `json:"active"`
}

// handleCreateWebhook registers a new webhook (spec §3 "source is globally
// unique"). A source already registered to another webhook is rejected
// before anything is persisted.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req createWebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.Source == "" {
		writeError(w, moxxyerr.Validationf("name and source are required"))
		return
	}
	if existing, ok, err := st.FindWebhookBySource(r.Context(), req.Source); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "lookup webhook source %q", req.Source))
		return
	} else if ok && existing.Name != req.Name {
		writeError(w, moxxyerr.Conflictf("source %q is already registered to webhook %q", req.Source, existing.Name))
		return
	}
	hook := store.Webhook{
		Name:           req.Name,
		Source:         req.Source,
		Secret:         req.Secret,
		PromptTemplate: req.PromptTemplate,
		Active:         req.Active,
	}
	if err := st.InsertWebhook(r.Context(), hook); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "insert webhook %q", req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.PathValue("name")
	if err := st.DeleteWebhook(r.Context(), name); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "delete webhook %q", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

type toggleWebhookRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleToggleWebhook(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req toggleWebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := r.PathValue("name")
	if err := st.SetWebhookActive(r.Context(), name, req.Active); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "set webhook %q active=%v", name, req.Active))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "active": req.Active})
}
