package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/orchestrator"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// registerOrchestrationRoutes wires spec §6's orchestration route group,
// all scoped under /api/agents/{a}/orchestrate.
func (s *Server) registerOrchestrationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/config", s.route(protocol.RouteOrchConfigGet, s.handleGetOrchConfig))
	mux.HandleFunc("POST /api/agents/{a}/orchestrate/config", s.route(protocol.RouteOrchConfigSet, s.handleSetOrchConfig))

	mux.HandleFunc("GET /api/agents/{a}/orchestrate/templates", s.route(protocol.RouteOrchTemplatesList, s.handleListTemplates))
	mux.HandleFunc("POST /api/agents/{a}/orchestrate/templates", s.route(protocol.RouteOrchTemplateSet, s.handleCreateTemplate))
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/templates/{id}", s.route(protocol.RouteOrchTemplateGet, s.handleGetTemplate))

	mux.HandleFunc("POST /api/agents/{a}/orchestrate/jobs", s.route(protocol.RouteOrchJobsStart, s.handleStartJob))
	mux.HandleFunc("POST /api/agents/{a}/orchestrate/jobs/run", s.route(protocol.RouteOrchJobsRun, s.handleRunJobBlocking))
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/jobs/{id}", s.route(protocol.RouteOrchJobGet, s.handleGetJob))
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/jobs/{id}/workers", s.route(protocol.RouteOrchJobWorkers, s.handleListWorkerRuns))
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/jobs/{id}/events", s.route(protocol.RouteOrchJobEvents, s.handleListEvents))
	mux.HandleFunc("GET /api/agents/{a}/orchestrate/jobs/{id}/stream", s.route(protocol.RouteOrchJobStream, s.handleStreamEvents))
	mux.HandleFunc("POST /api/agents/{a}/orchestrate/jobs/{id}/cancel", s.route(protocol.RouteOrchJobCancel, s.handleCancelJob))
	mux.HandleFunc("POST /api/agents/{a}/orchestrate/jobs/{id}/actions/approve-merge", s.route(protocol.RouteOrchJobApprove, s.handleApproveMerge))
}

// orchestratorFor builds an Orchestrator scoped to agent (spec §3
// "Ownership": one Orchestrator per parent agent's handles). It is cheap to
// construct and holds no state beyond its in-flight cancellation set, so a
// fresh value per request is fine: that in-memory set does not survive
// across requests, but Cancel also persists the Canceled status and the
// dispatch goroutine's cancellation check reads it from the store.
func (s *Server) orchestratorFor(agent string) (*orchestrator.Orchestrator, error) {
	st, err := s.agentStore(agent)
	if err != nil {
		return nil, err
	}
	v, _ := s.Regs.Vault(agent)
	return orchestrator.New(s.DataDir, agent, st, v, s.Swarm, s.Config, s.Regs, s.MachineKey), nil
}

func (s *Server) handleGetOrchConfig(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, ok, err := st.GetOrchConfig(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "get orchestrator config"))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetOrchConfig(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var cfg store.OrchConfig
	if err := readJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := st.SetOrchConfig(r.Context(), cfg); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "set orchestrator config"))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	tpls, err := st.ListTemplates(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list templates"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": tpls})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var tpl store.Template
	if err := readJSON(r, &tpl); err != nil {
		writeError(w, err)
		return
	}
	if tpl.TemplateID == "" {
		writeError(w, moxxyerr.Validationf("template_id is required"))
		return
	}
	if err := st.InsertTemplate(r.Context(), tpl); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "create template"))
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	tpl, ok, err := st.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "get template"))
		return
	}
	if !ok {
		writeError(w, moxxyerr.NotFoundf("template %q not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	o, err := s.orchestratorFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req orchestrator.StartJobRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	jobID, err := o.StartJob(r.Context(), req)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "start job"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

// handleRunJobBlocking starts a job and polls the job's stored status until
// a terminal status is reached, then returns the finished job (spec §6 "POST
// /jobs/run (blocking)").
func (s *Server) handleRunJobBlocking(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := s.orchestratorFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req orchestrator.StartJobRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	jobID, err := o.StartJob(r.Context(), req)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "start job"))
		return
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			writeError(w, moxxyerr.Timeoutf("client disconnected waiting for job %q", jobID))
			return
		case <-ticker.C:
			job, ok, err := st.GetJob(r.Context(), jobID)
			if err != nil {
				writeError(w, moxxyerr.WrapUpstream(err, "poll job"))
				return
			}
			if !ok || !terminal(job.Status) {
				continue
			}
			writeJSON(w, http.StatusOK, job)
			return
		}
	}
}

func terminal(status store.JobStatus) bool {
	switch status {
	case store.JobCompleted, store.JobFailed, store.JobCanceled:
		return true
	default:
		return false
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	job, ok, err := st.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "get job"))
		return
	}
	if !ok {
		writeError(w, moxxyerr.NotFoundf("job %q not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListWorkerRuns(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := st.ListWorkerRuns(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list worker runs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": runs})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	after := parseInt64(r.URL.Query().Get("after"), 0)
	limit := parseInt64(r.URL.Query().Get("limit"), 100)
	events, err := st.ListEvents(r.Context(), r.PathValue("id"), after, int(limit))
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list events"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// handleStreamEvents serves the job's event journal as Server-Sent Events
// (spec §6 "SSE envelope": data: {"type": "...", ...}\n\n), polling the
// journal for new rows since the store has no native change feed.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	jobID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, moxxyerr.Upstreamf("streaming unsupported by this response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var after int64
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := st.ListEvents(r.Context(), jobID, after, 100)
			if err != nil {
				return
			}
			for _, ev := range events {
				payload := map[string]any{"type": ev.EventType, "event_id": ev.ID, "job_id": ev.JobID}
				var extra map[string]any
				if json.Unmarshal([]byte(ev.Payload), &extra) == nil {
					for k, v := range extra {
						payload[k] = v
					}
				}
				b, _ := json.Marshal(payload)
				fmt.Fprintf(w, "data: %s\n\n", b)
				after = ev.ID
				if ev.EventType == protocol.OrchEventDone {
					flusher.Flush()
					return
				}
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	o, err := s.orchestratorFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := o.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": r.PathValue("id")})
}

func (s *Server) handleApproveMerge(w http.ResponseWriter, r *http.Request) {
	o, err := s.orchestratorFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := o.ApproveMerge(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": r.PathValue("id")})
}
