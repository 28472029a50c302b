package httpapi

import (
	"net/http"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/scheduler"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

func (s *Server) registerScheduleRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/schedules", s.route(protocol.RouteSchedulesList, s.handleListSchedules))
	mux.HandleFunc("POST /api/agents/{a}/schedules", s.route(protocol.RouteScheduleCreate, s.handleCreateSchedule))
	mux.HandleFunc("DELETE /api/agents/{a}/schedules/{name}", s.route(protocol.RouteScheduleDelete, s.handleDeleteSchedule))
}

func (s *Server) schedulerFor(agent string) (*scheduler.Scheduler, error) {
	if _, err := s.agentStore(agent); err != nil {
		return nil, err
	}
	sch, ok := s.Regs.Scheduler(agent)
	if !ok || sch == nil {
		return nil, moxxyerr.Dependencyf("agent %q has no scheduler", agent)
	}
	return sch, nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	st, err := s.agentStore(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := st.ListScheduledJobs(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list scheduled jobs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

type createScheduleRequest struct {
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Prompt string `json:"prompt"`
	Source string `json:"source"`
}

// handleCreateSchedule registers a new cron job (spec §4.7 step a). An
// invalid cron expression is rejected before anything is persisted
// (scenario E6, invariant 13).
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	sch, err := s.schedulerFor(name)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createScheduleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.Cron == "" {
		writeError(w, moxxyerr.Validationf("name and cron are required"))
		return
	}
	if err := sch.Register(r.Context(), req.Name, req.Cron, req.Prompt, req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := s.schedulerFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.PathValue("name")
	if err := sch.Delete(r.Context(), name); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "delete scheduled job %q", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}
