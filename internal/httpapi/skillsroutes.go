package httpapi

import (
	"net/http"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

func (s *Server) registerSkillRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/skills", s.route(protocol.RouteSkillsList, s.handleListSkills))
	mux.HandleFunc("POST /api/agents/{a}/skills", s.route(protocol.RouteSkillInstall, s.handleInstallSkill))
	mux.HandleFunc("PUT /api/agents/{a}/skills/{s}", s.route(protocol.RouteSkillUpgrade, s.handleUpgradeSkill))
	mux.HandleFunc("DELETE /api/agents/{a}/skills/{s}", s.route(protocol.RouteSkillRemove, s.handleRemoveSkill))
	mux.HandleFunc("POST /api/agents/{a}/skills/{s}/modify", s.route(protocol.RouteSkillModify, s.handleModifySkill))
}

func (s *Server) catalogFor(agent string) (*skills.Catalog, error) {
	if _, err := s.agentStore(agent); err != nil {
		return nil, err
	}
	c, ok := s.Regs.Catalog(agent)
	if !ok || c == nil {
		return nil, moxxyerr.Dependencyf("agent %q has no skill catalog", agent)
	}
	return c, nil
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalogFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": c.Names()})
}

type installSkillRequest struct {
	Name   string `json:"name"`
	DocURL string `json:"doc_url"`
}

// handleInstallSkill fetches an openclaw skill doc from doc_url and
// registers it (spec §4.4 "Openclaw", §6 "POST /api/agents/{a}/skills
// (install)"). Native/MCP skills are installed by writing files directly
// under the agent's workspace and are not reachable through this route.
func (s *Server) handleInstallSkill(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("a")
	c, err := s.catalogFor(name)
	if err != nil {
		writeError(w, err)
		return
	}
	var req installSkillRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.DocURL == "" {
		writeError(w, moxxyerr.Validationf("name and doc_url are required"))
		return
	}
	if err := skills.InstallOpenclaw(r.Context(), agentWorkspace(s.DataDir, name), req.Name, req.DocURL); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Install(req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

// handleUpgradeSkill re-fetches the doc from doc_url, overwriting the
// on-disk version, then requires the new manifest's version to be a strict
// semver increase over the installed one (spec §4.4 "Upgrade").
func (s *Server) handleUpgradeSkill(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("a")
	c, err := s.catalogFor(agent)
	if err != nil {
		writeError(w, err)
		return
	}
	skillName := r.PathValue("s")
	var req installSkillRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DocURL == "" {
		writeError(w, moxxyerr.Validationf("doc_url is required"))
		return
	}
	if err := skills.InstallOpenclaw(r.Context(), agentWorkspace(s.DataDir, agent), skillName, req.DocURL); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Upgrade(skillName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": skillName})
}

func (s *Server) handleRemoveSkill(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalogFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.PathValue("s")
	if err := c.Remove(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

type modifySkillRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleModifySkill(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalogFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.PathValue("s")
	var req modifySkillRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, moxxyerr.Validationf("path is required"))
		return
	}
	if err := c.ModifyFile(name, req.Path, []byte(req.Content)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "path": req.Path})
}
