package httpapi

import (
	"net/http"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/vault"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

func (s *Server) registerVaultRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{a}/vault", s.route(protocol.RouteVaultList, s.handleListVaultKeys))
	mux.HandleFunc("GET /api/agents/{a}/vault/{key}", s.route(protocol.RouteVaultGet, s.handleGetVaultKey))
	mux.HandleFunc("POST /api/agents/{a}/vault", s.route(protocol.RouteVaultSet, s.handleSetVaultKey))
	mux.HandleFunc("DELETE /api/agents/{a}/vault/{key}", s.route(protocol.RouteVaultDel, s.handleDeleteVaultKey))
}

func (s *Server) vaultFor(agent string) (*vault.Vault, error) {
	if _, err := s.agentStore(agent); err != nil {
		return nil, err
	}
	v, ok := s.Regs.Vault(agent)
	if !ok || v == nil {
		return nil, moxxyerr.Dependencyf("agent %q has no vault", agent)
	}
	return v, nil
}

// handleListVaultKeys lists secret keys only, never their values (spec §3
// "Secret entry" is (key, encrypted_value); the key is the only thing safe
// to hand back over the control plane).
func (s *Server) handleListVaultKeys(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	keys, err := v.ListKeys(r.Context())
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "list vault keys"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// handleGetVaultKey returns whether a key is set, not its plaintext value -
// the control plane has no business round-tripping secret material back to
// a caller that already knows it.
func (s *Server) handleGetVaultKey(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	key := r.PathValue("key")
	_, ok, err := v.Get(r.Context(), key)
	if err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "get vault key %q", key))
		return
	}
	if !ok {
		writeError(w, moxxyerr.NotFoundf("vault key %q not set", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "set": true})
}

type setVaultKeyRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSetVaultKey(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req setVaultKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == "" {
		writeError(w, moxxyerr.Validationf("key is required"))
		return
	}
	if err := v.Set(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "set vault key %q", req.Key))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": req.Key})
}

func (s *Server) handleDeleteVaultKey(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaultFor(r.PathValue("a"))
	if err != nil {
		writeError(w, err)
		return
	}
	key := r.PathValue("key")
	if err := v.Remove(r.Context(), key); err != nil {
		writeError(w, moxxyerr.WrapUpstream(err, "remove vault key %q", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": key})
}
