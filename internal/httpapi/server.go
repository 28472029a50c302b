// Package httpapi is the control plane's HTTP surface (spec §6): it routes
// JSON requests to the orchestrator, vault-backed token store, and agent
// registries, behind internal/authgate's Gate. Grounded on
// vanducng-goclaw/internal/gateway's Server.BuildMux (a cached
// *http.ServeMux built once, handlers registered via a RegisterRoutes-style
// method per concern) and internal/http/agents.go's writeJSON helper.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/moxxy-run/moxxy/internal/authgate"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// Server wires the control plane's HTTP routes to the runtime (spec §2
// component 10, "Control plane"). One Server serves every booted agent;
// agent-scoped routes resolve their target via Regs.
type Server struct {
	DataDir       string
	Config        *config.Config
	Regs          *supervisor.Registries
	Swarm         *store.SwarmStore
	MachineKey    [32]byte
	APIBase       string
	InternalToken string
	Gate          *authgate.Gate

	mux *http.ServeMux
}

func NewServer(dataDir string, cfg *config.Config, regs *supervisor.Registries, swarm *store.SwarmStore, machineKey [32]byte, apiBase, internalToken string, gate *authgate.Gate) *Server {
	return &Server{
		DataDir:       dataDir,
		Config:        cfg,
		Regs:          regs,
		Swarm:         swarm,
		MachineKey:    machineKey,
		APIBase:       apiBase,
		InternalToken: internalToken,
		Gate:          gate,
	}
}

// BuildMux creates and caches the HTTP mux with every route registered,
// each wrapped by the auth gate.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/providers", s.route(protocol.RouteProviders, s.handleListProviders))

	s.registerAgentRoutes(mux)
	s.registerTokenRoutes(mux)
	s.registerOrchestrationRoutes(mux)
	s.registerChatRoutes(mux)
	s.registerScheduleRoutes(mux)
	s.registerVaultRoutes(mux)
	s.registerSkillRoutes(mux)
	s.registerWebhookRoutes(mux)

	s.mux = mux
	return mux
}

// wrap applies the auth gate when one is configured; a nil Gate (e.g. in
// unit tests exercising a single handler) passes requests straight through.
func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	if s.Gate == nil {
		return h
	}
	return s.Gate.Wrap(h)
}

// route composes wrap with a structured audit-log line keyed by one of
// pkg/protocol's RouteX constants, mirroring the control-plane-wide dispatch
// log vanducng-goclaw's gateway keeps around its protocol.MethodX router
// registrations. Logged before the handler runs so a crash inside it still
// leaves an audit trail.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return s.wrap(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("httpapi.route", "route", name, "method", r.Method, "path", r.URL.Path)
		h(w, r)
	})
}

// Start binds host:port and serves until ctx is canceled, then shuts down
// gracefully with a 5-second grace period. Grounded on
// vanducng-goclaw/internal/gateway/server.go's Start(ctx).
func (s *Server) Start(ctx context.Context, host string, port int) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	slog.Info("httpapi.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return moxxyerr.WrapUpstream(err, "httpapi: serve %s", addr)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	var providers []config.ProviderDef
	if s.Config != nil {
		providers = s.Config.Snapshot().Providers
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// writeJSON mirrors vanducng-goclaw/internal/http/agents.go's helper of the
// same name exactly: set content type, write status, encode body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError surfaces err per spec §7: "every external API error becomes
// {success:false, error:...} JSON", status from moxxyerr.HTTPStatus.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, moxxyerr.HTTPStatus(err), map[string]any{"success": false, "error": err.Error()})
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return moxxyerr.Validationf("malformed request body: %v", err)
	}
	return nil
}

func (s *Server) agentStore(name string) (*store.Store, error) {
	if s.Regs == nil {
		return nil, moxxyerr.NotFoundf("agent %q not found", name)
	}
	st, ok := s.Regs.Store(name)
	if !ok {
		return nil, moxxyerr.NotFoundf("agent %q not found", name)
	}
	return st, nil
}
