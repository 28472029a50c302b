package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moxxy-run/moxxy/internal/authgate"
	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/httpapi"
	"github.com/moxxy-run/moxxy/internal/orchestrator"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/supervisor"
	"github.com/moxxy-run/moxxy/internal/vault"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the moxxy control plane (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe follows spec §4.8's boot sequence for the "default" agent plus
// any agents already present on disk, then starts the HTTP control plane.
// Grounded on vanducng-goclaw/cmd/gateway.go's runGateway: load config,
// build core components, start, wait for SIGINT/SIGTERM, shut down.
func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("serve: create data dir %s: %w", dir, err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	if err := cfg.Save(); err != nil {
		slog.Warn("serve.config_save_failed", "error", err)
	}

	machineKey, err := vault.LoadOrCreateMachineKey(dir)
	if err != nil {
		return fmt.Errorf("serve: load machine key: %w", err)
	}

	swarm, err := store.OpenSwarm(filepath.Join(dir, "swarm.db"))
	if err != nil {
		return fmt.Errorf("serve: open swarm store: %w", err)
	}

	internalToken, err := loadOrCreateInternalToken(dir)
	if err != nil {
		return fmt.Errorf("serve: load internal token: %w", err)
	}

	snapshot := cfg.Snapshot()
	apiBase := fmt.Sprintf("http://%s:%d", loopbackHost(snapshot.Gateway.Host), snapshot.Gateway.Port)

	regs := supervisor.NewRegistries()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentNames, err := discoverAgents(dir)
	if err != nil {
		return fmt.Errorf("serve: discover agents: %w", err)
	}
	if len(agentNames) == 0 {
		agentNames = []string{"default"}
	}
	for _, name := range agentNames {
		agent, err := supervisor.Boot(ctx, dir, name, cfg, swarm, machineKey, regs, apiBase, internalToken)
		if err != nil {
			return fmt.Errorf("serve: boot agent %q: %w", name, err)
		}
		seeded, err := orchestrator.SeedDefaultTemplates(ctx, agent.Store)
		if err != nil {
			slog.Warn("serve.seed_templates_failed", "agent", name, "error", err)
		} else if seeded > 0 {
			slog.Info("serve.seeded_default_templates", "agent", name, "count", seeded)
		}
	}

	gate := authgate.New(regs, internalToken, authgate.IsLoopbackAddr(snapshot.Gateway.Host))
	srv := httpapi.NewServer(dir, cfg, regs, swarm, machineKey, apiBase, internalToken, gate)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("serve.shutdown_initiated", "signal", sig)
		cancel()
	}()

	slog.Info("moxxyd serving", "version", Version, "agents", agentNames, "addr", apiBase)
	return srv.Start(ctx, snapshot.Gateway.Host, snapshot.Gateway.Port)
}

// discoverAgents lists <dataDir>/agents/* so a restart re-boots every agent
// that was previously created, not just "default".
func discoverAgents(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "agents"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// loopbackHost normalizes an empty/wildcard bind host to 127.0.0.1 for
// constructing the loopback API base skills call back into (spec §3 native
// executor: "a loopback MOXXY_API_BASE").
func loopbackHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// loadOrCreateInternalToken persists a random internal-bypass token
// alongside the machine key, so skill subprocesses (spec §4.4 native
// executor) and the control plane agree on the same value across restarts.
func loadOrCreateInternalToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "internal.token")
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
