package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/store"
)

func TestBootCreatesAgentDirectoriesAndRegistries(t *testing.T) {
	dataDir := t.TempDir()
	swarm, err := store.OpenSwarm(filepath.Join(dataDir, "swarm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = swarm.Close() })

	cfg, err := config.Load(dataDir)
	require.NoError(t, err)

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	regs := NewRegistries()

	agent, err := Boot(context.Background(), dataDir, "default", cfg, swarm, machineKey, regs, "http://127.0.0.1:7890", "internal-token")
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(regs) })

	require.DirExists(t, filepath.Join(dataDir, "agents", "default", "skills"))
	require.DirExists(t, filepath.Join(dataDir, "agents", "default", "workspace"))

	_, ok := regs.Store("default")
	require.True(t, ok)
	_, ok = regs.Catalog("default")
	require.True(t, ok)
	_, ok = regs.Gateway("default")
	require.True(t, ok)
	_, ok = regs.Vault("default")
	require.True(t, ok)
	_, ok = regs.Scheduler("default")
	require.True(t, ok)
	require.Contains(t, regs.Names(), "default")

	require.Equal(t, "default", agent.Loop.AgentName)
}

func TestShutdownRemovesAgentFromRegistries(t *testing.T) {
	dataDir := t.TempDir()
	swarm, err := store.OpenSwarm(filepath.Join(dataDir, "swarm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = swarm.Close() })

	cfg, err := config.Load(dataDir)
	require.NoError(t, err)

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	regs := NewRegistries()

	agent, err := Boot(context.Background(), dataDir, "helper", cfg, swarm, machineKey, regs, "http://127.0.0.1:7890", "internal-token")
	require.NoError(t, err)

	require.NoError(t, agent.Shutdown(regs))
	_, ok := regs.Store("helper")
	require.False(t, ok)
}

func TestBootPicksUpExistingContainerConfig(t *testing.T) {
	dataDir := t.TempDir()
	agentDir := filepath.Join(dataDir, "agents", "sandboxed")
	require.NoError(t, os.MkdirAll(agentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "container.toml"), []byte(`
[runtime]
type = "wasm"
image = "base"

[capabilities]
filesystem = ["./workspace"]
`), 0o644))

	swarm, err := store.OpenSwarm(filepath.Join(dataDir, "swarm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = swarm.Close() })

	cfg, err := config.Load(dataDir)
	require.NoError(t, err)

	var machineKey [32]byte
	copy(machineKey[:], "test-machine-key-32-bytes-long!!")
	regs := NewRegistries()

	agent, err := Boot(context.Background(), dataDir, "sandboxed", cfg, swarm, machineKey, regs, "http://127.0.0.1:7890", "internal-token")
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(regs) })

	require.NotNil(t, agent.Container)
	_, ok := regs.Container("sandboxed")
	require.True(t, ok)
}
