package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileMeansNative(t *testing.T) {
	dir := t.TempDir()
	cfg, found, err := LoadConfig(dir)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, Config{}, cfg)
}

// TestLoadConfigStripsDisallowedFilesystemEntries grounds invariant 14 /
// scenario E7: every entry other than "workspace" is silently dropped, and
// duplicate/variant spellings of "workspace" all normalize to one entry.
func TestLoadConfigStripsDisallowedFilesystemEntries(t *testing.T) {
	dir := t.TempDir()
	toml := `
[runtime]
type = "wasm"
image = "base"

[capabilities]
filesystem = ["./workspace", "../escape", "/etc/passwd", "./skills", "workspace/"]
network = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.toml"), []byte(toml), 0o644))

	cfg, found, err := LoadConfig(dir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, RuntimeWASM, cfg.RuntimeSection.Type)
	require.True(t, cfg.Capabilities.Network)
	for _, e := range cfg.Capabilities.Filesystem {
		require.Equal(t, "workspace", e)
	}
}

// TestLoadConfigEnsuresWorkspaceWhenAllEntriesStripped grounds the same
// invariant's other half: an all-disallowed list still yields ["workspace"],
// never an empty mount set.
func TestLoadConfigEnsuresWorkspaceWhenAllEntriesStripped(t *testing.T) {
	dir := t.TempDir()
	toml := `
[runtime]
type = "wasm"

[capabilities]
filesystem = ["../escape", "/root"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "container.toml"), []byte(toml), 0o644))

	cfg, found, err := LoadConfig(dir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"workspace"}, cfg.Capabilities.Filesystem)
}

func TestResolveLimitsProfileDefaults(t *testing.T) {
	base := Config{RuntimeSection: Runtime{Image: "base"}}
	require.Equal(t, ProfileLimits{Network: false, MaxMemoryMB: 128}, resolveLimits(base))

	networked := Config{RuntimeSection: Runtime{Image: "networked"}}
	require.Equal(t, ProfileLimits{Network: true, MaxMemoryMB: 256}, resolveLimits(networked))

	full := Config{RuntimeSection: Runtime{Image: "full"}}
	require.Equal(t, ProfileLimits{Network: true, MaxMemoryMB: 0}, resolveLimits(full))
}

func TestResolveLimitsExplicitCapabilityOverridesProfile(t *testing.T) {
	cfg := Config{
		RuntimeSection: Runtime{Image: "base"},
		Capabilities:   Capabilities{MaxMemoryMB: 512, Network: true},
	}
	limits := resolveLimits(cfg)
	require.Equal(t, uint64(512), limits.MaxMemoryMB)
	require.True(t, limits.Network)
}

func TestImagePathResolvesBundledProfiles(t *testing.T) {
	require.Equal(t, filepath.Join("/images", "base.wasm"), imagePath("base", "/images"))
	require.Equal(t, filepath.Join("/images", "full.wasm"), imagePath("full", "/images"))
	require.Equal(t, "/custom/path.wasm", imagePath("/custom/path.wasm", "/images"))
}
