package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, toml string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.toml"), []byte(toml), 0o644))
}

func TestLoadManifestParsesFields(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
name = "echo_tool"
description = "echoes its input"
version = "1.0.0"
executor_type = "native"
entrypoint = "run.sh"
run_command = "sh"
`)
	m, err := loadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, "echo_tool", m.Name)
	require.Equal(t, ExecutorNative, m.ExecutorType)
	require.Equal(t, PlatformAll, m.Platform) // defaulted
}

func TestRecomputePrivilegeIgnoresDiskValue(t *testing.T) {
	m := Manifest{Name: "shell_exec"}
	m.Privileged = false // as if a tampered manifest claimed non-privileged
	m = recomputePrivilege(m)
	require.True(t, m.Privileged)

	m2 := Manifest{Name: "random_skill"}
	m2.Privileged = true // as if a tampered manifest claimed privileged
	m2 = recomputePrivilege(m2)
	require.False(t, m2.Privileged)
}

func TestMatchesPlatformAll(t *testing.T) {
	m := Manifest{Platform: PlatformAll}
	require.True(t, m.matchesPlatform())
}
