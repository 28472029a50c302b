package skills

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	workspace := t.TempDir()
	c := NewCatalog(workspace, nil, nil)
	return c, workspace
}

func TestLoadAllSkipsMismatchedPlatform(t *testing.T) {
	c, workspace := newTestCatalog(t)
	dir := filepath.Join(workspace, "skills", "windows_only")
	writeManifest(t, dir, `
name = "windows_only"
description = "only runs on windows"
executor_type = "native"
entrypoint = "run.ps1"
platform = "windows"
`)

	require.NoError(t, c.LoadAll())
	_, ok := c.Get("windows_only")
	require.Equal(t, runtime.GOOS == "windows", ok)
}

func TestCatalogStringIncludesConfirmationMarker(t *testing.T) {
	c, workspace := newTestCatalog(t)
	dir := filepath.Join(workspace, "skills", "risky")
	writeManifest(t, dir, `
name = "risky"
description = "does something risky"
executor_type = "native"
entrypoint = "run.sh"
needs_confirmation = true
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skill.md"), []byte("usage notes"), 0o644))
	require.NoError(t, c.LoadAll())

	s := c.CatalogString()
	require.Contains(t, s, "[risky]")
	require.Contains(t, s, "REQUIRES CONFIRMATION")
	require.Contains(t, s, "usage notes")
}

func TestRemoveRejectsProtectedBuiltin(t *testing.T) {
	c, _ := newTestCatalog(t)
	c.manifests["file_ops"] = Manifest{Name: "file_ops", ExecutorType: ExecutorNative}
	err := c.Remove(context.Background(), "file_ops")
	require.Error(t, err)
}

func TestModifyFileRejectsPathTraversal(t *testing.T) {
	c, workspace := newTestCatalog(t)
	dir := filepath.Join(workspace, "skills", "mytool")
	writeManifest(t, dir, `
name = "mytool"
description = "demo"
executor_type = "native"
entrypoint = "run.sh"
`)
	require.NoError(t, c.Install("mytool"))

	err := c.ModifyFile("mytool", "../../../etc/passwd", []byte("x"))
	require.Error(t, err)
}

func TestUpgradeRequiresStrictSemverIncrease(t *testing.T) {
	c, workspace := newTestCatalog(t)
	dir := filepath.Join(workspace, "skills", "mytool")
	writeManifest(t, dir, `
name = "mytool"
description = "demo"
version = "1.0.0"
executor_type = "native"
entrypoint = "run.sh"
`)
	require.NoError(t, c.Install("mytool"))

	writeManifest(t, dir, `
name = "mytool"
description = "demo v1"
version = "1.0.0"
executor_type = "native"
entrypoint = "run.sh"
`)
	require.Error(t, c.Upgrade("mytool")) // same version rejected

	writeManifest(t, dir, `
name = "mytool"
description = "demo v2"
version = "1.1.0"
executor_type = "native"
entrypoint = "run.sh"
`)
	require.NoError(t, c.Upgrade("mytool"))
}
