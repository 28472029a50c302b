package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateMachineKeyPersists(t *testing.T) {
	dir := t.TempDir()

	key1, err := LoadOrCreateMachineKey(dir)
	require.NoError(t, err)

	key2, err := LoadOrCreateMachineKey(dir)
	require.NoError(t, err)
	require.Equal(t, key1, key2)

	data, err := os.ReadFile(filepath.Join(dir, "machine.key"))
	require.NoError(t, err)
	require.Len(t, data, 32)
}

func TestLoadOrCreateMachineKeyRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "machine.key"), []byte("too-short"), 0o600))

	_, err := LoadOrCreateMachineKey(dir)
	require.Error(t, err)
}
