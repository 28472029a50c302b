package migrations

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAgentThenVersionIsCurrent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "memory.db")
	require.NoError(t, ApplyAgent(dsn))

	version, dirty, err := Version(dsn)
	require.NoError(t, err)
	require.False(t, dirty)
	require.GreaterOrEqual(t, version, 1)
}

func TestVersionBeforeApplyIsUnset(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "memory.db")

	version, dirty, err := Version(dsn)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, -1, version)
}
