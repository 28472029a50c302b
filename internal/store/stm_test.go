package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecentSTM(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendSTM(ctx, "sess-1", RoleUser, "hello")
	require.NoError(t, err)
	_, err = s.AppendSTM(ctx, "sess-1", RoleAssistant, "hi there")
	require.NoError(t, err)

	entries, err := s.RecentSTM(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, RoleUser, entries[0].Role)
	require.Equal(t, RoleAssistant, entries[1].Role)
}

func TestSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendSTM(ctx, "human", RoleUser, "hi")
	require.NoError(t, err)

	before, err := s.SessionEntryCount(ctx, "human")
	require.NoError(t, err)

	// A non-human origin runs in an isolated ephemeral session (invariant 2);
	// entries written there must never touch the human session's count.
	_, err = s.AppendSTM(ctx, "cron-ephemeral-1", RoleSystem, "synthetic trigger")
	require.NoError(t, err)

	after, err := s.SessionEntryCount(ctx, "human")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw, tok, err := s.CreateToken(ctx, "cli")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	ok, err := s.HasAnyToken(ctx, raw)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteToken(ctx, tok.ID))
	ok, err = s.HasAnyToken(ctx, raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVaultSecretsTableRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO vault_secrets (key, encrypted_value) VALUES (?, ?)`, "k", []byte("v"))
	require.NoError(t, err)

	var got []byte
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT encrypted_value FROM vault_secrets WHERE key = ?`, "k").Scan(&got))
	require.Equal(t, []byte("v"), got)
}
