package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var key [32]byte
	copy(key[:], "test-machine-key-32-bytes-long!!")
	v := New(st, key)
	require.NoError(t, v.Init(context.Background()))
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "api_key", "sk-secret"))
	got, ok, err := v.Get(ctx, "api_key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sk-secret", got)

	require.NoError(t, v.Remove(ctx, "api_key"))
	_, ok, err = v.Get(ctx, "api_key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVaultNotInitialized(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var key [32]byte
	v := New(st, key)
	_, _, err = v.Get(context.Background(), "x")
	require.Error(t, err)
}

func TestVaultRotatePreservesValues(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Set(ctx, "k1", "v1"))
	require.NoError(t, v.Set(ctx, "k2", "v2"))

	require.NoError(t, v.Rotate(ctx))

	got1, ok, err := v.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", got1)

	got2, ok, err := v.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", got2)
}

func TestRegistryCrossAgentUniqueness(t *testing.T) {
	reg := NewRegistry()
	va, vb := newTestVault(t), newTestVault(t)
	reg.Register("agent-a", va)
	reg.Register("agent-b", vb)

	ctx := context.Background()
	require.NoError(t, reg.SetUnique(ctx, "agent-a", "telegram_bot_token", "tok-123"))

	err := reg.SetUnique(ctx, "agent-b", "telegram_bot_token", "tok-123")
	require.Error(t, err)
}
