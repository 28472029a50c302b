package brain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moxxy-run/moxxy/internal/store"
)

func TestRoleForMapsOrigins(t *testing.T) {
	require.Equal(t, store.RoleUser, RoleFor(OriginUser))
	require.Equal(t, store.RoleUser, RoleFor(Origin("TELEGRAM_DM")))
	require.Equal(t, store.RoleUser, RoleFor(Origin("DISCORD_GUILD")))
	require.Equal(t, store.RoleAssistant, RoleFor(OriginAssistant))
	require.Equal(t, store.RoleSystem, RoleFor(OriginSystemCron))
}

func TestIsHumanInteractive(t *testing.T) {
	require.True(t, IsHumanInteractive(OriginUser))
	require.False(t, IsHumanInteractive(OriginSystemCron))
	require.False(t, IsHumanInteractive(OriginAssistant))
}

func TestParseInvokeWithJSONArray(t *testing.T) {
	inv, ok := parseInvoke(`before <invoke name="file_ops">["write","/tmp/x","hi"]</invoke> after`)
	require.True(t, ok)
	require.Equal(t, "file_ops", inv.Name)
	require.Equal(t, []string{"write", "/tmp/x", "hi"}, inv.Args)
}

func TestParseInvokeFallsBackToRawPayload(t *testing.T) {
	inv, ok := parseInvoke(`<invoke name="echo">not json</invoke>`)
	require.True(t, ok)
	require.Equal(t, []string{"not json"}, inv.Args)
}

func TestParseInvokeNoneFound(t *testing.T) {
	_, ok := parseInvoke("just a normal response")
	require.False(t, ok)
}

func TestStripInvokeTagsRemovesNested(t *testing.T) {
	s := stripInvokeTags(`safe output <invoke name="shell_exec">["rm","-rf","/"]</invoke> more`)
	require.NotContains(t, s, "<invoke")
	require.Contains(t, s, "safe output")
}
