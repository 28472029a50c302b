package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdaptGeminiCoalescesLeadingSystem(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "rule one"},
		{Role: "system", Content: "rule two"},
		{Role: "user", Content: "hi"},
	}
	out := adaptGemini(in)
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)
	require.Contains(t, out[0].Content, "rule one")
	require.Contains(t, out[0].Content, "rule two")
	require.Equal(t, "user", out[1].Role)
}

func TestAdaptGeminiMidConversationSystemBecomesUser(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "extra context"},
	}
	out := adaptGemini(in)
	last := out[len(out)-1]
	require.Equal(t, "user", last.Role)
	require.Contains(t, last.Content, "[SYSTEM]")
}

func TestAdaptGeminiMapsAssistantToModel(t *testing.T) {
	in := []Message{{Role: "assistant", Content: "ok"}}
	out := adaptGemini(in)
	require.Equal(t, "model", out[0].Role)
}

func TestAdaptGeminiMergesConsecutiveSameRole(t *testing.T) {
	in := []Message{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
	}
	out := adaptGemini(in)
	require.Len(t, out, 1)
	require.Contains(t, out[0].Content, "a")
	require.Contains(t, out[0].Content, "b")
}

func TestGatewayRegisterIsIdempotent(t *testing.T) {
	g := NewGateway(nil)
	p := Provider{Def: providerDefFixture("openai")}
	g.Register(p)
	g.Register(p)
	require.Len(t, g.List(), 1)
}
