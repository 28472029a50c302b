// Package llm is moxxy's LLM gateway: a registry of provider definitions,
// per-request message-shape adaptation, and the active-provider selection
// for one agent (spec §4.3). Hand-rolled net/http clients, grounded on the
// teacher's internal/providers/openai.go — no SDK dependency, same as the
// teacher carries none for any of its providers.
package llm

import (
	"github.com/moxxy-run/moxxy/internal/config"
)

// APIFormat selects the wire adaptation generate() applies.
type APIFormat string

const (
	FormatOpenAI APIFormat = "openai"
	FormatGemini APIFormat = "gemini"
)

// Message is the provider-agnostic shape generate() accepts (spec §4.3).
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is a constructed instance bound to one definition plus its
// resolved secret.
type Provider struct {
	Def    config.ProviderDef
	APIKey string
}
