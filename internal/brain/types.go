// Package brain implements the reasoning loop (spec §4.5): origin→role
// mapping, session isolation, persona+catalog+swarm+history assembly, the
// iterate-up-to-N `<invoke>` parsing loop, and final-response persistence.
// Grounded on the teacher's internal/agent.Loop shape (Run/runLoop split,
// AgentEvent stream, per-iteration message building), generalized from
// native tool-call messages to the spec's single `<invoke>` tag per turn.
package brain

import (
	"time"

	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// Origin identifies where a trigger came from (spec §4.5 step 1).
type Origin string

const (
	OriginUser      Origin = "USER"
	OriginWebUI     Origin = "WEB_UI"
	OriginMobileApp Origin = "MOBILE_APP"
	OriginLocalTUI  Origin = "LOCAL_TUI"
	OriginAssistant Origin = "ASSISTANT"
	OriginSystemCron Origin = "SYSTEM_CRON"
)

// humanOriginPrefixes covers origins named by prefix in the spec
// (TELEGRAM*, DISCORD_*) without enumerating every channel-specific value.
var humanOriginPrefixes = []string{"TELEGRAM", "DISCORD_"}

// RoleFor maps an origin to its STM speaker role (spec §4.5 step 1).
func RoleFor(o Origin) store.Role {
	switch o {
	case OriginAssistant:
		return store.RoleAssistant
	case OriginUser, OriginWebUI, OriginMobileApp, OriginLocalTUI:
		return store.RoleUser
	}
	s := string(o)
	for _, prefix := range humanOriginPrefixes {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return store.RoleUser
		}
	}
	return store.RoleSystem
}

// IsHumanInteractive reports whether o requires session continuity (spec
// §4.5 step 2: non-human origins get a fresh, disposable session).
func IsHumanInteractive(o Origin) bool {
	return RoleFor(o) == store.RoleUser
}

// EventType enumerates the stream events emitted during a run (spec §4.5,
// §6 "SSE of skill_invoke | skill_result | thinking | response | error |
// done"). Values are pkg/protocol's ChatEventX wire constants so the SSE
// "type" field and the control plane's event vocabulary never drift apart.
type EventType string

const (
	EventSkillInvoke EventType = protocol.ChatEventSkillInvoke
	EventSkillResult EventType = protocol.ChatEventSkillResult
	EventThinking    EventType = protocol.ChatEventThinking
	EventResponse    EventType = protocol.ChatEventResponse
	EventError       EventType = protocol.ChatEventError
	EventDone        EventType = protocol.ChatEventDone
)

// Event is one stream item emitted during Run.
type Event struct {
	Type      EventType `json:"type"`
	AgentName string    `json:"agent_name"`
	Payload   string    `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// StreamFunc receives events as they occur; nil means no streaming.
type StreamFunc func(Event)

// Request is the reasoning loop's input (spec §4.5: "(trigger_text, origin,
// llm, memory, skills, optional stream_channel, agent_name)").
type Request struct {
	TriggerText string
	Origin      Origin
	SessionID   string
	AgentName   string
	Stream      StreamFunc
}

// Result is the reasoning loop's output.
type Result struct {
	FinalText      string
	Iterations     int
	CircuitBroken  bool
}
