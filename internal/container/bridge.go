package container

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/pkg/protocol"
)

// invokePattern matches an <invoke name="X">PAYLOAD</invoke> tag. Kept as
// its own copy rather than importing internal/brain's parser (the package
// boundary note above applies equally here): a skill running inside the
// guest could otherwise smuggle a second invocation back into the guest's
// own context through host_execute_skill's return value (spec §9
// injection defense).
var invokePattern = regexp.MustCompile(`(?s)<invoke name="([^"]+)">(.*?)</invoke>`)

func stripInvokeTags(s string) string {
	return invokePattern.ReplaceAllString(s, "")
}

// llmCallTimeout bounds a single host_invoke_llm call from inside the guest
// (original_source/src/core/container/wasm.rs uses the same 120s bound).
const llmCallTimeout = 120 * time.Second

// historySplitMarker is the heuristic the guest uses to separate a system
// preamble from the conversational turn in a single prompt string passed to
// host_invoke_llm, grounded on the same marker in wasm.rs.
const historySplitMarker = "--- CONVERSATION HISTORY ---"

// EventType mirrors internal/brain's stream event vocabulary (spec §6) for
// the WASM execution path, kept as its own type so internal/container has
// no dependency on internal/brain - both draw their string values from
// pkg/protocol's ChatEventX constants instead.
type EventType string

const (
	EventSkillInvoke EventType = protocol.ChatEventSkillInvoke
	EventSkillResult EventType = protocol.ChatEventSkillResult
	EventError       EventType = protocol.ChatEventError
)

// Event is one streamed notification emitted while a guest module runs.
type Event struct {
	Type      EventType
	AgentName string
	Payload   string
	At        time.Time
}

// StreamFunc receives Events as the guest executes.
type StreamFunc func(Event)

// HostBridge implements the seven host functions the WASM guest calls
// (spec §4.6). Each exported wazero function wrapper in container.go
// marshals guest memory to/from these plain-Go methods.
type HostBridge struct {
	AgentName string
	SessionID string
	Gateway   *llm.Gateway
	Catalog   *skills.Catalog
	Store     *store.Store
	Persona   string
	Stream    StreamFunc

	// responseBuf holds the last assistant-role content written via
	// WriteMemory, so the guest's second hop (host_read_response) can pull
	// it back without re-encoding it into the first call's return value.
	responseBuf string
}

func (b *HostBridge) emit(e Event) {
	if b.Stream == nil {
		return
	}
	e.AgentName = b.AgentName
	e.At = time.Now().UTC()
	b.Stream(e)
}

// InvokeLLM implements host_invoke_llm: prompt may embed a conversation
// history section after historySplitMarker, in which case the text before
// the marker becomes the system message and the text after becomes the
// user turn; otherwise the whole prompt is a single user message.
func (b *HostBridge) InvokeLLM(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	var messages []llm.Message
	if idx := strings.Index(prompt, historySplitMarker); idx >= 0 {
		system := strings.TrimSpace(prompt[:idx])
		user := strings.TrimSpace(prompt[idx+len(historySplitMarker):])
		if system != "" {
			messages = append(messages, llm.Message{Role: "system", Content: system})
		}
		messages = append(messages, llm.Message{Role: "user", Content: user})
	} else {
		messages = append(messages, llm.Message{Role: "user", Content: prompt})
	}

	return b.Gateway.GenerateActive(ctx, messages)
}

// ExecuteSkill implements host_execute_skill: runs a catalog skill, emitting
// skill_invoke/skill_result stream events, and never returns a Go error to
// the guest - failures come back as an "ERROR: ..." string so the guest's
// own reasoning loop can see and react to them.
func (b *HostBridge) ExecuteSkill(ctx context.Context, name string, args []string) string {
	b.emit(Event{Type: EventSkillInvoke, Payload: name})
	out, err := b.Catalog.Execute(ctx, name, args)
	if err != nil {
		msg := fmt.Sprintf("ERROR: %v", err)
		b.emit(Event{Type: EventSkillResult, Payload: msg})
		return msg
	}
	out = stripInvokeTags(out)
	b.emit(Event{Type: EventSkillResult, Payload: out})
	return out
}

// ReadMemory implements host_read_memory: the last `limit` short-term
// memory entries for the active session, newline-joined as "role: content".
func (b *HostBridge) ReadMemory(ctx context.Context, limit int) (string, error) {
	entries, err := b.Store.RecentSTM(ctx, b.SessionID, limit)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, e.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// WriteMemory implements host_write_memory: appends a short-term memory
// entry, capturing assistant-role content into the response buffer that
// host_read_response later returns - the guest's final-answer hand-off.
func (b *HostBridge) WriteMemory(ctx context.Context, role, content string) error {
	if _, err := b.Store.AppendSTM(ctx, b.SessionID, store.Role(role), content); err != nil {
		return err
	}
	if store.Role(role) == store.RoleAssistant {
		b.responseBuf = content
	}
	return nil
}

// GetSkillCatalog implements host_get_skill_catalog.
func (b *HostBridge) GetSkillCatalog() string {
	if b.Catalog == nil {
		return ""
	}
	return b.Catalog.CatalogString()
}

// GetPersona implements host_get_persona.
func (b *HostBridge) GetPersona() string {
	return b.Persona
}

// ReadResponse implements host_read_response: the second hop that lets the
// guest retrieve what it just wrote as its final assistant turn.
func (b *HostBridge) ReadResponse() string {
	return b.responseBuf
}
