// Package protocol defines the wire-level event and method name constants
// shared between the control plane, the reasoning loop, and the orchestrator.
package protocol

// Chat stream event types (SSE payload "type" field on /chat/stream).
const (
	ChatEventSkillInvoke = "skill_invoke"
	ChatEventSkillResult = "skill_result"
	ChatEventThinking    = "thinking"
	ChatEventResponse    = "response"
	ChatEventError       = "error"
	ChatEventDone        = "done"
)

// Agent run lifecycle events (internal bus, not all forwarded to clients).
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventSkillInvoke  = "skill.invoke"
	AgentEventSkillResult  = "skill.result"
)

// Orchestrator event types, persisted in the event journal with a monotone id
// and replayed on /jobs/{id}/events and /jobs/{id}/stream.
const (
	OrchEventQueued          = "queued"
	OrchEventStateChanged    = "state_changed"
	OrchEventWorkerStarted   = "worker_started"
	OrchEventWorkerCompleted = "worker_completed"
	OrchEventDone            = "done"
)
