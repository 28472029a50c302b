package brain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
)

// systemRules is the fixed portion of the system prompt (spec §4.5 step 5):
// "no autonomous shell/python use; only use listed skills; be concise;
// at-most-one <invoke> tag per response; present result then stop unless
// continuing".
const systemRules = `You are an autonomous agent. Rules:
- Do not use a shell or a scripting language directly; only invoke listed skills.
- Use at most one <invoke name="skill_name">["arg1","arg2"]</invoke> tag per response.
- Be concise.
- After a skill result, present it and stop unless you still need another skill.
- To keep working across turns without a skill call, end your response with [CONTINUE].
- To broadcast a fact to other agents, prefix your final response with [ANNOUNCE].`

// Loop runs the reasoning procedure for one agent (spec §4.5). Grounded on
// the teacher's internal/agent.Loop: a thin Run wrapper around an inner
// loop, events emitted through a callback, iteration-bounded.
type Loop struct {
	AgentName   string
	Workspace   string
	Store       *store.Store
	Swarm       *store.SwarmStore
	Gateway     *llm.Gateway
	Catalog     *skills.Catalog
	Defaults    config.AgentDefaults
	MaxIterations int // 0 = use Defaults.MaxIterations
}

func (l *Loop) maxIterations() int {
	if l.MaxIterations > 0 {
		return l.MaxIterations
	}
	if l.Defaults.MaxIterations > 0 {
		return l.Defaults.MaxIterations
	}
	return 10
}

// Run executes the 10-step procedure in spec §4.5 and returns the final
// assistant text.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	emit := func(e Event) {
		if req.Stream == nil {
			return
		}
		e.AgentName = l.AgentName
		e.At = time.Now().UTC()
		req.Stream(e)
	}

	// Step 1: origin → role.
	role := RoleFor(req.Origin)

	// Step 2: non-human origins run in a fresh, disposable session so a cron
	// or webhook trigger never pollutes a human conversation's history.
	sessionID := req.SessionID
	if !IsHumanInteractive(req.Origin) {
		sessionID = fmt.Sprintf("%s:ephemeral:%d", sessionID, time.Now().UnixNano())
	}

	// Step 3: persist the trigger. Stripped of any <invoke> tag so a
	// webhook payload or other external trigger can't smuggle a skill
	// invocation into STM/long-term docs (spec §9 injection defense).
	trigger := stripInvokeTags(req.TriggerText)
	if _, err := l.Store.AppendSTM(ctx, sessionID, role, trigger); err != nil {
		return Result{}, err
	}
	if role == store.RoleUser {
		if _, err := l.Store.InsertDoc(ctx, trigger, nil); err != nil {
			return Result{}, err
		}
	}

	// Step 4: persona.
	persona := l.loadPersona()

	// Step 5-8: iterate.
	var loopContext []string
	maxIter := l.maxIterations()
	for iter := 1; iter <= maxIter; iter++ {
		messages, err := l.buildMessages(ctx, persona, sessionID, loopContext)
		if err != nil {
			return Result{}, err
		}

		reply, err := l.Gateway.GenerateActive(ctx, messages)
		if err != nil {
			// Step 6: surface LLM error as a string message and break.
			loopContext = append(loopContext, "LLM call failed: "+err.Error())
			emit(Event{Type: EventError, Payload: err.Error()})
			break
		}

		if inv, ok := parseInvoke(reply); ok {
			l.handleInvoke(ctx, inv, &loopContext, emit)
			continue
		}

		if strings.Contains(reply, "[CONTINUE]") {
			stripped := strings.TrimSpace(strings.ReplaceAll(reply, "[CONTINUE]", ""))
			emit(Event{Type: EventThinking, Payload: stripped})
			loopContext = append(loopContext, "assistant: "+stripped)
			continue
		}

		// Step 9: final response.
		final := reply
		if _, err := l.Store.AppendSTM(ctx, sessionID, store.RoleAssistant, final); err != nil {
			return Result{}, err
		}
		emit(Event{Type: EventResponse, Payload: final})
		if strings.HasPrefix(final, "[ANNOUNCE]") {
			suffix := strings.TrimSpace(strings.TrimPrefix(final, "[ANNOUNCE]"))
			if l.Swarm != nil {
				_ = l.Swarm.Publish(ctx, l.AgentName, suffix)
			}
		}
		emit(Event{Type: EventDone})
		return Result{FinalText: final, Iterations: iter}, nil
	}

	// Step 10: circuit breaker.
	breaker := "[CIRCUIT_BREAKER] exceeded " + fmt.Sprintf("%d", maxIter) + " iterations without a final response"
	if _, err := l.Store.AppendSTM(ctx, sessionID, store.RoleAssistant, breaker); err != nil {
		return Result{}, err
	}
	emit(Event{Type: EventResponse, Payload: breaker})
	emit(Event{Type: EventDone})
	return Result{FinalText: breaker, Iterations: maxIter, CircuitBroken: true}, nil
}

// handleInvoke executes step 7: resolve, run, sanitize, format, append.
func (l *Loop) handleInvoke(ctx context.Context, inv invocation, loopContext *[]string, emit func(Event)) {
	if _, ok := l.Catalog.Get(inv.Name); !ok {
		*loopContext = append(*loopContext, fmt.Sprintf("system: unknown skill %q", inv.Name))
		return
	}

	emit(Event{Type: EventSkillInvoke, Payload: inv.Name})
	output, err := l.Catalog.Execute(ctx, inv.Name, inv.Args)

	status := "success"
	result := output
	if err != nil {
		status = "error"
		result = err.Error()
	}
	result = stripInvokeTags(result)

	formatted := fmt.Sprintf("SKILL RESULT [%s] (%s): %s\nNow present the result and stop unless you still need another skill.",
		inv.Name, status, result)
	*loopContext = append(*loopContext, formatted)
	emit(Event{Type: EventSkillResult, Payload: formatted})
}

// buildMessages assembles the message list for one iteration (spec §4.5
// step 5).
func (l *Loop) buildMessages(ctx context.Context, persona, sessionID string, loopContext []string) ([]llm.Message, error) {
	var messages []llm.Message

	systemPrompt := systemRules
	if l.Catalog != nil {
		systemPrompt += "\n\nAvailable skills:\n" + l.Catalog.CatalogString()
	}
	if persona != "" {
		systemPrompt += "\n\n" + persona
	}
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})

	swarmChunks := l.Defaults.MaxSwarmChunks
	if swarmChunks <= 0 {
		swarmChunks = 10
	}
	if l.Swarm != nil {
		recent, err := l.Swarm.Recent(ctx, swarmChunks)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			messages = append(messages, llm.Message{
				Role:    "system",
				Content: fmt.Sprintf("[swarm:%s] %s", m.AgentSource, m.Content),
			})
		}
	}

	historyLimit := l.Defaults.MaxHistoryEntries
	if historyLimit <= 0 {
		historyLimit = 40
	}
	history, err := l.Store.RecentSTM(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, err
	}
	for _, e := range history {
		messages = append(messages, llm.Message{Role: string(e.Role), Content: e.Content})
	}

	for _, c := range loopContext {
		messages = append(messages, llm.Message{Role: "system", Content: c})
	}

	return messages, nil
}

func (l *Loop) loadPersona() string {
	path := filepath.Join(l.Workspace, "persona.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
