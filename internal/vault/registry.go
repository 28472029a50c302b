package vault

import (
	"context"
	"sync"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// ReservedUniqueKeys are vault keys that may be bound to at most one agent
// process-wide (spec §3: "a bot token may be bound to at most one agent").
var ReservedUniqueKeys = map[string]bool{
	"telegram_bot_token": true,
	"discord_bot_token":  true,
	"slack_bot_token":    true,
	"whatsapp_session":   true,
}

// Registry is the process-wide name→Vault map (spec §9 "Shared handles across
// agents"), grounded on the teacher's per-subsystem registry pattern. Cross-
// agent uniqueness is enforced here at the application level, not in storage
// (spec §4.2): SetUnique iterates every other agent's vault before writing.
type Registry struct {
	mu     sync.RWMutex
	vaults map[string]*Vault
}

func NewRegistry() *Registry {
	return &Registry{vaults: make(map[string]*Vault)}
}

func (r *Registry) Register(agentName string, v *Vault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaults[agentName] = v
}

func (r *Registry) Unregister(agentName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vaults, agentName)
}

func (r *Registry) Get(agentName string) (*Vault, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[agentName]
	return v, ok
}

// SetUnique sets key=value on the named agent's vault, first rejecting the
// write if key is a reserved key that already has a (non-empty) value on a
// different agent. There remains a TOCTOU window under concurrent creates (spec §9
// Open Questions) — acceptable for a single local operator.
func (r *Registry) SetUnique(ctx context.Context, agentName, key, value string) error {
	if ReservedUniqueKeys[key] {
		r.mu.RLock()
		others := make(map[string]*Vault, len(r.vaults))
		for name, v := range r.vaults {
			if name != agentName {
				others[name] = v
			}
		}
		r.mu.RUnlock()

		for name, v := range others {
			existing, ok, err := v.Get(ctx, key)
			if err != nil {
				return err
			}
			if ok && existing != "" {
				return moxxyerr.Conflictf("vault key %q is already bound to agent %q", key, name)
			}
		}
	}

	v, ok := r.Get(agentName)
	if !ok {
		return moxxyerr.NotFoundf("agent %q has no registered vault", agentName)
	}
	return v.Set(ctx, key, value)
}
