// Package supervisor implements the per-agent boot sequence and the
// process-wide shared-handle registries (spec §4.8). Grounded on the
// teacher's bootstrap package for the "boot one thing, wire it into a
// shared registry, move on" shape, generalized from the teacher's
// Postgres-team/channel bootstrap to moxxy's per-agent subsystem set.
package supervisor

import (
	"sync"

	"github.com/moxxy-run/moxxy/internal/container"
	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/mcpclient"
	"github.com/moxxy-run/moxxy/internal/scheduler"
	"github.com/moxxy-run/moxxy/internal/skills"
	"github.com/moxxy-run/moxxy/internal/store"
	"github.com/moxxy-run/moxxy/internal/vault"
)

// Registries are the process-wide name→handle maps spec §4.8 step 6 calls
// for: memory, skills, llm, container, vault, scheduler. Each map value is
// a shared handle (the same pointer every caller holds), not a clone - the
// teacher's "reference-counted smart pointer over an internal mutex"
// becomes, in Go, "a pointer kept alive by whoever holds the map".
type Registries struct {
	mu sync.RWMutex

	memory     map[string]*store.Store
	skillsReg  map[string]*skills.Catalog
	llmReg     map[string]*llm.Gateway
	vaultReg   map[string]*vault.Vault
	schedReg   map[string]*scheduler.Scheduler
	containers map[string]*container.AgentContainer
	mcpReg     map[string]*mcpclient.Manager
}

// NewRegistries allocates an empty set of registries.
func NewRegistries() *Registries {
	return &Registries{
		memory:     make(map[string]*store.Store),
		skillsReg:  make(map[string]*skills.Catalog),
		llmReg:     make(map[string]*llm.Gateway),
		vaultReg:   make(map[string]*vault.Vault),
		schedReg:   make(map[string]*scheduler.Scheduler),
		containers: make(map[string]*container.AgentContainer),
		mcpReg:     make(map[string]*mcpclient.Manager),
	}
}

// Insert registers one agent's subsystem handles under its name. c may be
// nil for agents running natively (no WASM container).
func (r *Registries) Insert(name string, st *store.Store, cat *skills.Catalog, gw *llm.Gateway, v *vault.Vault, sch *scheduler.Scheduler, c *container.AgentContainer, mcp *mcpclient.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[name] = st
	r.skillsReg[name] = cat
	r.llmReg[name] = gw
	r.vaultReg[name] = v
	r.schedReg[name] = sch
	r.mcpReg[name] = mcp
	if c != nil {
		r.containers[name] = c
	}
}

// Remove drops every registry entry for name (agent shutdown/delete).
func (r *Registries) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memory, name)
	delete(r.skillsReg, name)
	delete(r.llmReg, name)
	delete(r.vaultReg, name)
	delete(r.schedReg, name)
	delete(r.containers, name)
	delete(r.mcpReg, name)
}

func (r *Registries) Store(name string) (*store.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.memory[name]
	return st, ok
}

func (r *Registries) Catalog(name string) (*skills.Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.skillsReg[name]
	return c, ok
}

func (r *Registries) Gateway(name string) (*llm.Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.llmReg[name]
	return g, ok
}

func (r *Registries) Vault(name string) (*vault.Vault, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaultReg[name]
	return v, ok
}

func (r *Registries) Scheduler(name string) (*scheduler.Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedReg[name]
	return s, ok
}

func (r *Registries) Container(name string) (*container.AgentContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[name]
	return c, ok
}

// Names lists every agent name currently registered (keyed off the memory
// registry, which every booted agent always has).
func (r *Registries) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.memory))
	for n := range r.memory {
		out = append(out, n)
	}
	return out
}
