package llm

import (
	"context"
	"sync"

	"github.com/moxxy-run/moxxy/internal/config"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/vault"
)

const (
	vaultKeyDefaultProvider = "llm_default_provider"
	vaultKeyDefaultModel    = "llm_default_model"
)

// Gateway holds one agent's provider registry and active-provider selection
// (spec §4.3). Exclusively owned by its agent (spec §3 Ownership).
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]Provider
	vault     *vault.Vault
}

func NewGateway(v *vault.Vault) *Gateway {
	return &Gateway{providers: make(map[string]Provider), vault: v}
}

// Register installs (or replaces) a provider instance. Registering the same
// provider twice yields one active registration (invariant 15): re-registering
// under the same Def.ID simply overwrites the map entry.
func (g *Gateway) Register(p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Def.ID] = p
}

func (g *Gateway) Get(providerID string) (Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[providerID]
	return p, ok
}

func (g *Gateway) List() []Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Provider, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p)
	}
	return out
}

// SetActive persists the active provider+model selection in the vault
// (spec §4.3: "persisted in the vault under llm_default_provider,
// llm_default_model").
func (g *Gateway) SetActive(ctx context.Context, providerID, model string) error {
	if _, ok := g.Get(providerID); !ok {
		return moxxyerr.NotFoundf("llm: unknown provider %q", providerID)
	}
	if err := g.vault.Set(ctx, vaultKeyDefaultProvider, providerID); err != nil {
		return err
	}
	return g.vault.Set(ctx, vaultKeyDefaultModel, model)
}

// Active returns the persisted default provider/model, ok=false if none set.
func (g *Gateway) Active(ctx context.Context) (providerID, model string, ok bool, err error) {
	providerID, ok, err = g.vault.Get(ctx, vaultKeyDefaultProvider)
	if err != nil || !ok {
		return "", "", false, err
	}
	model, _, err = g.vault.Get(ctx, vaultKeyDefaultModel)
	if err != nil {
		return "", "", false, err
	}
	return providerID, model, true, nil
}

// Generate adapts messages to the provider's api_format and calls it
// (spec §4.3 generate()).
func (g *Gateway) Generate(ctx context.Context, providerID, model string, messages []Message) (string, error) {
	p, ok := g.Get(providerID)
	if !ok {
		return "", moxxyerr.NotFoundf("llm: unknown provider %q", providerID)
	}
	if model == "" {
		model = p.Def.DefaultModel
	}

	format := APIFormat(p.Def.APIFormat)
	adapted := Adapt(format, messages)

	switch format {
	case FormatGemini:
		return callGeminiShape(ctx, p, model, adapted)
	default:
		return callOpenAIShape(ctx, p, model, adapted)
	}
}

// GenerateActive is a convenience wrapper calling Generate against the
// persisted active provider/model.
func (g *Gateway) GenerateActive(ctx context.Context, messages []Message) (string, error) {
	providerID, model, ok, err := g.Active(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", moxxyerr.Dependencyf("llm: no active provider configured")
	}
	return g.Generate(ctx, providerID, model, messages)
}

// FromDef constructs a Provider instance from a definition plus its vault-
// resolved secret (spec §4.3: "constructed from a definition plus the secret
// resolved from the vault").
func FromDef(ctx context.Context, def config.ProviderDef, v *vault.Vault) (Provider, error) {
	key, ok, err := v.Get(ctx, def.Auth.VaultKey)
	if err != nil {
		return Provider{}, err
	}
	if !ok {
		return Provider{}, moxxyerr.Dependencyf("llm: missing vault key %q for provider %q", def.Auth.VaultKey, def.ID)
	}
	return Provider{Def: def, APIKey: key}, nil
}
