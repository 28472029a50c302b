package llm

import "github.com/moxxy-run/moxxy/internal/config"

func providerDefFixture(id string) config.ProviderDef {
	return config.ProviderDef{
		ID:           id,
		Name:         id,
		APIFormat:    "openai",
		BaseURL:      "https://api.example.com/v1",
		DefaultModel: "test-model",
	}
}
