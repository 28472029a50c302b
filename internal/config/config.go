// Package config loads moxxy's root configuration and hot-reloads it on
// change, following the teacher's config.Config shape: a mutex-guarded
// struct, typed nested sections, and a ReplaceFrom swap for atomic reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FlexibleStringSlice accepts both `["a","b"]` and `[1,2]` shaped JSON arrays,
// coercing non-string elements to their string form. Kept from the teacher's
// config package verbatim in idiom: operator-authored config.json is often
// hand-edited and loosely typed.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the moxxy runtime, loaded from
// <data_dir>/config.json.
type Config struct {
	DataDir        string               `json:"-"` // resolved at load time, not persisted
	Gateway        GatewayConfig        `json:"gateway"`
	Providers      []ProviderDef        `json:"providers"`
	AgentDefaults  AgentDefaults        `json:"agent_defaults"`
	Orchestrator   OrchestratorDefaults `json:"orchestrator,omitempty"`
	Scheduler      SchedulerConfig      `json:"scheduler,omitempty"`
	mu             sync.RWMutex
}

// GatewayConfig is the control-plane HTTP bind.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ProviderDef matches spec §4.3's provider definition exactly.
type ProviderDef struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	APIFormat    string            `json:"api_format"` // "openai" | "gemini"
	BaseURL      string            `json:"base_url"`
	Auth         ProviderAuth      `json:"auth"`
	DefaultModel string            `json:"default_model"`
	Models       []string          `json:"models"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	Custom       bool              `json:"custom,omitempty"`
}

// ProviderAuth describes how the provider's secret is resolved from the vault.
type ProviderAuth struct {
	Type      string `json:"type"` // "bearer" | "query_param"
	VaultKey  string `json:"vault_key"`
	ParamName string `json:"param_name,omitempty"`
}

// AgentDefaults are applied when a new agent is created and has not
// overridden a value (spec §6 POST /api/agents inherits LLM defaults from the
// first existing agent, so these are the bootstrap-time seed only).
type AgentDefaults struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	MaxIterations    int    `json:"max_iterations"`     // default 10
	WASMMaxIterations int   `json:"wasm_max_iterations"` // default 5
	MaxHistoryEntries int   `json:"max_history_entries"` // default 40
	MaxSwarmChunks    int   `json:"max_swarm_chunks"`    // default 10
}

// OrchestratorDefaults seed §4.9's template resolution when a job omits
// template_id.
type OrchestratorDefaults struct {
	DefaultTemplateID string `json:"default_template_id,omitempty"`
}

// SchedulerConfig configures the heartbeat cadence (spec §4.7).
type SchedulerConfig struct {
	HeartbeatFirstDelaySeconds int `json:"heartbeat_first_delay_seconds,omitempty"` // default 5
	HeartbeatIntervalMinutes   int `json:"heartbeat_interval_minutes,omitempty"`    // default 30
}

func defaultConfig(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 7890},
		AgentDefaults: AgentDefaults{
			MaxIterations:     10,
			WASMMaxIterations: 5,
			MaxHistoryEntries: 40,
			MaxSwarmChunks:    10,
		},
		Scheduler: SchedulerConfig{
			HeartbeatFirstDelaySeconds: 5,
			HeartbeatIntervalMinutes:   30,
		},
	}
}

// Load reads <dataDir>/config.json, applying defaults for anything absent or
// zero. A missing file is not an error: a fresh default config is returned and
// the caller is expected to persist it on first write.
func Load(dataDir string) (*Config, error) {
	cfg := defaultConfig(dataDir)
	path := filepath.Join(dataDir, "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	loaded := defaultConfig(dataDir)
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	loaded.DataDir = dataDir
	applyZeroDefaults(loaded, cfg)
	return loaded, nil
}

// applyZeroDefaults fills zero-valued scalar fields in loaded from defaults,
// matching the teacher's "apply defaults over zero-value override" idiom
// (config.SandboxConfig.ToSandboxConfig).
func applyZeroDefaults(loaded, defaults *Config) {
	if loaded.Gateway.Host == "" {
		loaded.Gateway.Host = defaults.Gateway.Host
	}
	if loaded.Gateway.Port == 0 {
		loaded.Gateway.Port = defaults.Gateway.Port
	}
	if loaded.AgentDefaults.MaxIterations == 0 {
		loaded.AgentDefaults.MaxIterations = defaults.AgentDefaults.MaxIterations
	}
	if loaded.AgentDefaults.WASMMaxIterations == 0 {
		loaded.AgentDefaults.WASMMaxIterations = defaults.AgentDefaults.WASMMaxIterations
	}
	if loaded.AgentDefaults.MaxHistoryEntries == 0 {
		loaded.AgentDefaults.MaxHistoryEntries = defaults.AgentDefaults.MaxHistoryEntries
	}
	if loaded.AgentDefaults.MaxSwarmChunks == 0 {
		loaded.AgentDefaults.MaxSwarmChunks = defaults.AgentDefaults.MaxSwarmChunks
	}
	if loaded.Scheduler.HeartbeatFirstDelaySeconds == 0 {
		loaded.Scheduler.HeartbeatFirstDelaySeconds = defaults.Scheduler.HeartbeatFirstDelaySeconds
	}
	if loaded.Scheduler.HeartbeatIntervalMinutes == 0 {
		loaded.Scheduler.HeartbeatIntervalMinutes = defaults.Scheduler.HeartbeatIntervalMinutes
	}
}

// Save writes the config back to <DataDir>/config.json.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, "config.json"), data, 0o600)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex, so
// callers holding a *Config pointer observe a hot reload in place.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Providers = src.Providers
	c.AgentDefaults = src.AgentDefaults
	c.Orchestrator = src.Orchestrator
	c.Scheduler = src.Scheduler
}

// Snapshot returns a copy safe for the caller to read without holding c's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
