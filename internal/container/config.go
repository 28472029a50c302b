// Package container implements the WASM guest runtime (spec §4.6): per-
// agent containerized reasoning loop execution via a curated host-function
// bridge, memory-limited image profiles, and capability-filtered preopened
// directories. Grounded on original_source/src/core/container/{config,wasm}.rs
// (the rust implementation this spec was distilled from), translated to
// idiomatic Go against github.com/tetratelabs/wazero — no example repo in
// the pack hosts a WASM runtime, so wazero is the pure-Go ecosystem choice
// for this concern (see DESIGN.md).
package container

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// RuntimeType selects whether an agent's reasoning loop runs natively on
// the host or inside a WASM guest (spec §4.8 step 2).
type RuntimeType string

const (
	RuntimeNative RuntimeType = "native"
	RuntimeWASM   RuntimeType = "wasm"
)

// Profile is one of the three bundled WASM images (spec §4.6).
type Profile string

const (
	ProfileBase       Profile = "base"       // no network, 128 MB
	ProfileNetworked  Profile = "networked"  // network allowed, 256 MB
	ProfileFull       Profile = "full"       // unlimited
)

// ProfileLimits describes one bundled profile's resource envelope.
type ProfileLimits struct {
	Network     bool
	MaxMemoryMB uint64 // 0 = unlimited
}

var bundledProfiles = map[Profile]ProfileLimits{
	ProfileBase:      {Network: false, MaxMemoryMB: 128},
	ProfileNetworked: {Network: true, MaxMemoryMB: 256},
	ProfileFull:      {Network: true, MaxMemoryMB: 0},
}

// Runtime is the container.toml [runtime] section.
type Runtime struct {
	Type  RuntimeType `toml:"type"`
	Image string      `toml:"image"`
}

// Capabilities is the container.toml [capabilities] section.
type Capabilities struct {
	Filesystem  []string `toml:"filesystem"`
	Network     bool     `toml:"network"`
	MaxMemoryMB uint64   `toml:"max_memory_mb"`
	EnvInherit  bool     `toml:"env_inherit"`
}

// Config is the full container.toml (spec §6 "Container config").
type Config struct {
	RuntimeSection Runtime      `toml:"runtime"`
	Capabilities   Capabilities `toml:"capabilities"`
}

// LoadConfig reads container.toml from an agent's directory; a missing file
// means "no container, run natively".
func LoadConfig(agentDir string) (Config, bool, error) {
	path := filepath.Join(agentDir, "container.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, false, nil
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, false, moxxyerr.Validationf("container: parse %s: %v", path, err)
	}
	cfg.Capabilities.Filesystem = clampFilesystem(cfg.Capabilities.Filesystem)
	return cfg, true, nil
}

// allowedFSEntries are the only preopened directory names permitted inside
// an agent's workspace: agents reach skills and memory exclusively through
// host bridge functions, never a mounted directory (original_source's
// ALLOWED_FS_ENTRIES, kept as a single-entry allowlist on the Go side too).
var allowedFSEntries = map[string]bool{"workspace": true}

// clampFilesystem strips every container.toml filesystem entry other than
// "workspace" (normalizing "./workspace" and "workspace/" to the same
// name), and re-adds "workspace" if stripping empties the list (spec §4.6,
// invariant 14, scenario E7).
func clampFilesystem(entries []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range entries {
		normalized := strings.TrimSuffix(strings.TrimPrefix(e, "./"), "/")
		if allowedFSEntries[normalized] && !seen[normalized] {
			seen[normalized] = true
			out = append(out, normalized)
		}
	}
	if len(out) == 0 {
		out = []string{"workspace"}
	}
	return out
}

// resolveLimits returns the effective memory/network envelope: an explicit
// max_memory_mb/network in capabilities wins, otherwise the named bundled
// profile's defaults apply.
func resolveLimits(cfg Config) ProfileLimits {
	limits, ok := bundledProfiles[Profile(cfg.RuntimeSection.Image)]
	if !ok {
		limits = bundledProfiles[ProfileBase]
	}
	if cfg.Capabilities.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = cfg.Capabilities.MaxMemoryMB
	}
	if cfg.Capabilities.Network {
		limits.Network = true
	}
	return limits
}

// imagePath resolves image name to the bundled WASM binary, or treats it as
// a literal path if it isn't one of the three known profile names.
func imagePath(image, imagesDir string) string {
	switch Profile(image) {
	case ProfileBase, ProfileNetworked, ProfileFull:
		return filepath.Join(imagesDir, image+".wasm")
	default:
		return image
	}
}
