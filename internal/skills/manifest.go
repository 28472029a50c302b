// Package skills implements moxxy's skill catalog and sandboxed execution
// (spec §4.4): manifest loading, the native/mcp/openclaw executors, the
// catalog string injected into the system prompt, and hot install/upgrade/
// remove/modify with a compile-time privilege allowlist. Grounded on the
// teacher's internal/tools policy/registry shape, generalized from compiled-
// in Go tools to on-disk manifest.toml skills.
package skills

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// ExecutorType selects how prepare() resolves a skill for execution.
type ExecutorType string

const (
	ExecutorNative  ExecutorType = "native"
	ExecutorMCP     ExecutorType = "mcp"
	ExecutorOpenclaw ExecutorType = "openclaw"
)

// Platform restricts a manifest to a single OS, or "all".
type Platform string

const (
	PlatformAll     Platform = "all"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
)

// Manifest mirrors spec §3's skill manifest exactly. `Privileged` is never
// trusted from disk: recomputePrivilege overwrites it after every
// load using the compile-time allowlist (spec §4.4, §9 "No dev mode back
// door").
type Manifest struct {
	Name             string       `toml:"name"`
	Description      string       `toml:"description"`
	Version          string       `toml:"version"`
	ExecutorType     ExecutorType `toml:"executor_type"`
	Network          bool         `toml:"network"`
	FSRead           bool         `toml:"fs_read"`
	FSWrite          bool         `toml:"fs_write"`
	Env              bool         `toml:"env"`
	EnvKeys          []string     `toml:"env_keys"`
	Entrypoint       string       `toml:"entrypoint"`
	RunCommand       string       `toml:"run_command"`
	Platform         Platform     `toml:"platform"`
	NeedsConfirmation bool        `toml:"needs_confirmation"`
	OAuth            string       `toml:"oauth,omitempty"`
	Privileged       bool         `toml:"-"` // always recomputed, never trusted from disk

	dir string // absolute skill directory, set at load time
}

// loadManifest reads and parses manifest.toml under dir. On Windows, if a
// run.ps1 sibling exists, entrypoint/run_command are swapped to PowerShell
// (spec §4.4).
func loadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, "manifest.toml")
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, moxxyerr.Validationf("skills: parse manifest %s: %v", path, err)
	}
	m.dir = dir
	if m.Platform == "" {
		m.Platform = PlatformAll
	}

	if runtime.GOOS == "windows" {
		ps1 := filepath.Join(dir, "run.ps1")
		if _, err := os.Stat(ps1); err == nil {
			m.Entrypoint = "run.ps1"
			m.RunCommand = "powershell"
		}
	}
	return m, nil
}

// matchesPlatform reports whether this manifest should load on the current OS
// (spec invariant 4).
func (m Manifest) matchesPlatform() bool {
	if m.Platform == PlatformAll || m.Platform == "" {
		return true
	}
	switch runtime.GOOS {
	case "darwin":
		return m.Platform == PlatformMacOS
	case "windows":
		return m.Platform == PlatformWindows
	case "linux":
		return m.Platform == PlatformLinux
	default:
		return false
	}
}

func (m Manifest) save() error {
	f, err := os.Create(filepath.Join(m.dir, "manifest.toml"))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	return enc.Encode(m)
}
