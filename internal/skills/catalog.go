package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/moxxy-run/moxxy/internal/mcpclient"
	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// maxCatalogExcerptChars bounds how much of skill.md is injected per entry
// into the system prompt (spec §4.4 "truncated").
const maxCatalogExcerptChars = 600

// Catalog holds one agent's registered skills (spec §3 Skill manifest;
// §4.4). Exclusively owned by its agent (spec §3 Ownership).
type Catalog struct {
	mu        sync.RWMutex
	workspace string
	manifests map[string]Manifest
	excerpts  map[string]string // skill.md excerpt, cached at load time
	mcp       *mcpclient.Manager
	native    *NativeExecutor
}

func NewCatalog(workspace string, native *NativeExecutor, mcp *mcpclient.Manager) *Catalog {
	return &Catalog{
		workspace: workspace,
		manifests: make(map[string]Manifest),
		excerpts:  make(map[string]string),
		mcp:       mcp,
		native:    native,
	}
}

// LoadAll scans workspace/skills/*/manifest.toml (spec §4.4: "scans the
// workspace for manifest.toml files and loads each"). platform filters apply;
// privilege is always recomputed.
func (c *Catalog) LoadAll() error {
	skillsDir := filepath.Join(c.workspace, "skills")
	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return moxxyerr.WrapUpstream(err, "skills: read %s", skillsDir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(skillsDir, entry.Name())
		m, err := loadManifest(dir)
		if err != nil {
			continue // malformed manifest: skip, do not abort the whole load
		}
		if !m.matchesPlatform() {
			continue
		}
		m = recomputePrivilege(m)
		c.manifests[m.Name] = m
		c.excerpts[m.Name] = loadExcerpt(dir, maxCatalogExcerptChars)
	}
	return nil
}

// RegisterMCPTool registers one (server, tool) pair as a skill named
// "<server>_<tool>" (spec §4.8 step 5).
func (c *Catalog) RegisterMCPTool(server, tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := server + "_" + tool
	c.manifests[name] = Manifest{
		Name:         name,
		Description:  fmt.Sprintf("MCP tool %q on server %q", tool, server),
		ExecutorType: ExecutorMCP,
		Platform:     PlatformAll,
	}
}

// Get returns the registered manifest by name.
func (c *Catalog) Get(name string) (Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[name]
	return m, ok
}

// mcpServerForSkill resolves the server prefix of an MCP-backed skill using
// longest-prefix match against known MCP server names, avoiding ambiguity
// when one server's name prefixes another's (spec §4.4 prepare()).
func (c *Catalog) mcpServerForSkill(name string, knownServers []string) (server, tool string, ok bool) {
	best := ""
	for _, s := range knownServers {
		prefix := s + "_"
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", "", false
	}
	return strings.TrimSuffix(best, "_"), strings.TrimPrefix(name, best), true
}

// CatalogString renders the section injected verbatim into the system
// prompt (spec §4.4 "Catalog string").
func (c *Catalog) CatalogString() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	for name, m := range c.manifests {
		confirm := ""
		if m.NeedsConfirmation {
			confirm = " [REQUIRES CONFIRMATION]"
		}
		fmt.Fprintf(&sb, "### [%s] - %s%s\n", name, m.Description, confirm)
		if excerpt := c.excerpts[name]; excerpt != "" {
			sb.WriteString(excerpt)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.manifests))
	for n := range c.manifests {
		names = append(names, n)
	}
	return names
}

func loadExcerpt(dir string, maxChars int) string {
	data, err := os.ReadFile(filepath.Join(dir, "skill.md"))
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > maxChars {
		s = s[:maxChars] + "…"
	}
	return s
}
