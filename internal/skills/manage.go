package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	semver "github.com/coreos/go-semver/semver"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// Install registers a freshly-written manifest+entrypoint pair already
// placed under workspace/skills/<name> (spec §4.4 "Install"). Rejects
// protected-builtin collisions and path traversal in name.
func (c *Catalog) Install(name string) error {
	if err := validateSkillName(name); err != nil {
		return err
	}
	dir := filepath.Join(c.workspace, "skills", name)
	m, err := loadManifest(dir)
	if err != nil {
		return err
	}
	if m.Name != name {
		return moxxyerr.Validationf("skills: manifest name %q does not match directory %q", m.Name, name)
	}
	m = recomputePrivilege(m)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.manifests[name]; exists {
		return moxxyerr.Conflictf("skills: %q is already installed, use Upgrade", name)
	}
	c.manifests[name] = m
	c.excerpts[name] = loadExcerpt(dir, maxCatalogExcerptChars)
	return nil
}

// Upgrade replaces an installed skill's manifest with a new version already
// written to disk, requiring a strict semver increase over the installed
// version (spec §4.4 "Upgrade"). The skill's name is preserved.
func (c *Catalog) Upgrade(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.manifests[name]
	if !ok {
		return moxxyerr.NotFoundf("skills: %q is not installed", name)
	}

	dir := filepath.Join(c.workspace, "skills", name)
	next, err := loadManifest(dir)
	if err != nil {
		return err
	}
	if next.Name != name {
		return moxxyerr.Validationf("skills: upgraded manifest name %q must stay %q", next.Name, name)
	}

	oldVer, err := parseSemver(existing.Version)
	if err != nil {
		return moxxyerr.Validationf("skills: installed version %q for %q is not semver: %v", existing.Version, name, err)
	}
	newVer, err := parseSemver(next.Version)
	if err != nil {
		return moxxyerr.Validationf("skills: new version %q for %q is not semver: %v", next.Version, name, err)
	}
	if !oldVer.LessThan(*newVer) {
		return moxxyerr.Conflictf("skills: upgrade of %q requires version > %s, got %s", name, existing.Version, next.Version)
	}

	next = recomputePrivilege(next)
	c.manifests[name] = next
	c.excerpts[name] = loadExcerpt(dir, maxCatalogExcerptChars)
	return nil
}

// Remove unregisters a skill. Protected builtins can never be removed (spec
// §4.4 "Remove").
func (c *Catalog) Remove(ctx context.Context, name string) error {
	if protectedBuiltins[name] {
		return moxxyerr.Unauthorizedf("skills: %q is a protected builtin and cannot be removed", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.manifests[name]; !ok {
		return moxxyerr.NotFoundf("skills: %q is not installed", name)
	}
	delete(c.manifests, name)
	delete(c.excerpts, name)
	// MCP-backed skills have no on-disk directory; RemoveAll on a
	// nonexistent path is a no-op.
	dir := filepath.Join(c.workspace, "skills", name)
	if _, err := os.Stat(dir); err == nil {
		_ = os.RemoveAll(dir)
	}
	return nil
}

// ModifyFile overwrites one file inside an installed skill's directory,
// rejecting any relative path that escapes it (spec §4.4 "ModifyFile").
func (c *Catalog) ModifyFile(name, relPath string, content []byte) error {
	c.mu.RLock()
	_, ok := c.manifests[name]
	c.mu.RUnlock()
	if !ok {
		return moxxyerr.NotFoundf("skills: %q is not installed", name)
	}

	base := filepath.Join(c.workspace, "skills", name)
	target := filepath.Join(base, relPath)
	absBase, err := filepath.Abs(base)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "skills: resolve base dir")
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "skills: resolve target path")
	}
	if !strings.HasPrefix(absTarget, absBase+string(filepath.Separator)) && absTarget != absBase {
		return moxxyerr.Unauthorizedf("skills: path %q escapes skill directory", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0o755); err != nil {
		return moxxyerr.WrapUpstream(err, "skills: create parent dir for %s", relPath)
	}
	if err := os.WriteFile(absTarget, content, 0o644); err != nil {
		return moxxyerr.WrapUpstream(err, "skills: write %s", relPath)
	}

	// If the manifest itself was modified, reload and re-enforce privilege.
	if relPath == "manifest.toml" {
		m, err := loadManifest(base)
		if err != nil {
			return err
		}
		if m.Name != name {
			return moxxyerr.Validationf("skills: modified manifest must keep name %q, got %q", name, m.Name)
		}
		m = recomputePrivilege(m)
		c.mu.Lock()
		c.manifests[name] = m
		c.excerpts[name] = loadExcerpt(base, maxCatalogExcerptChars)
		c.mu.Unlock()
	}
	return nil
}

func validateSkillName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return moxxyerr.Validationf("skills: invalid skill name %q", name)
	}
	return nil
}

func parseSemver(v string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(v, "v"))
}
