package skills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// openclawFetchTimeout bounds the remote doc download during install.
const openclawFetchTimeout = 30 * time.Second

// openclawMaxDocBytes caps a fetched skill.md to keep catalog excerpts and
// disk usage bounded.
const openclawMaxDocBytes = 2 * 1024 * 1024

// runOpenclaw returns the skill's documentation concatenated with any
// caller-supplied args; openclaw skills have no executable body, they only
// steer the model through prose (spec §4.4 "Openclaw").
func runOpenclaw(m Manifest, args []string) (string, error) {
	doc := loadExcerpt(m.dir, 1<<20) // full doc, not the truncated catalog excerpt
	if len(args) > 0 {
		return doc + "\n\n" + strings.Join(args, "\n"), nil
	}
	return doc, nil
}

// InstallOpenclaw fetches a skill.md from docURL into workspace/skills/<name>
// and writes a generated manifest.toml beside it, rejecting loopback/private
// targets (spec §4.4 invariant 7). name must not collide with a protected
// builtin.
func InstallOpenclaw(ctx context.Context, workspace, name, docURL string) error {
	if protectedBuiltins[name] {
		return moxxyerr.Conflictf("skills: %q is a protected builtin, cannot install over it", name)
	}
	if strings.ContainsAny(name, "/\\.") || name == "" {
		return moxxyerr.Validationf("skills: invalid skill name %q", name)
	}
	if err := checkSSRF(docURL); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, openclawFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return moxxyerr.Validationf("skills: build request for %s: %v", docURL, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return moxxyerr.WrapDependency(err, "skills: fetch %s", docURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return moxxyerr.Upstreamf("skills: fetch %s: status %d", docURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, openclawMaxDocBytes+1))
	if err != nil {
		return moxxyerr.WrapUpstream(err, "skills: read %s", docURL)
	}
	if len(body) > openclawMaxDocBytes {
		return moxxyerr.Validationf("skills: %s exceeds max doc size", docURL)
	}

	dir := filepath.Join(workspace, "skills", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return moxxyerr.WrapUpstream(err, "skills: create %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.md"), body, 0o644); err != nil {
		return moxxyerr.WrapUpstream(err, "skills: write skill.md for %s", name)
	}

	m := Manifest{
		Name:         name,
		Description:  fmt.Sprintf("Installed from %s", docURL),
		Version:      "0.1.0",
		ExecutorType: ExecutorOpenclaw,
		Platform:     PlatformAll,
		dir:          dir,
	}
	return m.save()
}
