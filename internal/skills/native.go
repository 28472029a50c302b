package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/vault"
)

// argMaxInline is the threshold under which args are also passed on the
// command line for convenience, in addition to stdin (spec §4.4).
const argMaxInline = 100 * 1024

// defaultNativeTimeout bounds a native skill invocation so a hung child
// process cannot stall the reasoning loop forever.
const defaultNativeTimeout = 60 * time.Second

// NativeExecutor runs on-disk entrypoints under the configured shell (spec
// §4.4 "Native"). Grounded on the teacher's internal/tools/exec.go
// subprocess-invocation shape.
type NativeExecutor struct {
	agentName   string
	apiBase     string
	internalTok string
	vault       *vault.Vault
}

func NewNativeExecutor(agentName, apiBase, internalToken string, v *vault.Vault) *NativeExecutor {
	return &NativeExecutor{agentName: agentName, apiBase: apiBase, internalTok: internalToken, vault: v}
}

// Run executes m's entrypoint with args. Args are always passed via stdin as
// a JSON array (MOXXY_ARGS_MODE=stdin), bypassing ARG_MAX; when the
// serialized args are small they are additionally appended to the command
// line for convenience. Non-zero exit status yields an error carrying
// stderr+stdout (spec §4.4).
func (n *NativeExecutor) Run(outerCtx context.Context, m Manifest, args []string) (string, error) {
	entrypoint := filepath.Join(m.dir, m.Entrypoint)
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", moxxyerr.Invariantf("skills: marshal args for %s: %v", m.Name, err)
	}

	cmdArgs := []string{entrypoint}
	if len(argsJSON) <= argMaxInline {
		cmdArgs = append(cmdArgs, args...)
	}

	ctx, cancel := context.WithTimeout(outerCtx, defaultNativeTimeout)
	defer cancel()

	shell := m.RunCommand
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, cmdArgs...)
	cmd.Dir = m.dir
	cmd.Stdin = bytes.NewReader(argsJSON)

	env := []string{
		"AGENT_NAME=" + n.agentName,
		"MOXXY_API_BASE=" + n.apiBase,
		"MOXXY_INTERNAL_TOKEN=" + n.internalTok,
		"MOXXY_ARGS_MODE=stdin",
	}
	if m.Env {
		env = append(env, n.scopedSecretEnv(ctx, m.EnvKeys)...)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", moxxyerr.Upstreamf("skills: %s exited: %v: stderr=%q stdout=%q",
			m.Name, err, stderr.String(), stdout.String())
	}
	return stdout.String(), nil
}

// scopedSecretEnv injects vault secrets as KEY=value pairs, limited to
// envKeys when non-empty (spec §4.4 "if needs_env, all vault secrets are
// injected, scoped by env_keys when non-empty").
func (n *NativeExecutor) scopedSecretEnv(ctx context.Context, envKeys []string) []string {
	if n.vault == nil {
		return nil
	}
	keys := envKeys
	if len(keys) == 0 {
		all, err := n.vault.ListKeys(ctx)
		if err != nil {
			return nil
		}
		keys = all
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok, err := n.vault.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		out = append(out, strings.ToUpper(k)+"="+v)
	}
	return out
}
