package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// outerTimeout bounds one full guest execution, matching the 180s bound in
// original_source/src/core/container/wasm.rs.
const outerTimeout = 180 * time.Second

const wasmPageSize = 65536

// AgentContainer runs one agent's reasoning loop as a WASM guest module
// under a curated host-function bridge (spec §4.6). Grounded on
// original_source/src/core/container/wasm.rs's AgentContainer, translated
// from wasmtime's Store/Linker/Caller API onto wazero's runtime/module/
// HostModuleBuilder API - the two crates don't share a shape, so this is a
// semantic port, not a literal one.
type AgentContainer struct {
	Config    Config
	ImagesDir string
	Bridge    *HostBridge

	executionCount int
}

// ExecutionCount reports how many guest runs have completed (successfully
// or not) on this container instance, mirroring the execution_count counter
// original_source/src/core/container/wasm.rs exposes for health reporting.
func (c *AgentContainer) ExecutionCount() int {
	return c.executionCount
}

// Execute instantiates the guest module, runs it to completion (or to the
// outer timeout), and returns whatever the guest last wrote to its
// assistant-role memory slot as the final answer.
func (c *AgentContainer) Execute(ctx context.Context, agentDir, initialPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, outerTimeout)
	defer cancel()

	limits := resolveLimits(c.Config)
	wasmPath := imagePath(c.Config.RuntimeSection.Image, c.ImagesDir)
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return "", moxxyerr.Dependencyf("container: read guest image %s: %v", wasmPath, err)
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MaxMemoryMB > 0 {
		pages := (limits.MaxMemoryMB * 1024 * 1024) / wasmPageSize
		rtConfig = rtConfig.WithMemoryLimitPages(uint32(pages))
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer runtime.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return "", moxxyerr.Upstreamf("container: instantiate wasi: %v", err)
	}
	if err := c.registerHostModule(ctx, runtime); err != nil {
		return "", moxxyerr.Upstreamf("container: register host module: %v", err)
	}

	modConfig := wazero.NewModuleConfig().WithStartFunctions("_start")
	fsConfig := wazero.NewFSConfig()
	for _, entry := range c.Config.Capabilities.Filesystem {
		hostDir := filepath.Join(agentDir, entry)
		if _, statErr := os.Stat(hostDir); statErr != nil {
			continue
		}
		fsConfig = fsConfig.WithDirMount(hostDir, "/"+entry)
	}
	modConfig = modConfig.WithFSConfig(fsConfig)
	if c.Config.Capabilities.EnvInherit {
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					modConfig = modConfig.WithEnv(kv[:i], kv[i+1:])
					break
				}
			}
		}
	}

	c.Bridge.emit(Event{Type: EventSkillInvoke, Payload: "__guest_start__:" + initialPrompt})

	mod, err := runtime.InstantiateWithConfig(ctx, wasmBytes, modConfig)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				c.executionCount++
				return c.Bridge.ReadResponse(), nil
			}
			return "", moxxyerr.Upstreamf("container: guest exited with code %d", exitErr.ExitCode())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", moxxyerr.Timeoutf("container: execution exceeded %s", outerTimeout)
		}
		return "", moxxyerr.Upstreamf("container: guest execution failed: %v", err)
	}

	c.executionCount++
	return c.Bridge.ReadResponse(), nil
}

// registerHostModule exports the seven host functions a guest links
// against (spec §4.6). Each wrapper reads its string arguments out of
// guest linear memory and, where it returns a string, allocates space in
// the guest (via its exported "alloc" function) and writes the result back.
func (c *AgentContainer) registerHostModule(ctx context.Context, runtime wazero.Runtime) error {
	b := c.Bridge
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, promptPtr, promptLen uint32) (uint32, uint32) {
			prompt, ok := readGuestString(mod, promptPtr, promptLen)
			if !ok {
				return 0, 0
			}
			reply, err := b.InvokeLLM(ctx, prompt)
			if err != nil {
				reply = "ERROR: " + err.Error()
			}
			ptr, size, werr := writeGuestString(ctx, mod, reply)
			if werr != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_invoke_llm").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, argsPtr, argsLen uint32) (uint32, uint32) {
			name, ok1 := readGuestString(mod, namePtr, nameLen)
			argsJoined, ok2 := readGuestString(mod, argsPtr, argsLen)
			if !ok1 || !ok2 {
				return 0, 0
			}
			result := b.ExecuteSkill(ctx, name, splitNUL(argsJoined))
			ptr, size, err := writeGuestString(ctx, mod, result)
			if err != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_execute_skill").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, limit uint32) (uint32, uint32) {
			text, err := b.ReadMemory(ctx, int(limit))
			if err != nil {
				text = ""
			}
			ptr, size, werr := writeGuestString(ctx, mod, text)
			if werr != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_read_memory").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, rolePtr, roleLen, contentPtr, contentLen uint32) uint32 {
			role, ok1 := readGuestString(mod, rolePtr, roleLen)
			content, ok2 := readGuestString(mod, contentPtr, contentLen)
			if !ok1 || !ok2 {
				return 1
			}
			if err := b.WriteMemory(ctx, role, content); err != nil {
				return 1
			}
			return 0
		}).
		Export("host_write_memory").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) (uint32, uint32) {
			ptr, size, err := writeGuestString(ctx, mod, b.GetSkillCatalog())
			if err != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_get_skill_catalog").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) (uint32, uint32) {
			ptr, size, err := writeGuestString(ctx, mod, b.GetPersona())
			if err != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_get_persona").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) (uint32, uint32) {
			ptr, size, err := writeGuestString(ctx, mod, b.ReadResponse())
			if err != nil {
				return 0, 0
			}
			return ptr, size
		}).
		Export("host_read_response").
		Instantiate(ctx)
	return err
}

func readGuestString(mod api.Module, ptr, size uint32) (string, bool) {
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return "", false
	}
	return string(buf), true
}

// writeGuestString allocates size bytes inside the guest via its exported
// "alloc" function and copies s into guest memory at the returned offset.
func writeGuestString(ctx context.Context, mod api.Module, s string) (uint32, uint32, error) {
	data := []byte(s)
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("guest does not export alloc")
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, err
	}
	ptr := uint32(results[0])
	if len(data) > 0 && !mod.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("failed to write %d bytes at guest offset %d", len(data), ptr)
	}
	return ptr, uint32(len(data)), nil
}

// splitNUL splits the NUL-joined argument buffer the guest packs its skill
// args into before calling host_execute_skill.
func splitNUL(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
