// Package sandbox executes untrusted user-authored code in a least-privilege
// Deno subprocess, bridging host tool calls over line-delimited JSON IPC.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftlabs/driftwood/internal/observability"
	"github.com/driftlabs/driftwood/pkg/models"
)

// Config holds the executor's quotas and permission grid.
type Config struct {
	WorkingDir          string
	AllowedHosts        []string
	AllowedReadPaths    []string
	AllowedRun          []string
	MaxCodeSize         int
	MaxOutputSize       int
	MaxToolCallsPerExec int
	CodeTimeout         time.Duration

	// DenoBinary overrides the runtime binary; defaults to "deno".
	DenoBinary string
}

// BlueskyCredentials are injected into the sandbox as BSKY_* constants when
// present on the execution context.
type BlueskyCredentials struct {
	Handle   string
	Password string
	PDSURL   string
	DID      string
	Service  string
}

// Context carries optional per-execution context.
type Context struct {
	Bluesky *BlueskyCredentials
}

// Result is the outcome of one sandboxed execution. Error is set iff
// Success is false.
type Result struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ToolCallsMade int    `json:"tool_calls_made"`
	DurationMS    int64  `json:"duration_ms"`
}

// Dispatcher routes sandbox-originated tool calls. *tools.Registry
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) models.ToolResult
}

// Executor spawns sandboxed subprocesses. It holds no state between
// invocations beyond its configuration.
type Executor struct {
	cfg      Config
	dispatch Dispatcher
	logger   *slog.Logger
}

// NewExecutor creates an executor with the given config and tool dispatcher.
func NewExecutor(cfg Config, dispatch Dispatcher, logger *slog.Logger) *Executor {
	if cfg.DenoBinary == "" {
		cfg.DenoBinary = "deno"
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, dispatch: dispatch, logger: logger}
}

// Execute runs user code with the given tool stubs inside the sandbox.
// It never returns an out-of-band error: all failure modes are reported on
// the Result.
func (e *Executor) Execute(ctx context.Context, code, toolStubs string, execCtx *Context) *Result {
	start := time.Now()

	if len(code) > e.cfg.MaxCodeSize {
		observability.SandboxExecutions.WithLabelValues("code_size").Inc()
		return &Result{Success: false, Error: "code exceeds max size"}
	}

	script := composeScript(toolStubs, execCtx, code)

	scriptFile, err := os.CreateTemp(e.cfg.WorkingDir, "exec-*.ts")
	if err != nil {
		observability.SandboxExecutions.WithLabelValues("error").Inc()
		return &Result{Success: false, Error: fmt.Sprintf("write script: %v", err)}
	}
	scriptPath := scriptFile.Name()
	defer os.Remove(scriptPath)
	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		observability.SandboxExecutions.WithLabelValues("error").Inc()
		return &Result{Success: false, Error: fmt.Sprintf("write script: %v", err)}
	}
	scriptFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.DenoBinary, e.denoArgs(scriptPath, execCtx)...)
	cmd.Dir = e.cfg.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		observability.SandboxExecutions.WithLabelValues("error").Inc()
		return &Result{Success: false, Error: fmt.Sprintf("stdin pipe: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		observability.SandboxExecutions.WithLabelValues("error").Inc()
		return &Result{Success: false, Error: fmt.Sprintf("stdout pipe: %v", err)}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		observability.SandboxExecutions.WithLabelValues("error").Inc()
		return &Result{Success: false, Error: fmt.Sprintf("spawn sandbox: %v", err)}
	}

	sess := newSession(runCtx, e.dispatch, stdin, cancel, e.cfg.MaxOutputSize, e.cfg.MaxToolCallsPerExec, e.logger)
	sess.run(stdout)

	waitErr := cmd.Wait()
	duration := time.Since(start)
	observability.SandboxDuration.Observe(duration.Seconds())

	result := &Result{
		Output:        sess.collectOutput(stderr.String()),
		ToolCallsMade: sess.toolCallCount(),
		DurationMS:    duration.Milliseconds(),
	}

	switch {
	case sess.outputExceeded():
		result.Success = false
		result.Error = "output exceeds max size"
		observability.SandboxExecutions.WithLabelValues("output_quota").Inc()
	case runCtx.Err() == context.DeadlineExceeded:
		result.Success = false
		result.Error = "execution timed out"
		observability.SandboxExecutions.WithLabelValues("timeout").Inc()
	default:
		// Child-level failures (including permission denials on stderr)
		// are surfaced in the output; user code is expected to catch them.
		result.Success = true
		if waitErr != nil {
			e.logger.Debug("sandbox exited non-zero", "error", waitErr)
		}
		observability.SandboxExecutions.WithLabelValues("ok").Inc()
	}
	return result
}

// denoArgs builds the permission grid. Environment, FFI, and system info
// stay denied: the corresponding allow flags are never emitted.
func (e *Executor) denoArgs(scriptPath string, execCtx *Context) []string {
	args := []string{"run", "--quiet", "--no-prompt"}

	if hosts := e.allowedHosts(execCtx); len(hosts) > 0 {
		args = append(args, "--allow-net="+strings.Join(hosts, ","))
	}

	readPaths := append([]string{e.cfg.WorkingDir}, e.cfg.AllowedReadPaths...)
	args = append(args, "--allow-read="+strings.Join(readPaths, ","))
	args = append(args, "--allow-write="+e.cfg.WorkingDir)

	if len(e.cfg.AllowedRun) > 0 {
		args = append(args, "--allow-run="+strings.Join(e.cfg.AllowedRun, ","))
	}

	args = append(args, filepath.Base(scriptPath))
	return args
}

// allowedHosts merges the configured allowlist with the Bluesky PDS host,
// deduplicated.
func (e *Executor) allowedHosts(execCtx *Context) []string {
	seen := make(map[string]bool, len(e.cfg.AllowedHosts)+1)
	var hosts []string
	for _, h := range e.cfg.AllowedHosts {
		if h != "" && !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	if execCtx != nil && execCtx.Bluesky != nil && execCtx.Bluesky.PDSURL != "" {
		if h := hostOf(execCtx.Bluesky.PDSURL); h != "" && !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
