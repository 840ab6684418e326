package exec

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coreagent/loopcore/internal/eventbus"
	"github.com/coreagent/loopcore/internal/execengine"
	"github.com/coreagent/loopcore/internal/sandboxmgr"
	"github.com/coreagent/loopcore/internal/shell"
	"github.com/coreagent/loopcore/internal/tools/files"
)

// Manager tracks background processes started via the exec tool. Its
// synchronous path (runSync) resolves every command through sandboxmgr.Manager
// (module F) and drives the child process through execengine.Engine (module
// G), so a command run by the exec tool gets the same policy-driven backend
// selection, output streaming, and timeout handling as any other tool
// execution on the bus. Background processes (startBackground) still spawn
// directly: they need a live stdin pipe and open-ended lifetime that
// execengine's single blocking Run doesn't model.
type Manager struct {
	mu        sync.Mutex
	processes map[string]*process
	resolver  files.Resolver
	maxOutput int
	sandbox   *sandboxmgr.Manager
	bus       *eventbus.Bus

	// registry is the session bookkeeping layer: every background process
	// is mirrored there, and finished sessions stay queryable (with TTL
	// pruning) after the live handle is removed.
	registry *shell.ProcessRegistry
}

// NewManager creates a new process manager scoped to the workspace, using
// PreferenceAuto sandbox policy and no event bus (no live output streaming).
func NewManager(workspace string) *Manager {
	return NewManagerWithSandbox(workspace, sandboxmgr.New(sandboxmgr.Policy{Preference: sandboxmgr.PreferenceAuto}), nil)
}

// NewManagerWithSandbox creates a manager whose synchronous commands are
// resolved by sandbox and whose output deltas are published on bus (nil bus
// disables live streaming, matching execengine.New's contract).
func NewManagerWithSandbox(workspace string, sandbox *sandboxmgr.Manager, bus *eventbus.Bus) *Manager {
	return &Manager{
		processes: map[string]*process{},
		resolver:  files.Resolver{Root: workspace},
		maxOutput: 64000,
		sandbox:   sandbox,
		bus:       bus,
		registry:  shell.NewProcessRegistry(nil),
	}
}

// RunCommand executes a command synchronously using the manager's workspace resolver.
func (m *Manager) RunCommand(ctx context.Context, command string, cwd string, env map[string]string, input string, timeout time.Duration) (ExecResult, error) {
	return m.runSync(ctx, command, cwd, env, input, timeout)
}

type process struct {
	id       string
	command  string
	cmd      *exec.Cmd
	stdout   *limitedBuffer
	stderr   *limitedBuffer
	stdin    io.WriteCloser
	started  time.Time
	done     chan struct{}
	exitCode int
	err      error

	// session is the registry's record of this process; live output is
	// appended to it so the process tool's drain action can page through
	// pending output without re-reading the whole log.
	session *shell.ProcessSession
}

func (p *process) status() string {
	select {
	case <-p.done:
		return "exited"
	default:
		return "running"
	}
}

// runSync resolves command through the sandbox manager and drives it via the
// exec engine, giving the exec tool the same backend-selection, live
// output-delta, and timeout behavior as every other sandboxed execution.
// Commands that pipe stdin fall back to runSyncDirect: execengine.Engine.Run
// has no stdin hookup (its contract is closer to the model's `local-shell`
// tool than to an interactive pipe), and extending it for this one caller
// isn't worth complicating the shared engine.
func (m *Manager) runSync(ctx context.Context, command string, cwd string, env map[string]string, input string, timeout time.Duration) (result ExecResult, err error) {
	if input != "" || m.sandbox == nil {
		return m.runSyncDirect(ctx, command, cwd, env, input, timeout)
	}

	dir, err := m.resolveCwd(cwd)
	if err != nil {
		return ExecResult{}, err
	}

	spec := sandboxmgr.CommandSpec{
		Argv:          []string{"/bin/sh", "-c", command},
		Cwd:           dir,
		Env:           env,
		WritableRoots: []string{dir},
	}
	req, err := m.sandbox.Transform(spec)
	if err != nil {
		return ExecResult{Command: command, Cwd: dir, Error: err.Error()}, nil
	}

	// A fresh Engine per call: Engine.SetTimeout mutates unguarded state, and
	// concurrent tool dispatch (module E) may run several shell calls on one
	// Manager at once.
	engine := execengine.New(m.bus)
	if timeout > 0 {
		engine.SetTimeout(timeout)
	}

	callID := uuid.NewString()
	execResult, err := engine.Run(ctx, callID, req)
	if err != nil {
		return ExecResult{Command: command, Cwd: dir, Error: err.Error()}, nil
	}

	result = ExecResult{
		Command:  command,
		Cwd:      dir,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		Duration: execResult.Duration,
		ExitCode: execResult.ExitCode,
		Finished: true,
	}
	switch {
	case execResult.TimedOut:
		result.Error = "command timed out"
	case execResult.Signaled:
		result.Error = "command was cancelled"
	case execResult.SandboxDenied:
		result.Error = fmt.Sprintf("sandbox denied command (backend=%s, exit=%d)", req.Backend, execResult.ExitCode)
	}
	return result, nil
}

func (m *Manager) resolveCwd(cwd string) (string, error) {
	target := cwd
	if target == "" {
		target = "."
	}
	return m.resolver.Resolve(target)
}

// runSyncDirect is the pre-sandboxmgr code path, kept for stdin-bearing
// commands (see runSync).
func (m *Manager) runSyncDirect(ctx context.Context, command string, cwd string, env map[string]string, input string, timeout time.Duration) (result ExecResult, err error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd, stdout, stderr, err := m.buildCommand(runCtx, command, cwd, env, input)
	if err != nil {
		return ExecResult{}, err
	}
	start := time.Now()
	err = cmd.Run()
	result = ExecResult{
		Command:  command,
		Cwd:      cmd.Dir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(err),
		Finished: true,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result, nil
}

func (m *Manager) startBackground(ctx context.Context, command string, cwd string, env map[string]string, input string, timeout time.Duration) (*process, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	cancelOnErr := func() {
		if cancel != nil {
			cancel()
		}
	}

	cmd, stdout, stderr, err := m.buildCommand(runCtx, command, cwd, env, "")
	if err != nil {
		cancelOnErr()
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancelOnErr()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	proc := &process{
		id:      uuid.NewString(),
		command: command,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		stdin:   stdin,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	session := &shell.ProcessSession{
		ID:             proc.id,
		Command:        command,
		StartedAt:      proc.started,
		CWD:            cmd.Dir,
		MaxOutputChars: m.maxOutput,
	}
	proc.session = session

	// Tee live output into the registry so drain sees it as it arrives.
	// The writers must be in place before the process starts.
	cmd.Stdout = io.MultiWriter(stdout, &registryWriter{registry: m.registry, session: session, stream: "stdout"})
	cmd.Stderr = io.MultiWriter(stderr, &registryWriter{registry: m.registry, session: session, stream: "stderr"})

	if err := cmd.Start(); err != nil {
		cancelOnErr()
		_ = stdin.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}

	session.PID = cmd.Process.Pid
	m.registry.AddSession(session)
	m.registry.MarkBackgrounded(session)

	if input != "" {
		if _, err := io.WriteString(stdin, input); err != nil {
			_ = stdin.Close()
		}
	}

	go func() {
		err := cmd.Wait()
		code := exitCode(err)
		proc.exitCode = code
		proc.err = err
		close(proc.done)
		if cancel != nil {
			cancel()
		}
		_ = stdin.Close()

		status := shell.ProcessStatusCompleted
		if err != nil {
			status = shell.ProcessStatusFailed
		}
		m.registry.MarkExited(session, &code, "", status)
	}()

	m.mu.Lock()
	m.processes[proc.id] = proc
	m.mu.Unlock()

	return proc, nil
}

func (m *Manager) buildCommand(ctx context.Context, command string, cwd string, env map[string]string, input string) (*exec.Cmd, *limitedBuffer, *limitedBuffer, error) {
	if command == "" {
		return nil, nil, nil, fmt.Errorf("command is required")
	}

	dir := ""
	if cwd != "" {
		resolved, err := m.resolver.Resolve(cwd)
		if err != nil {
			return nil, nil, nil, err
		}
		dir = resolved
	}
	if dir == "" {
		resolved, err := m.resolver.Resolve(".")
		if err == nil {
			dir = resolved
		}
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	if env != nil {
		base := os.Environ()
		for k, v := range env {
			base = append(base, k+"="+v)
		}
		cmd.Env = base
	}

	stdout := newLimitedBuffer(m.maxOutput)
	stderr := newLimitedBuffer(m.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	return cmd, stdout, stderr, nil
}

func (m *Manager) list() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessInfo, 0, len(m.processes))
	for _, proc := range m.processes {
		out = append(out, proc.info())
	}
	return out
}

func (m *Manager) get(id string) (*process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, ok := m.processes[id]
	return proc, ok
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processes[id]; ok {
		delete(m.processes, id)
		m.registry.DeleteSession(id)
		return true
	}
	return false
}

// finished returns the registry's record of completed background sessions,
// which outlives the live process handles until the registry's TTL prunes
// them.
func (m *Manager) finished() []*shell.FinishedSession {
	return m.registry.ListFinishedSessions()
}

// drain returns and clears the pending (not yet seen) output of a
// background process.
func (m *Manager) drain(id string) (stdout, stderr string, ok bool) {
	proc, found := m.get(id)
	if !found || proc.session == nil {
		return "", "", false
	}
	stdout, stderr = m.registry.DrainSession(proc.session)
	return stdout, stderr, true
}

// registryWriter mirrors one output stream into the process registry.
type registryWriter struct {
	registry *shell.ProcessRegistry
	session  *shell.ProcessSession
	stream   string
}

func (w *registryWriter) Write(p []byte) (int, error) {
	w.registry.AppendOutput(w.session, w.stream, string(p))
	return len(p), nil
}

func (p *process) info() ProcessInfo {
	return ProcessInfo{
		ID:        p.id,
		Command:   p.command,
		Status:    p.status(),
		StartedAt: p.started,
		ExitCode:  p.exitCode,
		Error:     errorString(p.err),
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// ExecResult summarizes a synchronous exec call.
type ExecResult struct {
	Command  string        `json:"command"`
	Cwd      string        `json:"cwd"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Finished bool          `json:"finished"`
	Error    string        `json:"error,omitempty"`
}

// ProcessInfo summarizes a managed process.
type ProcessInfo struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
}
