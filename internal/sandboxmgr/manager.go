package sandboxmgr

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrNoSandboxAvailable is returned by SelectInitial when Preference is
// PreferenceRequire but the current platform has no native sandbox backend
// and no external backend is configured.
var ErrNoSandboxAvailable = errors.New("no sandbox backend available for this platform")

// Manager resolves a CommandSpec into an ExecRequest under a Policy:
// SelectInitial picks a backend once per command; Transform applies that
// backend's argv/env rewriting; Denied classifies a finished process's exit
// status as a sandbox denial versus an ordinary command failure.
type Manager struct {
	policy Policy
}

// New creates a Manager bound to policy.
func New(policy Policy) *Manager {
	return &Manager{policy: policy}
}

// SelectInitial picks which backend a CommandSpec should use, without yet
// producing the ExecRequest. Exposed separately from Transform so a caller
// can log or gate on the decision before committing to it (e.g. prompting
// for approval only when a command will run unsandboxed).
func (m *Manager) SelectInitial(spec CommandSpec) (Backend, error) {
	if m.policy.Preference == PreferenceForbid {
		return BackendNone, nil
	}

	native := nativeBackendForPlatform()
	if native != BackendNone {
		return native, nil
	}

	if m.policy.ExternalBackendAvailable != nil && m.policy.ExternalBackendAvailable() {
		return BackendExternal, nil
	}

	if m.policy.Preference == PreferenceRequire {
		return BackendNone, ErrNoSandboxAvailable
	}
	return BackendNone, nil
}

func nativeBackendForPlatform() Backend {
	switch runtime.GOOS {
	case "darwin":
		return BackendSeatbelt
	case "linux":
		return BackendLandlock
	case "windows":
		return BackendRestricted
	default:
		return BackendNone
	}
}

// Transform resolves spec into a concrete ExecRequest, selecting a backend
// and applying its spec-to-argv/env rewriting.
func (m *Manager) Transform(spec CommandSpec) (ExecRequest, error) {
	backend, err := m.SelectInitial(spec)
	if err != nil {
		return ExecRequest{}, err
	}

	if reason, blocked := DestructiveCommandReason(spec.Argv); blocked {
		return ExecRequest{}, fmt.Errorf("destructive command blocked: %s", reason)
	}

	req := ExecRequest{
		Backend: backend,
		Argv:    append([]string(nil), spec.Argv...),
		Cwd:     spec.Cwd,
		Env:     copyEnv(spec.Env),
	}

	switch backend {
	case BackendSeatbelt:
		req.SeatbeltProfile = seatbeltProfile(spec)
	case BackendLandlock:
		// Landlock/seccomp restrictions are applied by the Exec Engine at
		// process-start time via a platform-specific syscall sequence; the
		// ExecRequest only needs to carry the writable roots forward.
	case BackendRestricted, BackendExternal, BackendNone:
		// No argv/env rewriting needed; the backend enforces isolation out
		// of band (restricted token, external helper) or not at all.
	}

	return req, nil
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// seatbeltProfile builds a minimal sandbox-exec profile string granting
// read-everywhere, write-only-to-WritableRoots, and network access gated by
// spec.NetworkAllowed.
func seatbeltProfile(spec CommandSpec) string {
	profile := "(version 1)\n(deny default)\n(allow file-read*)\n"
	for _, root := range spec.WritableRoots {
		profile += fmt.Sprintf("(allow file-write* (subpath %q))\n", root)
	}
	if spec.NetworkAllowed {
		profile += "(allow network*)\n"
	}
	return profile
}

// Denied classifies a finished process's exit code as either a sandbox
// denial or an ordinary command failure: exit code 127 ("command not
// found") is never a sandbox denial;
// any other nonzero exit under an active sandbox backend is presumed denied
// unless the caller already knows better (e.g. the command's own nonzero
// exit convention).
func Denied(backend Backend, exitCode int) bool {
	if backend == BackendNone {
		return false
	}
	if exitCode == 0 {
		return false
	}
	if exitCode == 127 {
		return false
	}
	return true
}
