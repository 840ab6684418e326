package sandboxmgr

import "testing"

func TestSelectInitialForbidAlwaysNone(t *testing.T) {
	m := New(Policy{Preference: PreferenceForbid})
	backend, err := m.SelectInitial(CommandSpec{Argv: []string{"ls"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend != BackendNone {
		t.Fatalf("expected BackendNone under PreferenceForbid, got %s", backend)
	}
}

func TestSelectInitialRequireFallsBackToExternal(t *testing.T) {
	m := New(Policy{
		Preference:               PreferenceRequire,
		ExternalBackendAvailable: func() bool { return true },
	})
	// Force the native lookup to behave as if unavailable by testing via
	// Transform's error path is platform-dependent; here we only assert
	// that an available external backend satisfies PreferenceRequire when
	// exercised directly.
	backend, err := m.SelectInitial(CommandSpec{Argv: []string{"ls"}})
	if err != nil && backend == BackendNone {
		t.Fatalf("did not expect ErrNoSandboxAvailable when external backend is available: %v", err)
	}
}

func TestTransformBlocksDestructiveCommand(t *testing.T) {
	m := New(Policy{Preference: PreferenceForbid})
	_, err := m.Transform(CommandSpec{Argv: []string{"rm", "-rf", "/"}})
	if err == nil {
		t.Fatal("expected destructive command to be blocked")
	}
}

func TestTransformAllowsOrdinaryCommand(t *testing.T) {
	m := New(Policy{Preference: PreferenceForbid})
	req, err := m.Transform(CommandSpec{Argv: []string{"ls", "-la"}, Cwd: "/tmp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Backend != BackendNone {
		t.Fatalf("expected BackendNone, got %s", req.Backend)
	}
	if len(req.Argv) != 2 || req.Argv[0] != "ls" {
		t.Fatalf("expected argv preserved, got %v", req.Argv)
	}
}

func TestDeniedClassification(t *testing.T) {
	cases := []struct {
		backend  Backend
		exitCode int
		want     bool
	}{
		{BackendNone, 1, false},
		{BackendSeatbelt, 0, false},
		{BackendSeatbelt, 127, false},
		{BackendSeatbelt, 1, true},
		{BackendLandlock, 13, true},
	}
	for _, tc := range cases {
		if got := Denied(tc.backend, tc.exitCode); got != tc.want {
			t.Errorf("Denied(%s, %d) = %v, want %v", tc.backend, tc.exitCode, got, tc.want)
		}
	}
}

func TestDestructiveCommandReason(t *testing.T) {
	if _, blocked := DestructiveCommandReason([]string{"ls", "-la"}); blocked {
		t.Fatal("expected ls -la to be allowed")
	}
	if _, blocked := DestructiveCommandReason([]string{"rm", "-rf", "/tmp/x"}); !blocked {
		t.Fatal("expected rm -rf to be blocked")
	}
	if _, blocked := DestructiveCommandReason([]string{"dd", "of=/dev/sda"}); !blocked {
		t.Fatal("expected dd to a block device to be blocked")
	}
}
