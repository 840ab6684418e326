package sandboxmgr

import (
	"strings"

	execsafety "github.com/coreagent/loopcore/internal/exec"
)

// destructivePatterns is a cross-platform supplement to the original
// Windows-only command_safety/windows_dangerous_commands.rs: a small
// denylist of command+flag combinations that are destructive regardless of
// platform, checked before a command ever reaches the chosen sandbox
// backend. This does not replace the Approval Engine's own risk
// classification; it is a pre-flight gate that blocks outright rather than
// merely asking for approval.
var destructivePatterns = []struct {
	argv0  string
	needle string
	reason string
}{
	{"rm", "-rf", "recursive forced delete"},
	{"rm", "--no-preserve-root", "recursive delete ignoring root guard"},
	{"del", "/s", "recursive delete"},
	{"rmdir", "/s", "recursive directory removal"},
	{"format", "", "disk format command"},
	{"mkfs", "", "filesystem creation over an existing volume"},
	{"dd", "of=/dev/", "raw write to a block device"},
	{"reg", "delete", "registry key deletion"},
}

// DestructiveCommandReason reports whether argv matches a known-destructive
// pattern and, if so, why it was blocked.
func DestructiveCommandReason(argv []string) (reason string, blocked bool) {
	if len(argv) == 0 {
		return "", false
	}

	exe, err := execsafety.SanitizeExecutableValue(argv[0])
	if err != nil {
		return "unsafe executable value: " + err.Error(), true
	}
	base := strings.ToLower(baseName(exe))

	joined := strings.ToLower(strings.Join(argv[1:], " "))
	for _, p := range destructivePatterns {
		if base != p.argv0 {
			continue
		}
		if p.needle == "" || strings.Contains(joined, p.needle) {
			return p.reason, true
		}
	}
	return "", false
}

func baseName(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 {
		return path
	}
	return path[i+1:]
}
