package files

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// EOL is the line-ending style of a file's contents.
type EOL int

const (
	EOLUnknown EOL = iota
	EOLLf
	EOLCrlf
)

// EOLPolicy decides which line endings a write produces. The policy is
// configured per-process via Config.EOL and overridable per-invocation with
// the "eol" argument on the write/edit/apply_patch tools.
type EOLPolicy int

const (
	// EOLPolicyDetect infers the ending from the file's current contents;
	// new files fall back to the git attributes, then LF.
	EOLPolicyDetect EOLPolicy = iota
	// EOLPolicyGit consults git attributes (eol/text) and core.eol.
	EOLPolicyGit
	// EOLPolicyLf forces "\n".
	EOLPolicyLf
	// EOLPolicyCrlf forces "\r\n".
	EOLPolicyCrlf
)

// ParseEOLPolicy maps a config or argument string to a policy. Empty and
// unrecognized values mean Detect.
func ParseEOLPolicy(s string) EOLPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lf":
		return EOLPolicyLf
	case "crlf":
		return EOLPolicyCrlf
	case "git":
		return EOLPolicyGit
	default:
		return EOLPolicyDetect
	}
}

func osNativeEOL() EOL {
	if runtime.GOOS == "windows" {
		return EOLCrlf
	}
	return EOLLf
}

// detectEOL counts CRLF against lone LF so mixed files resolve to their
// dominant style. Returns EOLUnknown for content with no newlines at all.
func detectEOL(buf []byte) EOL {
	crlf, lf := 0, 0
	for i, b := range buf {
		if b != '\n' {
			continue
		}
		if i > 0 && buf[i-1] == '\r' {
			crlf++
		} else {
			lf++
		}
	}
	if crlf == 0 && lf == 0 {
		return EOLUnknown
	}
	if crlf >= lf {
		return EOLCrlf
	}
	return EOLLf
}

// normalizeEOLPreserveEOF rewrites every line ending in s to target while
// keeping the presence or absence of a trailing newline exactly as it was.
func normalizeEOLPreserveEOF(s string, target EOL) string {
	hadTrailing := strings.HasSuffix(s, "\n")
	eol := "\n"
	if target == EOLCrlf {
		eol = "\r\n"
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if target == EOLCrlf {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	switch {
	case hadTrailing && !strings.HasSuffix(s, eol):
		s += eol
	case !hadTrailing && strings.HasSuffix(s, eol):
		s = s[:len(s)-len(eol)]
	}
	return s
}

// gitAttrEOL asks git what ending it would enforce for relPath. Best-effort:
// any failure (no git, not a repo, no attribute) reports EOLUnknown so the
// caller falls through to the next rule.
func gitAttrEOL(root, relPath string) EOL {
	out, err := exec.Command("git", "-C", root, "check-attr", "eol", "text", "--", relPath).Output()
	if err == nil {
		for _, line := range bytes.Split(out, []byte("\n")) {
			fields := strings.Split(string(line), ": ")
			if len(fields) != 3 {
				continue
			}
			attr, value := fields[1], strings.TrimSpace(fields[2])
			switch attr {
			case "eol":
				switch value {
				case "lf":
					return EOLLf
				case "crlf":
					return EOLCrlf
				}
			case "text":
				// binary files opt out of normalization entirely
				if value == "unset" {
					return EOLUnknown
				}
			}
		}
	}
	out, err = exec.Command("git", "-C", root, "config", "--local", "--get", "core.eol").Output()
	if err != nil {
		return EOLUnknown
	}
	switch strings.ToLower(strings.TrimSpace(string(out))) {
	case "lf":
		return EOLLf
	case "crlf":
		return EOLCrlf
	case "native":
		return osNativeEOL()
	}
	return EOLUnknown
}

// chooseWriteEOL resolves the ending for one write. existing holds the
// file's current bytes, nil when the file is new. The decision is made once
// per write and is deterministic from (policy, existing contents, git
// attributes): a forced policy wins, Git consults attributes, and Detect
// preserves what is already on disk — new files default to LF unless an
// attribute says otherwise.
func chooseWriteEOL(policy EOLPolicy, root, resolved string, existing []byte) EOL {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	switch policy {
	case EOLPolicyLf:
		return EOLLf
	case EOLPolicyCrlf:
		return EOLCrlf
	case EOLPolicyGit:
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			rel = resolved
		}
		if eol := gitAttrEOL(root, rel); eol != EOLUnknown {
			return eol
		}
		if existing != nil {
			if eol := detectEOL(existing); eol != EOLUnknown {
				return eol
			}
		}
		return EOLLf
	default: // Detect
		if existing != nil {
			if eol := detectEOL(existing); eol != EOLUnknown {
				return eol
			}
		}
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			rel = resolved
		}
		if eol := gitAttrEOL(root, rel); eol != EOLUnknown {
			return eol
		}
		return EOLLf
	}
}
