// Workspace access parsing: maps the configured access string to the
// read-only/read-write/none modes the executor enforces on mounts.
// Unrecognized values resolve to no workspace access, the safe end of
// the scale.

package sandbox

import "strings"

// ParseWorkspaceAccess converts a config string to a workspace access mode.
func ParseWorkspaceAccess(raw string) WorkspaceAccessMode {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "rw", "readwrite", "read-write", "write":
		return WorkspaceReadWrite
	case "none", "disabled":
		return WorkspaceNone
	case "ro", "readonly", "read-only":
		return WorkspaceReadOnly
	default:
		return WorkspaceReadOnly
	}
}
