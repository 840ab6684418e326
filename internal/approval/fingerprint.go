package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint identifies a (tool, argument shape) pair for the remembered-
// allow set: once a user approves a call and opts to remember it, any future
// call producing the same fingerprint is auto-approved without re-prompting.
//
// The fingerprint is computed over argument keys, not values, so "always
// allow read_file" doesn't silently start allowing a differently-shaped call
// that happens to share a tool name (e.g. one missing a required key).
type Fingerprint string

// Fingerprint canonicalizes toolName and the key set of args into a stable
// SHA-256 hex digest.
func Compute(toolName string, args map[string]any) Fingerprint {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	shape := struct {
		Tool string   `json:"tool"`
		Keys []string `json:"keys"`
	}{Tool: toolName, Keys: keys}

	// json.Marshal on a struct with sorted slice fields is deterministic,
	// which is all Compute needs from it.
	b, _ := json.Marshal(shape)
	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}
