// Package contextmgr holds the conversation transcript sent to the model,
// enforcing call/output pairing invariants and bounding how much output text
// survives into the prompt.
package contextmgr

import "time"

// ItemKind discriminates the variants of Item.
type ItemKind string

const (
	KindMessage        ItemKind = "message"
	KindReasoning      ItemKind = "reasoning"
	KindFunctionCall   ItemKind = "function_call"
	KindFunctionOutput ItemKind = "function_call_output"
	KindLocalShellCall ItemKind = "local_shell_call"
	KindWebSearchCall  ItemKind = "web_search_call"
	KindGhostSnapshot  ItemKind = "ghost_snapshot"
)

// Item is one entry in the transcript. Only the fields relevant to Kind are
// populated; this mirrors a tagged union more than a single wide struct
// would suggest, but keeps the type list closed and serialization trivial.
type Item struct {
	Kind ItemKind `json:"kind"`

	// Message fields.
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Reasoning fields.
	ReasoningText string `json:"reasoning_text,omitempty"`

	// FunctionCall / LocalShellCall fields.
	CallID    string `json:"call_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// FunctionOutput fields.
	Output      string       `json:"output,omitempty"`
	OutputItems []OutputItem `json:"output_items,omitempty"`
	Success     *bool        `json:"success,omitempty"`

	// GhostSnapshot fields: an internal marker recording workspace state for
	// diffing, never sent to the model.
	SnapshotRef string `json:"snapshot_ref,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// OutputItem is one piece of structured tool output content (e.g. an image,
// or a named sub-result), truncated independently of the main text content.
type OutputItem struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// isAPIMessage reports whether item belongs in the prompt stream at all:
// every non-system item is an API message; ghost snapshots and the "other"
// catch-all are not.
func isAPIMessage(item Item) bool {
	switch item.Kind {
	case KindMessage:
		return item.Role != "system"
	case KindFunctionCall, KindFunctionOutput, KindLocalShellCall, KindReasoning, KindWebSearchCall:
		return true
	case KindGhostSnapshot:
		return false
	default:
		return false
	}
}

func isGhostSnapshot(item Item) bool {
	return item.Kind == KindGhostSnapshot
}
