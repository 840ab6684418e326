package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coreagent/loopcore/internal/agent"
)

// ListDirTool lists one directory level, honoring ignore rules.
type ListDirTool struct {
	cfg Config
}

// NewListDirTool creates a list_dir tool scoped to the workspace.
func NewListDirTool(cfg Config) *ListDirTool {
	return &ListDirTool{cfg: cfg}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory. Respects .gitignore/.ignore; hidden files excluded by default."
}

func (t *ListDirTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the workspace (default: workspace root).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type dirEntry struct {
	Name   string `json:"name"`
	Dir    bool   `json:"dir,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Binary bool   `json:"binary,omitempty"`
}

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return searchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	root := t.cfg.Workspace
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return searchError(fmt.Sprintf("resolve workspace: %v", err)), nil
	}

	rel := filepath.Clean(strings.TrimSpace(input.Path))
	if rel == "" || rel == "." {
		rel = "."
	}
	if rel != "." && (rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))) {
		return searchError("path escapes workspace"), nil
	}
	target := filepath.Join(rootAbs, rel)

	// Build the ignore layers that apply at this depth: ancestors of the
	// workspace, then every directory from the root down to the target.
	ign := newIgnoreSet(t.cfg.IncludeHidden)
	loadAncestorIgnores(ign, rootAbs)
	ign.loadDir(rootAbs, ".")
	if rel != "." {
		partial := ""
		for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
			partial = filepath.Join(partial, seg)
			ign.loadDir(filepath.Join(rootAbs, partial), partial)
		}
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return searchError(fmt.Sprintf("read dir: %v", err)), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	limit := t.cfg.maxResults()
	out := make([]dirEntry, 0, len(entries))
	truncated := false
	for _, entry := range entries {
		entryRel := entry.Name()
		if rel != "." {
			entryRel = filepath.Join(rel, entry.Name())
		}
		if ign.Ignored(entryRel, entry.IsDir()) {
			continue
		}
		de := dirEntry{Name: entry.Name(), Dir: entry.IsDir()}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				de.Size = info.Size()
			}
			de.Binary = isBinaryPath(entry.Name())
		}
		out = append(out, de)
		if len(out) >= limit {
			truncated = true
			break
		}
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":      filepath.ToSlash(rel),
		"entries":   out,
		"count":     len(out),
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return searchError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
