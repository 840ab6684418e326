package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/coreagent/loopcore/internal/agent"
)

// Config controls the search tools' shared defaults.
type Config struct {
	Workspace string
	// MaxResults caps glob/list_dir/grep result counts (default 1000).
	MaxResults int
	// IncludeHidden lifts the default hidden-file exclusion.
	IncludeHidden bool
	// Ranker, when set, reorders grep hits before they are returned. The
	// default keeps walk order. A retrieval indexer can plug in here.
	Ranker Ranker
}

func (c Config) maxResults() int {
	if c.MaxResults <= 0 {
		return 1000
	}
	return c.MaxResults
}

// GlobTool finds files by glob pattern, honoring the layered ignore rules.
type GlobTool struct {
	cfg Config
}

// NewGlobTool creates a glob tool scoped to the workspace.
func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{cfg: cfg}
}

func (t *GlobTool) Name() string { return "glob_files" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (supports ** for any directory depth). Respects .gitignore/.ignore."
}

func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern relative to the workspace, e.g. **/*.go or cmd/*.go.",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Cap on returned paths (default from tool config).",
				"minimum":     1,
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern    string `json:"pattern"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return searchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return searchError("pattern is required"), nil
	}

	limit := t.cfg.maxResults()
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	var matches []string
	truncatedWalk := false
	err := walkWorkspace(t.cfg.Workspace, t.cfg.IncludeHidden, func(rel string, entry fs.DirEntry) bool {
		if ctx.Err() != nil {
			return false
		}
		if entry.IsDir() {
			return true
		}
		if matchGlob(input.Pattern, filepath.ToSlash(rel)) {
			matches = append(matches, filepath.ToSlash(rel))
			if len(matches) >= limit {
				truncatedWalk = true
				return false
			}
		}
		return true
	})
	if err != nil {
		return searchError(fmt.Sprintf("walk workspace: %v", err)), nil
	}
	if ctx.Err() != nil {
		return searchError("glob cancelled"), nil
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"pattern":   input.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncatedWalk,
	}, "", "  ")
	if err != nil {
		return searchError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// matchGlob matches a slash-separated relative path against pattern, where
// "**" matches any number of path segments (including zero) and the other
// metacharacters follow path.Match rules segment by segment.
func matchGlob(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		// ** may swallow zero or more leading segments
		for skip := 0; skip <= len(parts); skip++ {
			if matchSegments(pat[1:], parts[skip:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}

func searchError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
