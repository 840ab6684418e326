package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coreagent/loopcore/internal/agent"
)

// Hit is one grep match.
type Hit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Ranker reorders grep hits before they are returned to the model. The
// walk-order default is a no-op; a retrieval indexer (e.g. a repo-map
// ranker) can satisfy this to push structurally important files first.
type Ranker interface {
	Rank(hits []Hit) []Hit
}

// maxGrepLineLength truncates pathologically long matched lines so one
// minified file cannot blow up the tool output.
const maxGrepLineLength = 500

// maxGrepFileSize skips files larger than this outright.
const maxGrepFileSize = 5 << 20

// GrepTool searches file contents by regular expression, honoring the
// layered ignore rules and skipping binary files.
type GrepTool struct {
	cfg Config
}

// NewGrepTool creates a grep tool scoped to the workspace.
func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{cfg: cfg}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search workspace file contents with a regular expression. Respects .gitignore/.ignore and skips binary files."
}

func (t *GrepTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Go regular expression to search for.",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob restricting which files are searched, e.g. **/*.go.",
			},
			"case_insensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Case-insensitive matching (default: false).",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Cap on returned hits (default from tool config).",
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

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern         string `json:"pattern"`
		Glob            string `json:"glob"`
		CaseInsensitive bool   `json:"case_insensitive"`
		MaxResults      int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return searchError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return searchError("pattern is required"), nil
	}

	pattern := input.Pattern
	if input.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return searchError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	limit := t.cfg.maxResults()
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	var hits []Hit
	root := t.cfg.Workspace
	walkErr := walkWorkspace(root, t.cfg.IncludeHidden, func(rel string, entry fs.DirEntry) bool {
		if ctx.Err() != nil {
			return false
		}
		if entry.IsDir() {
			return true
		}
		slashRel := filepath.ToSlash(rel)
		if input.Glob != "" && !matchGlob(input.Glob, slashRel) {
			return true
		}
		if isBinaryPath(rel) {
			return true
		}
		if info, err := entry.Info(); err != nil || info.Size() > maxGrepFileSize {
			return true
		}
		grepFile(filepath.Join(root, rel), slashRel, re, limit, &hits)
		return len(hits) < limit
	})
	if walkErr != nil {
		return searchError(fmt.Sprintf("walk workspace: %v", walkErr)), nil
	}
	if ctx.Err() != nil {
		return searchError("grep cancelled"), nil
	}

	if t.cfg.Ranker != nil {
		hits = t.cfg.Ranker.Rank(hits)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"pattern":   input.Pattern,
		"hits":      hits,
		"count":     len(hits),
		"truncated": len(hits) >= limit,
	}, "", "  ")
	if err != nil {
		return searchError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func grepFile(path, rel string, re *regexp.Regexp, limit int, hits *[]Hit) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			// NUL byte: treat the file as binary and stop scanning it
			return
		}
		if !re.MatchString(line) {
			continue
		}
		if len(line) > maxGrepLineLength {
			line = line[:maxGrepLineLength] + "…"
		}
		*hits = append(*hits, Hit{Path: rel, Line: lineNo, Text: line})
		if len(*hits) >= limit {
			return
		}
	}
}
