// Package tools holds presentation helpers shared by the tool
// implementations in the subpackages: compact one-line summaries of tool
// invocations for the CLI's progress output.
package tools

import (
	"fmt"
	"os"
	"strings"
)

// ToolDisplay is a rendered description of one tool invocation.
type ToolDisplay struct {
	// Title is the human label for the tool ("Read", "Shell", ...).
	Title string
	// Detail is the most interesting argument, e.g. the path being read
	// or the command being run. May be empty.
	Detail string
}

// displaySpec describes how to render one tool: its title and which
// argument keys carry the interesting detail, in priority order.
type displaySpec struct {
	title      string
	detailKeys []string
}

// displaySpecs maps tool names to their rendering rules. Tools not listed
// fall back to a title-cased name with no detail.
var displaySpecs = map[string]displaySpec{
	"read":            {title: "Read", detailKeys: []string{"path"}},
	"write":           {title: "Write", detailKeys: []string{"path"}},
	"edit":            {title: "Edit", detailKeys: []string{"path"}},
	"apply_patch":     {title: "Apply patch"},
	"glob_files":      {title: "Glob", detailKeys: []string{"pattern"}},
	"list_dir":        {title: "List", detailKeys: []string{"path"}},
	"grep":            {title: "Grep", detailKeys: []string{"pattern"}},
	"shell":           {title: "Shell", detailKeys: []string{"command"}},
	"process":         {title: "Process", detailKeys: []string{"action", "process_id"}},
	"web_fetch":       {title: "Fetch", detailKeys: []string{"url"}},
	"execute_code":    {title: "Execute code", detailKeys: []string{"language"}},
	"task":            {title: "Spawn task", detailKeys: []string{"prompt"}},
	"task_status":     {title: "Task status", detailKeys: []string{"task_id"}},
	"task_cancel":     {title: "Cancel task", detailKeys: []string{"task_id"}},
	"enter_plan_mode": {title: "Enter plan mode"},
	"exit_plan_mode":  {title: "Exit plan mode"},
	"reminder_set":    {title: "Set reminder", detailKeys: []string{"message"}},
	"reminder_list":   {title: "List reminders"},
	"reminder_cancel": {title: "Cancel reminder", detailKeys: []string{"id"}},
}

// maxDetailLength truncates long details (shell one-liners, task prompts)
// so the progress line stays one line.
const maxDetailLength = 80

// ResolveToolDisplay renders a display for a tool invocation. args is the
// decoded JSON arguments value (typically map[string]any); meta is an
// optional pre-rendered detail that wins over argument lookup.
func ResolveToolDisplay(name string, args interface{}, meta string) *ToolDisplay {
	spec, ok := displaySpecs[normalizeToolName(name)]
	if !ok {
		spec = displaySpec{title: defaultTitle(name)}
	}

	detail := strings.TrimSpace(meta)
	if detail == "" {
		for _, key := range spec.detailKeys {
			if value := coerceDisplayValue(lookupArg(args, key)); value != "" {
				detail = value
				break
			}
		}
	}
	detail = shortenHomePath(detail)
	if len(detail) > maxDetailLength {
		detail = detail[:maxDetailLength] + "…"
	}

	return &ToolDisplay{Title: spec.title, Detail: detail}
}

// FormatToolSummary renders "Title: detail" (or just the title).
func FormatToolSummary(display *ToolDisplay) string {
	if display == nil {
		return ""
	}
	if display.Detail == "" {
		return display.Title
	}
	return display.Title + ": " + display.Detail
}

// normalizeToolName strips namespace prefixes like "core." so both plain
// and namespaced registrations resolve to the same spec.
func normalizeToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// defaultTitle renders an unknown tool name readably: "my_tool" -> "My tool".
func defaultTitle(name string) string {
	name = normalizeToolName(name)
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return "Tool"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// lookupArg pulls one key out of the decoded arguments value.
func lookupArg(args interface{}, key string) interface{} {
	m, ok := args.(map[string]interface{})
	if !ok {
		return nil
	}
	return m[key]
}

// coerceDisplayValue renders an argument value as display text. Only
// scalars are shown; structured values are summarized by size.
func coerceDisplayValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		// first line only
		if idx := strings.IndexByte(v, '\n'); idx >= 0 {
			v = v[:idx]
		}
		return strings.TrimSpace(v)
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case []interface{}:
		return fmt.Sprintf("%d items", len(v))
	case map[string]interface{}:
		return fmt.Sprintf("%d fields", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// shortenHomePath replaces the home-directory prefix with "~".
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}
