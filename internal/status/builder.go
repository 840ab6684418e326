// Package status renders the session status, help, and command listings the
// CLI prints on request: resolved provider and model, token usage and cost,
// context fill, and session identity.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreagent/loopcore/internal/commands"
	"github.com/coreagent/loopcore/internal/config"
)

var (
	// Version is the build version, set at link time.
	Version = "dev"
	// GitCommit is the short commit hash, set at link time.
	GitCommit = ""
)

// StatusArgs carries everything the status panel can report. Zero fields
// are omitted from the output.
type StatusArgs struct {
	Config     *config.Config
	SessionKey string

	// ModelAuth describes how the provider is authenticated: "api-key",
	// "oauth", or "unknown".
	ModelAuth string

	// Model info
	Provider      string
	Model         string
	ContextTokens int

	// Usage info
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	CompactionCount int
	ResponseTimeMs  int64

	// Session timing
	UpdatedAt *time.Time
	Now       time.Time
}

// SkillCommand describes a command contributed by a workspace skill file.
type SkillCommand struct {
	Name        string
	Aliases     []string
	Description string
}

// FormatTokenCount renders a token count compactly: 999, 1.2k, 15k, 1.2M.
func FormatTokenCount(tokens int) string {
	switch {
	case tokens >= 1_000_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(tokens)/1_000_000), ".0") + "M"
	case tokens >= 10_000:
		return fmt.Sprintf("%dk", tokens/1000)
	case tokens >= 1_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(tokens)/1000), ".0") + "k"
	default:
		return fmt.Sprintf("%d", tokens)
	}
}

// FormatContextUsageShort renders "15k/200k (8%)" context fill.
func FormatContextUsageShort(total, contextTokens int) string {
	if contextTokens <= 0 {
		return fmt.Sprintf("Context: %s", FormatTokenCount(total))
	}
	pct := float64(total) / float64(contextTokens) * 100
	return fmt.Sprintf("Context: %s/%s (%.0f%%)", FormatTokenCount(total), FormatTokenCount(contextTokens), pct)
}

// FormatAge renders a duration since an event: 45s, 5m, 3h, 2d.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// FormatUsagePair renders "Tokens: 1.2k in / 500 out", or "" when no usage
// was recorded.
func FormatUsagePair(input, output int) string {
	if input <= 0 && output <= 0 {
		return ""
	}
	return fmt.Sprintf("Tokens: %s in / %s out", FormatTokenCount(input), FormatTokenCount(output))
}

// FormatResponseTime renders milliseconds as "850ms" or "1.2s".
func FormatResponseTime(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(ms)/1000), ".0") + "s"
}

// BuildStatusMessage renders the full status panel.
func BuildStatusMessage(args StatusArgs) string {
	if args.Now.IsZero() {
		args.Now = time.Now()
	}

	versionLine := "Agentcore " + Version
	if GitCommit != "" {
		versionLine += fmt.Sprintf(" (%s)", GitCommit)
	}

	provider := args.Provider
	if provider == "" {
		provider = "anthropic"
	}
	model := args.Model
	if model == "" {
		model = "unknown"
	}
	modelLine := fmt.Sprintf("Model: %s/%s", provider, model)
	if args.ModelAuth != "" && args.ModelAuth != "unknown" {
		modelLine += " · " + args.ModelAuth
	}

	lines := []string{versionLine, modelLine}

	if args.ResponseTimeMs > 0 {
		lines = append(lines, "Response time: "+FormatResponseTime(args.ResponseTimeMs))
	}

	if usagePair := FormatUsagePair(args.InputTokens, args.OutputTokens); usagePair != "" {
		usageLine := usagePair
		// Cost is only knowable for API-key auth, where the operator
		// pays per token.
		if args.ModelAuth == "api-key" {
			if costConfig := ResolveModelCostConfig(provider, model, args.Config); costConfig != nil {
				if cost := EstimateUsageCost(args.InputTokens, args.OutputTokens, costConfig); cost > 0 {
					usageLine += " · Cost: " + FormatUSD(cost)
				}
			}
		}
		lines = append(lines, usageLine)
	}

	lines = append(lines, fmt.Sprintf("%s · Compactions: %d",
		FormatContextUsageShort(args.TotalTokens, args.ContextTokens),
		args.CompactionCount))

	sessionKey := args.SessionKey
	if sessionKey == "" {
		sessionKey = "unknown"
	}
	sessionLine := "Session: " + sessionKey
	if args.UpdatedAt != nil && !args.UpdatedAt.IsZero() {
		sessionLine += fmt.Sprintf(" · updated %s ago", FormatAge(args.Now.Sub(*args.UpdatedAt)))
	}
	lines = append(lines, sessionLine)

	return strings.Join(lines, "\n")
}

// BuildHelpMessage renders the short help text pointing at the command
// listing.
func BuildHelpMessage(cfg *config.Config) string {
	_ = cfg
	var b strings.Builder
	b.WriteString("Agentcore ")
	b.WriteString(Version)
	b.WriteString("\n\nRun a turn with `run --message ...`, continue one with `resume --session ...`.\n")
	b.WriteString("Use `commands` to list everything available.\n")
	return b.String()
}

// BuildCommandsMessage renders the available command listing, including any
// commands contributed by workspace skills.
func BuildCommandsMessage(cfg *config.Config, skillCommands []SkillCommand) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range listCommands(cfg, skillCommands) {
		b.WriteString("  /" + cmd.Name)
		if len(cmd.Aliases) > 0 {
			b.WriteString(" (" + strings.Join(cmd.Aliases, ", ") + ")")
		}
		if cmd.Description != "" {
			b.WriteString(" — " + cmd.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type commandInfo struct {
	Name        string
	Aliases     []string
	Description string
}

// listCommands builds the list of available commands.
func listCommands(cfg *config.Config, skillCommands []SkillCommand) []commandInfo {
	_ = cfg
	cmds := []commandInfo{
		{Name: "status", Description: "Show current session status"},
		{Name: "help", Description: "Show help message"},
		{Name: "commands", Description: "List all available commands"},
		{Name: "compact", Description: "Compact conversation history"},
		{Name: "model", Description: "Change the model"},
		{Name: "usage", Description: "Show token usage"},
		{Name: "id", Description: "Show session identifier"},
	}

	for _, skill := range skillCommands {
		cmds = append(cmds, commandInfo{
			Name:        skill.Name,
			Aliases:     skill.Aliases,
			Description: skill.Description,
		})
	}

	return cmds
}

// CommandSpec returns a Command struct for the status command.
func CommandSpec() *commands.Command {
	return &commands.Command{
		Name:        "status",
		Description: "Show current session status",
		Usage:       "/status",
		Category:    "info",
	}
}
