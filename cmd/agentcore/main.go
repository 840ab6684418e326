// Package main provides the agentcore daemon: the terminal-facing coding
// agent's execution core. It loads a workspace config, wires a model
// provider, session store, job store, and the tool-execution loop, then
// drives turns over stdin/stdout or the task scheduler.
//
// Usage:
//
//	agentcore run --config loopcore.yaml --message "explain this repo"
//	agentcore tasks --config loopcore.yaml
//	agentcore doctor --config loopcore.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreagent/loopcore/internal/config"
)

// Version is set at build time.
var Version = "dev"

// rootFlags holds the flags shared across every subcommand.
type rootFlags struct {
	configPath string
	provider   string
	logLevel   string
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "loopcore.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore runs the coding agent's execution loop",
		Long: `agentcore loads a workspace configuration, wires a model provider and
session/job stores, and drives the tool-execution loop for one-shot turns,
resumed sessions, and scheduled tasks.`,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "loopcore.yaml", "path to the workspace config file")
	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "override the configured default LLM provider")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(flags))
	rootCmd.AddCommand(newResumeCommand(flags))
	rootCmd.AddCommand(newTasksCommand(flags))
	rootCmd.AddCommand(newDoctorCommand(flags))
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcore %s\n", Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
