package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreagent/loopcore/internal/agent"
	"github.com/coreagent/loopcore/internal/sessions"
	"github.com/coreagent/loopcore/internal/tasks"
)

const shutdownGrace = 10 * time.Second

func newTasksCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "run the scheduled task worker against the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskWorker(flags)
		},
	}
}

// runTaskWorker wires a task store, an agent-backed executor, and the
// scheduler, then blocks polling for due tasks until interrupted.
func runTaskWorker(flags *rootFlags) error {
	logger := newLogger(flags.logLevel)

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("tasks requires database.url to be configured")
	}

	store, err := tasks.NewCockroachStoreFromDSN(cfg.Database.URL, tasks.DefaultCockroachConfig())
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	provider, err := buildProvider(cfg, flags.provider)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	sessionStore := sessions.NewMemoryStore()
	runtime := agent.NewRuntime(provider, sessionStore)

	executor := tasks.NewAgentExecutor(runtime, sessionStore, tasks.AgentExecutorConfig{Logger: logger})

	schedulerConfig := tasks.DefaultSchedulerConfig()
	schedulerConfig.Logger = logger

	scheduler := tasks.NewScheduler(store, executor, schedulerConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting task worker", "worker_id", schedulerConfig.WorkerID)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return scheduler.Stop(stopCtx)
}
