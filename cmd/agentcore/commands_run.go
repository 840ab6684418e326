package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coreagent/loopcore/internal/agent"
	"github.com/coreagent/loopcore/internal/agent/tape"
	"github.com/coreagent/loopcore/internal/approval"
	"github.com/coreagent/loopcore/internal/config"
	"github.com/coreagent/loopcore/internal/eventbus"
	"github.com/coreagent/loopcore/internal/filewatch"
	"github.com/coreagent/loopcore/internal/gateway"
	"github.com/coreagent/loopcore/internal/hooks"
	"github.com/coreagent/loopcore/internal/observability"
	"github.com/coreagent/loopcore/internal/planmode"
	"github.com/coreagent/loopcore/internal/sandboxmgr"
	"github.com/coreagent/loopcore/internal/sessions"
	"github.com/coreagent/loopcore/internal/sysreminder"
	"github.com/coreagent/loopcore/internal/tasks"
	"github.com/coreagent/loopcore/internal/tools"
	execpkg "github.com/coreagent/loopcore/internal/tools/exec"
	"github.com/coreagent/loopcore/internal/tools/files"
	"github.com/coreagent/loopcore/internal/tools/reminders"
	"github.com/coreagent/loopcore/internal/tools/sandbox"
	"github.com/coreagent/loopcore/internal/tools/search"
	"github.com/coreagent/loopcore/internal/tools/spawn"
	"github.com/coreagent/loopcore/internal/tools/webfetch"
	"github.com/coreagent/loopcore/internal/usage"
	"github.com/coreagent/loopcore/pkg/models"
)

const cliChannel models.ChannelType = "cli"

// tapeFlags are the record/replay/trace options shared by run and resume.
type tapeFlags struct {
	record string
	replay string
	trace  string
}

func (f *tapeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.record, "record-tape", "", "record the provider conversation to this tape file")
	cmd.Flags().StringVar(&f.replay, "replay-tape", "", "replay a recorded tape instead of calling a live provider")
	cmd.Flags().StringVar(&f.trace, "trace", "", "write the run's event stream to this JSONL file")
}

func newRunCommand(flags *rootFlags) *cobra.Command {
	var message string
	tapes := &tapeFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a single turn against a fresh session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurn(flags, tapes, "", message)
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message to send; reads stdin when empty")
	tapes.register(cmd)
	return cmd
}

func newResumeCommand(flags *rootFlags) *cobra.Command {
	var sessionKey, message string
	tapes := &tapeFlags{}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "resume an existing session by key and send another turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionKey == "" {
				return fmt.Errorf("--session is required")
			}
			return runTurn(flags, tapes, sessionKey, message)
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "", "session key to resume")
	cmd.Flags().StringVar(&message, "message", "", "message to send; reads stdin when empty")
	tapes.register(cmd)
	return cmd
}

// runTurn wires a provider, session store, and runtime, then drives one turn
// of the agentic loop, streaming response chunks to stdout as they arrive.
func runTurn(flags *rootFlags, tapes *tapeFlags, sessionKey, message string) error {
	logger := newLogger(flags.logLevel)

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	provider, err := buildTurnProvider(cfg, flags, tapes)
	if err != nil {
		return err
	}

	if message == "" {
		scanner := bufio.NewScanner(os.Stdin)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		message = strings.Join(lines, "\n")
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("no message provided on --message or stdin")
	}

	store := sessions.NewMemoryStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentID := "agentcore"
	key := sessionKey
	if key == "" {
		key = sessions.SessionKey(agentID, cliChannel, uuid.NewString())
	}
	session, err := store.GetOrCreate(ctx, key, agentID, cliChannel, key)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}
	session.Metadata["working_dir"] = cfg.Workspace.Path

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   cliChannel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   message,
	}

	systemPrompt, err := gateway.BuildSystemPrompt(cfg, session.ID, msg)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}

	runtime := agent.NewRuntime(provider.inner, store)
	runtime.SetSystemPrompt(systemPrompt)
	runtime.SetBranchStore(sessions.NewMemoryBranchStore())

	if tapes.trace != "" {
		tracePlugin, traceErr := agent.NewTracePluginFile(tapes.trace, session.ID)
		if traceErr != nil {
			logger.Error("trace disabled", "error", traceErr)
		} else {
			defer tracePlugin.Close()
			runtime.Use(tracePlugin)
		}
	}
	maxIterations := cfg.Tools.Execution.MaxIterations
	if maxIterations > 0 {
		runtime.SetMaxIterations(maxIterations)
	} else {
		maxIterations = 5
	}

	bus := eventbus.New(0)
	runtime.SetEventBus(bus)

	planState := planmode.NewState()

	// One shared watcher: the read tool registers files on it, the
	// stale-files reminder generator polls it.
	watcher, watchErr := filewatch.New()
	if watchErr != nil {
		logger.Debug("file watcher unavailable, stale-file reminders disabled", "error", watchErr)
		watcher = nil
	}

	registerTools(runtime, cfg, logger, bus, planState, watcher)

	riskMgr := approval.New(approval.DefaultPolicy())
	approvalChecker := agent.NewApprovalChecker(agent.DefaultApprovalPolicy())
	approvalChecker.SetRiskManager(riskMgr, toolRiskLevel)
	runtime.SetOptions(agent.RuntimeOptions{
		ApprovalChecker: approvalChecker,
		ToolHooks:       buildToolHooks(logger, cfg, planState),
	})

	// Tracing exports per-turn spans when an OTLP endpoint is configured.
	if cfg.Observability.Tracing.Enabled {
		_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: Version,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			Insecure:       cfg.Observability.Tracing.Insecure,
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}()
	}

	// Track per-model token usage and loop-iteration spend through a
	// plugin, feeding the token-usage and budget reminder generators plus
	// the request/tool metrics.
	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	metrics := observability.NewMetrics()
	var itersSeen atomic.Int64
	providerName := provider.inner.Name()
	modelID := cfg.LLM.Providers[strings.ToLower(providerName)].DefaultModel
	runtime.Use(agent.PluginFunc(func(_ context.Context, e models.AgentEvent) {
		switch e.Type {
		case models.AgentEventIterStarted:
			itersSeen.Add(1)
		case models.AgentEventModelCompleted:
			if e.Stream != nil {
				tracker.Record(usage.Record{
					ID:       uuid.NewString(),
					Provider: e.Stream.Provider,
					Model:    e.Stream.Model,
					Usage: usage.Usage{
						InputTokens:  int64(e.Stream.InputTokens),
						OutputTokens: int64(e.Stream.OutputTokens),
					},
					Timestamp: e.Time,
				})
				metrics.RecordLLMRequest(e.Stream.Provider, e.Stream.Model, "ok", 0, e.Stream.InputTokens, e.Stream.OutputTokens)
			}
		case models.AgentEventToolFinished:
			if e.Tool != nil {
				status := "ok"
				if !e.Tool.Success {
					status = "error"
				}
				metrics.RecordToolExecution(e.Tool.Name, status, e.Tool.Elapsed.Seconds())
			}
		case models.AgentEventRunError:
			if e.Error != nil {
				metrics.RecordError("agent-loop", e.Error.Code)
			}
		}
	}))

	steering := agent.NewSteeringQueue()
	ctx = agent.WithSteeringQueue(ctx, steering)

	runtime.SetReminderOrchestrator(buildReminders(watcher, planState, riskMgr, tracker, steering, providerName, modelID, maxIterations, &itersSeen))

	logger.Info("starting turn", "session", session.ID, "provider", providerName)

	chunks, err := runtime.Process(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("process turn: %w", err)
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			logger.Error("turn error", "error", chunk.Error)
			continue
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventStarted {
			var args any
			_ = json.Unmarshal(chunk.ToolEvent.Input, &args)
			if display := tools.ResolveToolDisplay(chunk.ToolEvent.ToolName, args, ""); display != nil {
				fmt.Fprintln(os.Stderr, "· "+tools.FormatToolSummary(display))
			}
		}
		if chunk.Text != "" {
			fmt.Print(chunk.Text)
		}
	}
	fmt.Println()

	if tapes.record != "" && provider.recorder != nil {
		if data, err := provider.recorder.Tape().Marshal(); err != nil {
			logger.Error("marshal tape", "error", err)
		} else if err := os.WriteFile(tapes.record, data, 0o644); err != nil {
			logger.Error("write tape", "error", err)
		} else {
			logger.Info("tape recorded", "path", tapes.record)
		}
	}

	return nil
}

// turnProvider is the provider stack for one turn, keeping a handle on the
// recorder when taping is on.
type turnProvider struct {
	inner    agent.LLMProvider
	recorder *tape.Recorder
}

func buildTurnProvider(cfg *config.Config, flags *rootFlags, tapes *tapeFlags) (*turnProvider, error) {
	if tapes.replay != "" {
		data, err := os.ReadFile(tapes.replay)
		if err != nil {
			return nil, fmt.Errorf("read tape: %w", err)
		}
		recorded, err := tape.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decode tape: %w", err)
		}
		return &turnProvider{inner: tape.NewReplayer(recorded).WithMode(tape.ReplayLoose)}, nil
	}

	provider, err := buildRuntimeProvider(cfg, flags.provider)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}
	if tapes.record != "" {
		recorder := tape.NewRecorder(provider)
		return &turnProvider{inner: recorder, recorder: recorder}, nil
	}
	return &turnProvider{inner: provider}, nil
}

// buildReminders assembles the per-turn reminder generator set.
func buildReminders(
	watcher *filewatch.Watcher,
	planState *planmode.State,
	riskMgr *approval.Manager,
	tracker *usage.Tracker,
	steering *agent.SteeringQueue,
	providerName, modelID string,
	maxIterations int,
	itersSeen *atomic.Int64,
) *sysreminder.Orchestrator {
	reminders := sysreminder.New(nil, sysreminder.NewThrottle(0))

	reminders.Register(sysreminder.NewSecurityGuidelinesGenerator(""))
	reminders.Register(sysreminder.NewPlanModeGenerator(planState))
	reminders.Register(sysreminder.NewProjectMemoryGenerator(5))
	reminders.Register(sysreminder.NewSkillsGenerator(""))
	reminders.Register(sysreminder.NewAtMentionedFilesGenerator())
	reminders.Register(sysreminder.NewTodoGenerator(sysreminder.NewTodoList()))
	reminders.Register(sysreminder.NewQueuedCommandsGenerator(steering.PendingContents))
	reminders.Register(sysreminder.NewBudgetGenerator(func() (int, int) {
		remaining := maxIterations - int(itersSeen.Load())
		if remaining < 0 {
			remaining = 0
		}
		return remaining, maxIterations
	}))

	const contextWindow = 200000
	if modelID != "" {
		provider := strings.ToLower(providerName)
		reminders.Register(sysreminder.NewTokenUsageGenerator(func() (int, int) {
			totals := tracker.GetTotals(provider, modelID)
			if totals == nil {
				return 0, contextWindow
			}
			return int(totals.InputTokens + totals.OutputTokens), contextWindow
		}, 0))
	}

	if watcher != nil {
		reminders.Register(sysreminder.NewStaleFilesGenerator(watcher))
	}
	reminders.Register(sysreminder.NewPendingApprovalsGenerator(func() int { return len(riskMgr.ListPending()) }))

	return reminders
}

// buildToolHooks wires the pre/post tool hooks: a plan-mode guard that
// vetoes mutating tools while a plan is being written, and an audit hook
// mirroring every execution into a secret-redacting audit log.
func buildToolHooks(logger *slog.Logger, cfg *config.Config, planState *planmode.State) *hooks.ToolHookManager {
	registry := hooks.NewRegistry(logger)
	mgr := hooks.NewToolHookManager(registry, logger)

	mgr.RegisterPreHook("plan-mode-guard", func(_ context.Context, hc *hooks.ToolHookContext) error {
		if planState.Active() {
			hc.Canceled = true
			hc.CancelReason = "plan mode is active; finish the plan and call exit_plan_mode before making changes"
		}
		return nil
	}, hooks.ForTools("write", "edit", "apply_patch", "shell", "process", "task", "web_fetch"))

	// The audit trail goes through the redacting logger so tool arguments
	// containing keys or tokens never land in the log verbatim.
	audit := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	mgr.RegisterPostHook("tool-audit", func(ctx context.Context, hc *hooks.ToolHookContext) error {
		audit.Info(ctx, "tool executed",
			"tool", hc.ToolName,
			"call_id", hc.ToolCallID,
			"duration", hc.Duration.String(),
			"error", hc.ErrorMsg,
		)
		return nil
	})

	return mgr
}

// toolRiskLevel gives the approval risk manager a coarse classification for
// the built-in tool set: reads and searches are low risk, file mutation is
// medium, and anything that executes code or leaves the workspace (shell,
// web fetch, spawned sub-agents) is high.
func toolRiskLevel(toolName string) approval.RiskLevel {
	switch toolName {
	case "read", "glob_files", "list_dir", "grep", "task_status":
		return approval.RiskLow
	case "write", "edit", "apply_patch", "enter_plan_mode", "exit_plan_mode", "task_cancel":
		return approval.RiskMedium
	case "shell", "process", "web_fetch", "task":
		return approval.RiskHigh
	default:
		return approval.RiskMedium
	}
}

// registerTools wires the filesystem, search, shell, web, plan-mode, and
// spawn-task tools into runtime, scoped to the configured workspace root.
func registerTools(runtime *agent.Runtime, cfg *config.Config, logger *slog.Logger, bus *eventbus.Bus, planState *planmode.State, watcher *filewatch.Watcher) {
	workspace := cfg.Workspace.Path

	fileCfg := files.Config{
		Workspace:    workspace,
		EOL:          cfg.Tools.Files.EOL,
		MaxReadBytes: cfg.Tools.Files.MaxReadBytes,
	}
	if watcher != nil {
		fileCfg.Watcher = watcher
	}
	runtime.RegisterTool(files.NewReadTool(fileCfg))
	runtime.RegisterTool(files.NewWriteTool(fileCfg))
	runtime.RegisterTool(files.NewEditTool(fileCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(fileCfg))

	searchCfg := search.Config{Workspace: workspace}
	runtime.RegisterTool(search.NewGlobTool(searchCfg))
	runtime.RegisterTool(search.NewListDirTool(searchCfg))
	runtime.RegisterTool(search.NewGrepTool(searchCfg))

	runtime.RegisterTool(webfetch.New(webfetch.Config{MaxBodyBytes: cfg.Tools.WebFetch.MaxChars}))

	runtime.RegisterTool(planmode.NewEnterTool(planState))
	runtime.RegisterTool(planmode.NewExitTool(planState))

	// The isolated code-execution tool doubles as the external sandbox
	// backend: when it is up, the sandbox manager can report an external
	// backend available even on platforms with no native one.
	var codeExecutor *sandbox.Executor
	if cfg.Tools.Sandbox.Enabled {
		opts := []sandbox.Option{
			sandbox.WithNetworkEnabled(cfg.Tools.Sandbox.NetworkEnabled),
			sandbox.WithWorkspaceRoot(workspace),
		}
		if cfg.Tools.Sandbox.Backend != "" {
			opts = append(opts, sandbox.WithBackend(sandbox.Backend(cfg.Tools.Sandbox.Backend)))
		}
		executor, err := sandbox.NewExecutor(opts...)
		if err != nil {
			logger.Debug("code sandbox unavailable", "error", err)
		} else {
			codeExecutor = executor
			runtime.RegisterTool(executor)
		}
	}

	sandboxMgr := sandboxmgr.New(sandboxmgr.Policy{
		Preference:               sandboxmgr.PreferenceAuto,
		ExternalBackendAvailable: func() bool { return codeExecutor != nil },
	})
	execManager := execpkg.NewManagerWithSandbox(workspace, sandboxMgr, bus)
	runtime.RegisterTool(execpkg.NewExecTool("shell", execManager))
	runtime.RegisterTool(execpkg.NewProcessTool(execManager))

	// Sub-agent tasks run one nested loop iteration per prompt, in a
	// fresh session so their transcripts stay separate from the parent's.
	runner := spawn.RunnerFunc(func(ctx context.Context, taskID, prompt, modelOverride string, dryRun bool) (string, error) {
		subStore := sessions.NewMemoryStore()
		subSession, err := subStore.GetOrCreate(ctx, "task-"+taskID, "agentcore-task", cliChannel, taskID)
		if err != nil {
			return "", err
		}
		ctx = agent.WithSubAgent(ctx)
		if modelOverride != "" {
			ctx = agent.WithModel(ctx, modelOverride)
		}
		if dryRun {
			ctx = agent.WithRuntimeOptions(ctx, agent.RuntimeOptions{DryRun: true})
		}
		chunks, err := runtime.Process(ctx, subSession, &models.Message{
			ID:        uuid.NewString(),
			SessionID: subSession.ID,
			Channel:   cliChannel,
			Direction: models.DirectionInbound,
			Role:      models.RoleUser,
			Content:   prompt,
		})
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for chunk := range chunks {
			if chunk.Error != nil {
				return b.String(), chunk.Error
			}
			b.WriteString(chunk.Text)
		}
		return b.String(), nil
	})
	if supervisor, err := spawn.NewSupervisor(cfg.Tasks.Dir, runner); err != nil {
		logger.Debug("spawn supervisor unavailable, task tools disabled", "error", err)
	} else {
		runtime.RegisterTool(spawn.NewTaskTool(supervisor))
		runtime.RegisterTool(spawn.NewTaskStatusTool(supervisor))
		runtime.RegisterTool(spawn.NewTaskCancelTool(supervisor))
	}

	// Calendar reminders are backed by the scheduled-task store, so they
	// are only on when a database is configured.
	if dsn := strings.TrimSpace(cfg.Database.URL); dsn != "" {
		if taskStore, err := tasks.NewCockroachStoreFromDSN(dsn, nil); err != nil {
			logger.Debug("reminder tools disabled", "error", err)
		} else {
			runtime.RegisterTool(reminders.NewSetTool(taskStore))
			runtime.RegisterTool(reminders.NewListTool(taskStore))
			runtime.RegisterTool(reminders.NewCancelTool(taskStore))
		}
	}
}
