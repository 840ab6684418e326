// Package spawn supervises background sub-agent tasks launched by the
// `task` tool: each task runs a nested agent loop in its own goroutine with
// its own cancellation, writes progress to a per-task log file, and persists
// a metadata file at every status transition so `task_status` can enumerate
// runs even after a process restart.
package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType distinguishes the supervised task flavors.
type TaskType string

const (
	// TaskTypeAgent runs a nested agent loop with tools enabled.
	TaskTypeAgent TaskType = "agent"
	// TaskTypeShadowAgent runs the nested loop in dry-run mode: tool
	// calls are recorded in the log but never dispatched.
	TaskTypeShadowAgent TaskType = "shadow_agent"
)

// Status is the lifecycle state of a supervised task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// LoopCondition bounds how long a task's inner loop runs: a fixed number of
// iterations, a wall-clock duration, or both (whichever ends first). The
// zero value means one iteration.
type LoopCondition struct {
	Iterations int           `json:"iterations,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

func (c LoopCondition) iterations() int {
	if c.Iterations <= 0 {
		return 1
	}
	return c.Iterations
}

// Metadata is the per-task record persisted to disk at every transition.
type Metadata struct {
	TaskID              string        `json:"task_id"`
	TaskType            TaskType      `json:"task_type"`
	Status              Status        `json:"status"`
	Prompt              string        `json:"prompt"`
	CreatedAt           time.Time     `json:"created_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	Cwd                 string        `json:"cwd,omitempty"`
	LoopCondition       LoopCondition `json:"loop_condition"`
	IterationsCompleted int           `json:"iterations_completed"`
	IterationsFailed    int           `json:"iterations_failed"`
	ModelOverride       string        `json:"model_override,omitempty"`
	LogFile             string        `json:"log_file"`
	Error               string        `json:"error,omitempty"`
}

// Runner executes one inner iteration of a spawned task: a single prompt
// through a nested agent loop. dryRun selects shadow-agent semantics.
type Runner interface {
	RunIteration(ctx context.Context, taskID, prompt, modelOverride string, dryRun bool) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, taskID, prompt, modelOverride string, dryRun bool) (string, error)

func (f RunnerFunc) RunIteration(ctx context.Context, taskID, prompt, modelOverride string, dryRun bool) (string, error) {
	return f(ctx, taskID, prompt, modelOverride, dryRun)
}

// Spec describes one spawn request.
type Spec struct {
	Prompt        string
	TaskType      TaskType
	Cwd           string
	Loop          LoopCondition
	ModelOverride string
}

// Supervisor owns the running task set and the on-disk metadata layout:
// <dir>/<task_id>.json next to <dir>/<task_id>.log.
type Supervisor struct {
	dir    string
	runner Runner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor persisting under dir.
func NewSupervisor(dir string, runner Runner) (*Supervisor, error) {
	if strings.TrimSpace(dir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".agentcore", "tasks")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	return &Supervisor{
		dir:     dir,
		runner:  runner,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Spawn starts a task in the background and returns its metadata
// immediately. The inner loop runs until the loop condition is exhausted,
// the duration elapses, or the task is cancelled.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Metadata, error) {
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	taskType := spec.TaskType
	if taskType == "" {
		taskType = TaskTypeAgent
	}

	id := uuid.NewString()
	meta := &Metadata{
		TaskID:        id,
		TaskType:      taskType,
		Status:        StatusRunning,
		Prompt:        spec.Prompt,
		CreatedAt:     time.Now().UTC(),
		Cwd:           spec.Cwd,
		LoopCondition: spec.Loop,
		ModelOverride: spec.ModelOverride,
		LogFile:       filepath.Join(s.dir, id+".log"),
	}
	if err := s.persist(meta); err != nil {
		return nil, err
	}

	// The task outlives the spawning turn: detach from the caller's
	// cancellation so interrupting the parent turn does not kill it, but
	// keep an explicit cancel handle for task_cancel.
	base := context.WithoutCancel(ctx)
	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if spec.Loop.Duration > 0 {
		taskCtx, cancel = context.WithTimeout(base, spec.Loop.Duration)
	} else {
		taskCtx, cancel = context.WithCancel(base)
	}

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(taskCtx, meta)

	return meta, nil
}

func (s *Supervisor) runLoop(ctx context.Context, meta *Metadata) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[meta.TaskID]; ok {
			cancel()
			delete(s.cancels, meta.TaskID)
		}
		s.mu.Unlock()
	}()

	log, err := os.OpenFile(meta.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.finish(meta, StatusFailed, fmt.Sprintf("open log: %v", err))
		return
	}
	defer log.Close()

	logf := func(format string, args ...any) {
		fmt.Fprintf(log, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	}

	dryRun := meta.TaskType == TaskTypeShadowAgent
	total := meta.LoopCondition.iterations()
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			break
		}
		logf("iteration %d/%d starting", i+1, total)
		response, err := s.runner.RunIteration(ctx, meta.TaskID, meta.Prompt, meta.ModelOverride, dryRun)
		if err != nil {
			meta.IterationsFailed++
			logf("iteration %d/%d failed: %v", i+1, total, err)
		} else {
			meta.IterationsCompleted++
			logf("iteration %d/%d completed: %s", i+1, total, firstLine(response))
		}
		// checkpoint progress so a crash loses at most one iteration
		if err := s.persist(meta); err != nil {
			logf("persist metadata: %v", err)
		}
	}

	switch {
	case ctx.Err() != nil && meta.LoopCondition.Duration > 0 && meta.IterationsCompleted > 0:
		// duration-bounded loops ending on the clock completed normally
		s.finish(meta, StatusCompleted, "")
	case ctx.Err() != nil:
		s.finish(meta, StatusCancelled, ctx.Err().Error())
	case meta.IterationsCompleted == 0:
		s.finish(meta, StatusFailed, "all iterations failed")
	default:
		s.finish(meta, StatusCompleted, "")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func (s *Supervisor) finish(meta *Metadata, status Status, errText string) {
	now := time.Now().UTC()
	meta.Status = status
	meta.CompletedAt = &now
	meta.Error = errText
	if err := s.persist(meta); err != nil {
		// metadata persistence is best-effort on the way out
		_ = err
	}
}

// Cancel stops a running task. Reports false when the task is not running.
func (s *Supervisor) Cancel(taskID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Wait blocks until every spawned task has finished. Test and shutdown
// helper.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Get loads one task's metadata from disk.
func (s *Supervisor) Get(taskID string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, taskID+".json"))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return &meta, nil
}

// List enumerates every persisted task, newest first.
func (s *Supervisor) List() ([]*Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		meta, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// persist writes the metadata file, truncating any prior version.
func (s *Supervisor) persist(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task metadata: %w", err)
	}
	path := filepath.Join(s.dir, meta.TaskID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write task metadata: %w", err)
	}
	return nil
}
