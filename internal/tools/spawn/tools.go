package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreagent/loopcore/internal/agent"
)

// TaskTool launches a background sub-agent through the supervisor.
type TaskTool struct {
	sup *Supervisor
}

// NewTaskTool creates the task tool.
func NewTaskTool(sup *Supervisor) *TaskTool {
	return &TaskTool{sup: sup}
}

func (t *TaskTool) Name() string { return "task" }

func (t *TaskTool) Description() string {
	return "Launch a background sub-agent with its own prompt and loop bound. Returns the task id immediately; use task_status to follow progress."
}

func (t *TaskTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The prompt the sub-agent works on.",
			},
			"task_type": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"agent", "shadow_agent"},
				"description": "agent executes tools; shadow_agent records them without executing (dry run).",
			},
			"iterations": map[string]interface{}{
				"type":        "integer",
				"description": "How many loop iterations to run (default 1).",
				"minimum":     1,
			},
			"duration_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Wall-clock bound on the whole task.",
				"minimum":     1,
			},
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Model override for the sub-agent.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the sub-agent.",
			},
		},
		"required": []string{"prompt"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *TaskTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Prompt          string `json:"prompt"`
		TaskType        string `json:"task_type"`
		Iterations      int    `json:"iterations"`
		DurationSeconds int    `json:"duration_seconds"`
		Model           string `json:"model"`
		Cwd             string `json:"cwd"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return spawnError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	taskType := TaskType(strings.TrimSpace(input.TaskType))
	switch taskType {
	case "", TaskTypeAgent, TaskTypeShadowAgent:
	default:
		return spawnError("task_type must be agent or shadow_agent"), nil
	}

	meta, err := t.sup.Spawn(ctx, Spec{
		Prompt:   input.Prompt,
		TaskType: taskType,
		Cwd:      input.Cwd,
		Loop: LoopCondition{
			Iterations: input.Iterations,
			Duration:   time.Duration(input.DurationSeconds) * time.Second,
		},
		ModelOverride: input.Model,
	})
	if err != nil {
		return spawnError(err.Error()), nil
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"task_id":   meta.TaskID,
		"task_type": meta.TaskType,
		"status":    meta.Status,
		"log_file":  meta.LogFile,
	}, "", "  ")
	if err != nil {
		return spawnError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// TaskStatusTool reports one task or lists all persisted tasks.
type TaskStatusTool struct {
	sup *Supervisor
}

// NewTaskStatusTool creates the task_status tool.
func NewTaskStatusTool(sup *Supervisor) *TaskStatusTool {
	return &TaskStatusTool{sup: sup}
}

func (t *TaskStatusTool) Name() string { return "task_status" }

func (t *TaskStatusTool) Description() string {
	return "Show a spawned task's metadata by id, or list all known tasks (including ones from before a restart) when no id is given."
}

func (t *TaskStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string","description":"Task to inspect; omit to list all."}}}`)
}

func (t *TaskStatusTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return spawnError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	var (
		payload []byte
		err     error
	)
	if strings.TrimSpace(input.TaskID) != "" {
		meta, getErr := t.sup.Get(input.TaskID)
		if getErr != nil {
			return spawnError(getErr.Error()), nil
		}
		payload, err = json.MarshalIndent(meta, "", "  ")
	} else {
		list, listErr := t.sup.List()
		if listErr != nil {
			return spawnError(listErr.Error()), nil
		}
		payload, err = json.MarshalIndent(map[string]interface{}{
			"tasks": list,
			"count": len(list),
		}, "", "  ")
	}
	if err != nil {
		return spawnError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// TaskCancelTool cancels a running task.
type TaskCancelTool struct {
	sup *Supervisor
}

// NewTaskCancelTool creates the task_cancel tool.
func NewTaskCancelTool(sup *Supervisor) *TaskCancelTool {
	return &TaskCancelTool{sup: sup}
}

func (t *TaskCancelTool) Name() string { return "task_cancel" }

func (t *TaskCancelTool) Description() string {
	return "Cancel a running spawned task. Cancellation propagates into the sub-agent's loop."
}

func (t *TaskCancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string","description":"Task to cancel."}},"required":["task_id"]}`)
}

func (t *TaskCancelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return spawnError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.TaskID) == "" {
		return spawnError("task_id is required"), nil
	}
	if !t.sup.Cancel(input.TaskID) {
		return spawnError("task not running: " + input.TaskID), nil
	}
	return &agent.ToolResult{Content: `{"cancelled":"` + input.TaskID + `"}`}, nil
}

func spawnError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
