package planmode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreagent/loopcore/internal/agent"
)

// EnterTool switches the session into plan mode.
type EnterTool struct {
	state *State
}

// NewEnterTool creates the enter_plan_mode tool bound to state.
func NewEnterTool(state *State) *EnterTool {
	return &EnterTool{state: state}
}

func (t *EnterTool) Name() string { return "enter_plan_mode" }

func (t *EnterTool) Description() string {
	return "Enter plan mode: investigate and produce a plan before making any changes. Mutating tools require explicit approval while planning."
}

func (t *EnterTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string","description":"Why planning is needed first."}}}`)
}

func (t *EnterTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	_ = params
	if !t.state.Enter() {
		return planError("already in plan mode"), nil
	}
	return &agent.ToolResult{Content: `{"plan_mode":"entered"}`}, nil
}

// ExitTool leaves plan mode, carrying the finished plan out with it.
type ExitTool struct {
	state *State
}

// NewExitTool creates the exit_plan_mode tool bound to state.
func NewExitTool(state *State) *ExitTool {
	return &ExitTool{state: state}
}

func (t *ExitTool) Name() string { return "exit_plan_mode" }

func (t *ExitTool) Description() string {
	return "Exit plan mode with the finished plan. The plan is echoed back next turn for verification before execution begins."
}

func (t *ExitTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"plan":{"type":"string","description":"The plan to carry out."}},"required":["plan"]}`)
}

func (t *ExitTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return planError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Plan) == "" {
		return planError("plan is required"), nil
	}
	if !t.state.Exit(input.Plan) {
		return planError("not in plan mode"), nil
	}
	return &agent.ToolResult{Content: `{"plan_mode":"exited"}`}, nil
}

func planError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
