package agent

import (
	"github.com/google/uuid"

	"github.com/coreagent/loopcore/internal/contextmgr"
	"github.com/coreagent/loopcore/pkg/models"
)

// repairTranscript fixes up a persisted history before it is packed into a
// prompt. It runs in two passes:
//
//  1. fillMissingToolCallIDs patches results an upstream provider returned
//     without a tool_call_id, assigning them to the oldest still-pending
//     call from their enclosing assistant turn (message-level bookkeeping
//     that has no contextmgr.Item equivalent, since Item.CallID has no
//     "unknown" state to recover from).
//  2. The fixed-up history is projected into a contextmgr.Manager (module C)
//     transcript and normalized there: Manager.GetHistory synthesizes an
//     "aborted" FunctionOutput for any call still missing one and drops any
//     output whose call vanished. Those two verdicts are reapplied to the
//     original Message-level history, which groups tool calls/results per
//     message rather than as contextmgr's flat Item list.
func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	history = fillMissingToolCallIDs(history)

	mgr := contextmgr.New()
	callSeen := make(map[string]bool)
	outputSeen := make(map[string]bool)
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				callSeen[call.ID] = true
				mgr.RecordItems(contextmgr.Item{Kind: contextmgr.KindFunctionCall, CallID: call.ID, ToolName: call.Name})
			}
		case models.RoleTool:
			for _, res := range msg.ToolResults {
				if res.ToolCallID == "" {
					continue
				}
				outputSeen[res.ToolCallID] = true
				success := !res.IsError
				mgr.RecordItems(contextmgr.Item{Kind: contextmgr.KindFunctionOutput, CallID: res.ToolCallID, Output: res.Content, Success: &success})
			}
		}
	}

	normalizedOutputs := make(map[string]bool)
	for _, item := range mgr.GetHistory() {
		if item.Kind == contextmgr.KindFunctionOutput {
			normalizedOutputs[item.CallID] = true
		}
	}

	// Calls contextmgr had to fabricate an "aborted" output for: the call
	// was never answered (an interrupted prior turn).
	needsSyntheticResult := make(map[string]bool)
	for id := range callSeen {
		if !outputSeen[id] {
			needsSyntheticResult[id] = true
		}
	}
	// Outputs contextmgr dropped as orphans: no matching call survived.
	droppedOutputs := make(map[string]bool)
	for id := range outputSeen {
		if !normalizedOutputs[id] {
			droppedOutputs[id] = true
		}
	}

	repaired := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			repaired = append(repaired, msg)
			if synthetic := syntheticToolResults(msg, needsSyntheticResult); len(synthetic) > 0 {
				repaired = append(repaired, &models.Message{
					ID:          uuid.NewString(),
					SessionID:   msg.SessionID,
					Direction:   msg.Direction,
					Role:        models.RoleTool,
					ToolResults: synthetic,
					CreatedAt:   msg.CreatedAt,
				})
			}
		case models.RoleTool:
			fixed := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, res := range msg.ToolResults {
				if res.ToolCallID == "" || droppedOutputs[res.ToolCallID] {
					continue
				}
				fixed = append(fixed, res)
			}
			if len(fixed) == 0 {
				continue
			}
			copied := *msg
			copied.ToolResults = fixed
			repaired = append(repaired, &copied)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

// syntheticToolResults builds the "aborted" tool_result entries for any of
// msg's tool calls that contextmgr flagged as never answered.
func syntheticToolResults(msg *models.Message, needsSyntheticResult map[string]bool) []models.ToolResult {
	if len(needsSyntheticResult) == 0 {
		return nil
	}
	var synthetic []models.ToolResult
	for _, call := range msg.ToolCalls {
		if call.ID != "" && needsSyntheticResult[call.ID] {
			synthetic = append(synthetic, models.ToolResult{
				ToolCallID: call.ID,
				Content:    "aborted",
				IsError:    true,
			})
		}
	}
	return synthetic
}

// fillMissingToolCallIDs assigns a tool_call_id to any result an upstream
// provider returned without one, using the oldest still-pending call from
// the enclosing assistant turn.
func fillMissingToolCallIDs(history []*models.Message) []*models.Message {
	pending := make(map[string]struct{})
	pendingOrder := make([]string, 0)

	clearPending := func() {
		for k := range pending {
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
	}

	out := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			clearPending()
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				pending[call.ID] = struct{}{}
				pendingOrder = append(pendingOrder, call.ID)
			}
			out = append(out, msg)
		case models.RoleTool:
			if len(msg.ToolResults) == 0 {
				out = append(out, msg)
				continue
			}
			changed := false
			fixed := make([]models.ToolResult, len(msg.ToolResults))
			for i, res := range msg.ToolResults {
				if res.ToolCallID == "" && len(pendingOrder) > 0 {
					res.ToolCallID = pendingOrder[0]
					changed = true
				}
				if res.ToolCallID != "" {
					delete(pending, res.ToolCallID)
					pendingOrder = removeID(pendingOrder, res.ToolCallID)
				}
				fixed[i] = res
			}
			if !changed {
				out = append(out, msg)
				continue
			}
			copied := *msg
			copied.ToolResults = fixed
			out = append(out, &copied)
		default:
			out = append(out, msg)
		}
	}
	return out
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
