package contextmgr

import (
	"log/slog"
	"sync"
)

// TokenUsage is the transcript's running token totals plus the known model
// context window size.
type TokenUsage struct {
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	ContextWindow int64
}

// Manager is the transcript of one conversation: an ordered, oldest-first
// list of Items plus running token accounting. It enforces two invariants on
// every read:
//  1. every call (function/local-shell) has a corresponding output
//  2. every output has a corresponding call
type Manager struct {
	mu    sync.Mutex
	items []Item
	usage TokenUsage
}

// New creates an empty transcript.
func New() *Manager {
	return &Manager{}
}

// TokenUsage returns a copy of the current running totals.
func (m *Manager) TokenUsage() TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// RecordUsage folds a turn's usage into the running totals. contextWindow,
// when nonzero, updates the known model context window size.
func (m *Manager) RecordUsage(input, output int64, contextWindow int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.InputTokens += input
	m.usage.OutputTokens += output
	m.usage.TotalTokens = m.usage.InputTokens + m.usage.OutputTokens
	if contextWindow > 0 {
		m.usage.ContextWindow = contextWindow
	}
}

// RecordItems appends items (oldest to newest), dropping anything that is
// neither an API message nor a ghost snapshot, and applying output
// truncation to any tool/shell output as it is stored.
func (m *Manager) RecordItems(items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		if !isAPIMessage(item) && !isGhostSnapshot(item) {
			continue
		}
		m.items = append(m.items, processItem(item))
	}
}

// GetHistory normalizes the transcript (repairing any missing/orphaned
// call-output pairs) and returns a copy of its contents, oldest first.
func (m *Manager) GetHistory() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.normalize()
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

// GetHistoryForPrompt returns the history prepared for the model: normalized,
// with ghost snapshots stripped out (they are an internal bookkeeping
// marker, never sent upstream).
func (m *Manager) GetHistoryForPrompt() []Item {
	history := m.GetHistory()
	out := history[:0:0]
	for _, item := range history {
		if item.Kind != KindGhostSnapshot {
			out = append(out, item)
		}
	}
	return out
}

// RemoveFirstItem evicts the oldest item (used by token-budget eviction in
// the agent loop). If the evicted item participates in a call/output pair,
// its counterpart is removed too, so the invariants hold without a full
// normalization pass.
func (m *Manager) RemoveFirstItem() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return
	}
	removed := m.items[0]
	m.items = m.items[1:]
	m.removeCorrespondingFor(removed)
}

// Replace swaps the entire transcript contents, e.g. after a compaction pass
// has produced a new, shorter item list.
func (m *Manager) Replace(items []Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]Item(nil), items...)
}

// normalize enforces call/output pairing: ensureCallOutputsPresent
// synthesizes an "aborted" output for
// any call missing one (this should only happen after an interrupted turn);
// removeOrphanOutputs drops any output whose call vanished (e.g. via
// RemoveFirstItem evicting the call but not yet the output, prior to the
// paired removal landing).
func (m *Manager) normalize() {
	m.ensureCallOutputsPresent()
	m.removeOrphanOutputs()
}

func (m *Manager) ensureCallOutputsPresent() {
	type insertion struct {
		at     int
		output Item
	}
	var missing []insertion

	for idx, item := range m.items {
		switch item.Kind {
		case KindFunctionCall, KindLocalShellCall:
			if item.CallID == "" {
				continue
			}
			if !m.hasOutputFor(item.CallID) {
				slog.Error("function call output missing for call id", "call_id", item.CallID)
				missing = append(missing, insertion{at: idx, output: Item{
					Kind:   KindFunctionOutput,
					CallID: item.CallID,
					Output: "aborted",
				}})
			}
		}
	}

	for i := len(missing) - 1; i >= 0; i-- {
		ins := missing[i]
		m.items = append(m.items[:ins.at+1], append([]Item{ins.output}, m.items[ins.at+1:]...)...)
	}
}

func (m *Manager) hasOutputFor(callID string) bool {
	for _, item := range m.items {
		if item.Kind == KindFunctionOutput && item.CallID == callID {
			return true
		}
	}
	return false
}

func (m *Manager) removeOrphanOutputs() {
	callIDs := make(map[string]struct{})
	for _, item := range m.items {
		if item.Kind == KindFunctionCall || item.Kind == KindLocalShellCall {
			callIDs[item.CallID] = struct{}{}
		}
	}
	kept := m.items[:0:0]
	for _, item := range m.items {
		if item.Kind == KindFunctionOutput {
			if _, ok := callIDs[item.CallID]; !ok {
				continue
			}
		}
		kept = append(kept, item)
	}
	m.items = kept
}

func (m *Manager) removeCorrespondingFor(item Item) {
	var match func(Item) bool
	switch item.Kind {
	case KindFunctionCall, KindLocalShellCall:
		match = func(i Item) bool { return i.Kind == KindFunctionOutput && i.CallID == item.CallID }
	case KindFunctionOutput:
		match = func(i Item) bool {
			return (i.Kind == KindFunctionCall || i.Kind == KindLocalShellCall) && i.CallID == item.CallID
		}
	default:
		return
	}
	for i, cand := range m.items {
		if match(cand) {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

// processItem applies output truncation on the way into the transcript, so
// the stored copy is already bounded and nothing downstream needs to
// re-truncate.
func processItem(item Item) Item {
	switch item.Kind {
	case KindFunctionOutput:
		item.Output = truncateOutput(item.Output)
		for i := range item.OutputItems {
			item.OutputItems[i].Content = truncateOutput(item.OutputItems[i].Content)
		}
		return item
	default:
		return item
	}
}
