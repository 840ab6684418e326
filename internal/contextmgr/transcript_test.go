package contextmgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordItemsDropsNonAPIAndKeepsGhostSnapshot(t *testing.T) {
	m := New()
	m.RecordItems(
		Item{Kind: KindMessage, Role: "system", Content: "setup"},
		Item{Kind: KindMessage, Role: "user", Content: "hi"},
		Item{Kind: KindGhostSnapshot, SnapshotRef: "snap-1"},
	)

	history := m.GetHistory()
	if len(history) != 2 {
		t.Fatalf("expected system message dropped, ghost snapshot kept: got %d items", len(history))
	}
	if history[0].Kind != KindMessage || history[0].Role != "user" {
		t.Fatalf("expected first kept item to be the user message, got %+v", history[0])
	}
	if history[1].Kind != KindGhostSnapshot {
		t.Fatalf("expected ghost snapshot retained in raw history, got %+v", history[1])
	}
}

func TestGetHistoryForPromptStripsGhostSnapshots(t *testing.T) {
	m := New()
	m.RecordItems(
		Item{Kind: KindMessage, Role: "user", Content: "hi"},
		Item{Kind: KindGhostSnapshot, SnapshotRef: "snap-1"},
	)

	prompt := m.GetHistoryForPrompt()
	for _, item := range prompt {
		if item.Kind == KindGhostSnapshot {
			t.Fatalf("expected ghost snapshot excluded from prompt history")
		}
	}
}

func TestNormalizeSynthesizesAbortedOutputForMissingCall(t *testing.T) {
	m := New()
	m.RecordItems(Item{Kind: KindFunctionCall, CallID: "call-1", ToolName: "read_file"})

	history := m.GetHistory()
	if len(history) != 2 {
		t.Fatalf("expected a synthetic output inserted, got %d items", len(history))
	}
	if history[1].Kind != KindFunctionOutput || history[1].Output != "aborted" {
		t.Fatalf("expected synthesized aborted output, got %+v", history[1])
	}
}

func TestNormalizeRemovesOrphanOutput(t *testing.T) {
	m := New()
	m.RecordItems(Item{Kind: KindFunctionOutput, CallID: "ghost-call", Output: "result"})

	history := m.GetHistory()
	if len(history) != 0 {
		t.Fatalf("expected orphan output removed, got %+v", history)
	}
}

func TestRemoveFirstItemRemovesPairedCounterpart(t *testing.T) {
	m := New()
	m.RecordItems(
		Item{Kind: KindFunctionCall, CallID: "call-1", ToolName: "read_file"},
		Item{Kind: KindFunctionOutput, CallID: "call-1", Output: "ok"},
		Item{Kind: KindMessage, Role: "assistant", Content: "done"},
	)

	m.RemoveFirstItem()

	history := m.GetHistory()
	if len(history) != 1 {
		t.Fatalf("expected call+output pair removed together, got %+v", history)
	}
	if history[0].Role != "assistant" {
		t.Fatalf("expected the assistant message to remain, got %+v", history[0])
	}
}

func TestOutputTruncation(t *testing.T) {
	long := strings.Repeat("x", maxOutputBytes*2)
	m := New()
	m.RecordItems(Item{Kind: KindFunctionCall, CallID: "c1"})
	m.RecordItems(Item{Kind: KindFunctionOutput, CallID: "c1", Output: long})

	history := m.GetHistory()
	var output Item
	for _, item := range history {
		if item.Kind == KindFunctionOutput {
			output = item
		}
	}
	if len(output.Output) >= len(long) {
		t.Fatalf("expected output to be truncated, got length %d", len(output.Output))
	}
	if !strings.Contains(output.Output, "bytes elided") {
		t.Fatalf("expected elision marker in truncated output")
	}
}

func TestSaveAndLoadTranscript(t *testing.T) {
	m := New()
	m.RecordItems(
		Item{Kind: KindMessage, Role: "user", Content: "hello"},
		Item{Kind: KindFunctionCall, CallID: "c1", ToolName: "read_file"},
		Item{Kind: KindFunctionOutput, CallID: "c1", Output: "contents"},
	)

	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := m.SaveTranscript(path); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected transcript file to exist: %v", err)
	}

	loaded, err := LoadTranscript(path)
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if got := loaded.GetHistory(); len(got) != 3 {
		t.Fatalf("expected 3 restored items, got %d", len(got))
	}
}
