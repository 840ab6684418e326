package sysreminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Diagnostic is one compiler/LSP finding surfaced to the model.
type Diagnostic struct {
	Path     string
	Line     int
	Severity string
	Message  string
}

// DiagnosticsGenerator surfaces new diagnostics from an injected source
// (typically an LSP bridge) under the new-diagnostics tag. The source is
// expected to drain: diagnostics already reported are not returned again.
type DiagnosticsGenerator struct {
	source func() []Diagnostic
}

// NewDiagnosticsGenerator creates a generator reading from source.
func NewDiagnosticsGenerator(source func() []Diagnostic) *DiagnosticsGenerator {
	return &DiagnosticsGenerator{source: source}
}

func (g *DiagnosticsGenerator) Name() string { return "diagnostics" }
func (g *DiagnosticsGenerator) Tier() Tier   { return TierCore }
func (g *DiagnosticsGenerator) Tag() string  { return TagNewDiagnostics }

func (g *DiagnosticsGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.source == nil {
		return "", nil
	}
	diags := g.source()
	if len(diags) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, d := range diags {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:%d [%s] %s", d.Path, d.Line, d.Severity, d.Message)
	}
	return b.String(), nil
}

// TodoItem is one entry on the session's to-do list.
type TodoItem struct {
	Text string
	Done bool
}

// TodoList is the shared, concurrency-safe to-do state the generator reads
// and the UI (or a todo tool) writes.
type TodoList struct {
	mu    sync.Mutex
	items []TodoItem
}

// NewTodoList creates an empty list.
func NewTodoList() *TodoList {
	return &TodoList{}
}

// Set replaces the whole list.
func (l *TodoList) Set(items []TodoItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]TodoItem(nil), items...)
}

// Items returns a copy of the current list.
func (l *TodoList) Items() []TodoItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TodoItem(nil), l.items...)
}

// TodoGenerator reminds the model of its open to-do items so multi-step
// work is not silently dropped between turns.
type TodoGenerator struct {
	list *TodoList
}

// NewTodoGenerator creates a generator over the shared list.
func NewTodoGenerator(list *TodoList) *TodoGenerator {
	return &TodoGenerator{list: list}
}

func (g *TodoGenerator) Name() string         { return "todo_list" }
func (g *TodoGenerator) Tier() Tier           { return TierMainAgentOnly }
func (g *TodoGenerator) MinTurnsBetween() int { return 3 }

func (g *TodoGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.list == nil {
		return "", nil
	}
	items := g.list.Items()
	open := 0
	var b strings.Builder
	for _, item := range items {
		if item.Done {
			continue
		}
		open++
		fmt.Fprintf(&b, "\n- %s", item.Text)
	}
	if open == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d to-do item(s) still open:%s", open, b.String()), nil
}

// TokenUsageGenerator warns the model as the context window fills, so it
// can wrap up or summarize before compaction cuts in. source reports
// (used, window) token counts.
type TokenUsageGenerator struct {
	source    func() (used, window int)
	threshold float64
}

// NewTokenUsageGenerator creates the generator; threshold is the fill
// ratio above which the warning fires (default 0.7 when <= 0).
func NewTokenUsageGenerator(source func() (int, int), threshold float64) *TokenUsageGenerator {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &TokenUsageGenerator{source: source, threshold: threshold}
}

func (g *TokenUsageGenerator) Name() string         { return "token_usage" }
func (g *TokenUsageGenerator) Tier() Tier           { return TierCore }
func (g *TokenUsageGenerator) MinTurnsBetween() int { return 5 }

func (g *TokenUsageGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.source == nil {
		return "", nil
	}
	used, window := g.source()
	if window <= 0 || used <= 0 {
		return "", nil
	}
	ratio := float64(used) / float64(window)
	if ratio < g.threshold {
		return "", nil
	}
	return fmt.Sprintf("Context window is %.0f%% full (%d of %d tokens). Older history may be summarized soon; capture anything important now.", ratio*100, used, window), nil
}

// BudgetGenerator tells the main agent how much of its iteration budget
// remains, so it can prioritize when running low.
type BudgetGenerator struct {
	source func() (remaining, total int)
}

// NewBudgetGenerator creates the generator from a budget source.
func NewBudgetGenerator(source func() (int, int)) *BudgetGenerator {
	return &BudgetGenerator{source: source}
}

func (g *BudgetGenerator) Name() string { return "budget" }
func (g *BudgetGenerator) Tier() Tier   { return TierMainAgentOnly }

func (g *BudgetGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.source == nil {
		return "", nil
	}
	remaining, total := g.source()
	if total <= 0 || remaining > total/4 {
		return "", nil
	}
	return fmt.Sprintf("Only %d of %d loop iterations remain. Finish the essential steps first.", remaining, total), nil
}

// QueuedCommandsGenerator tells the model about user messages queued while
// it was working, so it can fold them in instead of being surprised next
// turn. Emitted under the system-notification tag.
type QueuedCommandsGenerator struct {
	source func() []string
}

// NewQueuedCommandsGenerator creates the generator from a queue peek
// function.
func NewQueuedCommandsGenerator(source func() []string) *QueuedCommandsGenerator {
	return &QueuedCommandsGenerator{source: source}
}

func (g *QueuedCommandsGenerator) Name() string { return "queued_commands" }
func (g *QueuedCommandsGenerator) Tier() Tier   { return TierMainAgentOnly }
func (g *QueuedCommandsGenerator) Tag() string  { return TagSystemNotification }

func (g *QueuedCommandsGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.source == nil {
		return "", nil
	}
	queued := g.source()
	if len(queued) == 0 {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d user message(s) queued while you were working:", len(queued))
	for _, q := range queued {
		if len(q) > 200 {
			q = q[:200] + "…"
		}
		fmt.Fprintf(&b, "\n- %s", q)
	}
	return b.String(), nil
}
