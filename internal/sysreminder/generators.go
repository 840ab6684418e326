package sysreminder

import (
	"context"
	"fmt"

	"github.com/coreagent/loopcore/internal/filewatch"
)

// StaleFilesGenerator reminds the model when files it has previously read
// have changed on disk since, so it knows not to trust a stale in-context
// copy. It is TierCore: relevant on every turn, not just after a fresh user
// message.
type StaleFilesGenerator struct {
	watcher *filewatch.Watcher
}

// NewStaleFilesGenerator creates a generator backed by a shared file watcher.
func NewStaleFilesGenerator(w *filewatch.Watcher) *StaleFilesGenerator {
	return &StaleFilesGenerator{watcher: w}
}

func (g *StaleFilesGenerator) Name() string { return "stale_files" }
func (g *StaleFilesGenerator) Tier() Tier   { return TierCore }

func (g *StaleFilesGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	if g.watcher == nil {
		return "", nil
	}
	changes := g.watcher.PollChanges()
	if len(changes) == 0 {
		return "", nil
	}
	if len(changes) == 1 {
		return fmt.Sprintf("File %s changed on disk since it was last read.", changes[0].Path), nil
	}
	return fmt.Sprintf("%d files changed on disk since they were last read; re-read before editing.", len(changes)), nil
}

// PendingApprovalsGenerator tells the model when tool calls are sitting in
// the approval queue, so it can decide to wait or proceed differently
// instead of repeating the same call. TierMainAgentOnly: spawned sub-agents
// cannot themselves see or act on the main agent's approval queue.
type PendingApprovalsGenerator struct {
	count func() int
}

// NewPendingApprovalsGenerator creates a generator that calls count to learn
// how many approvals are currently pending.
func NewPendingApprovalsGenerator(count func() int) *PendingApprovalsGenerator {
	return &PendingApprovalsGenerator{count: count}
}

func (g *PendingApprovalsGenerator) Name() string { return "pending_approvals" }
func (g *PendingApprovalsGenerator) Tier() Tier   { return TierMainAgentOnly }

func (g *PendingApprovalsGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.count == nil {
		return "", nil
	}
	n := g.count()
	if n == 0 {
		return "", nil
	}
	if n == 1 {
		return "1 tool call is waiting on approval.", nil
	}
	return fmt.Sprintf("%d tool calls are waiting on approval.", n), nil
}
