// Package sysreminder runs the independent generator objects that produce
// system-reminder text injected into a turn's prompt: stale-file warnings,
// pending-approval nudges, todo-list status, and similar ambient context the
// model should see without the user having to ask for it.
//
// Named sysreminder (not "reminders") to stay distinct from the unrelated
// user-facing calendar-reminder tool kept elsewhere in this repository.
package sysreminder

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Tier controls which turns a generator's output is eligible to appear in.
type Tier int

const (
	// TierCore generators run on every turn.
	TierCore Tier = iota
	// TierMainAgentOnly generators only run for the top-level agent, never
	// for a spawned sub-agent task.
	TierMainAgentOnly
	// TierUserPrompt generators only run on turns that follow a fresh user
	// message, not on tool-result-only continuations.
	TierUserPrompt
)

// Generator produces reminder text for the current turn, or "" if it has
// nothing to say. Implementations should return quickly; Generate is always
// called with a context carrying a per-generator timeout.
type Generator interface {
	Name() string
	Tier() Tier
	Generate(ctx context.Context, req Request) (string, error)
}

// Request carries the information a generator needs to decide what to say.
type Request struct {
	IsMainAgent    bool
	FollowsUserMsg bool
	WorkingDir     string

	// Turn is a monotonically increasing per-session turn counter, used
	// by the turn-based throttle gate.
	Turn int

	// UserMessage is the text of the user message this turn began with,
	// empty on tool-result-only continuations.
	UserMessage string
}

// Tagger is an optional Generator extension selecting which wrapper tag the
// generator's output is emitted under. Generators without it use the
// default <system-reminder> tag. Each attachment type maps to exactly one
// tag.
type Tagger interface {
	Tag() string
}

// Throttled is an optional Generator extension declaring a minimum number
// of turns between two successful emissions. The orchestrator marks the
// emission turn only after the generator actually produced text, so a
// generator that stayed silent is not penalized.
type Throttled interface {
	MinTurnsBetween() int
}

// defaultGeneratorTimeout is the per-generator budget; a slow generator is
// dropped from this turn's output rather than delaying the whole turn.
const defaultGeneratorTimeout = 1000 * time.Millisecond

// Wrapper tags a generator may emit under. The default is TagSystemReminder;
// diagnostics and memory attachments carry their own tags so the model can
// tell the attachment types apart.
const (
	TagSystemReminder     = "system-reminder"
	TagNewDiagnostics     = "new-diagnostics"
	TagSessionMemory      = "session-memory"
	TagSystemNotification = "system-notification"
)

const (
	reminderOpen  = "<" + TagSystemReminder + ">"
	reminderClose = "</" + TagSystemReminder + ">"
)

// ThrottleKey identifies a class of reminder for throttling purposes (e.g.
// "stale_file:main.go"); a throttled key is suppressed until its cooldown
// elapses even if the generator would otherwise fire again.
type ThrottleKey string

// Throttle suppresses a generator's output if it fired too recently, so a
// reminder that is true every turn (e.g. "3 files are stale") does not spam
// the transcript on every single turn.
type Throttle struct {
	mu       sync.Mutex
	lastFire map[ThrottleKey]time.Time
	cooldown time.Duration
}

// NewThrottle creates a throttle with the given cooldown between repeats of
// the same key. A cooldown <= 0 disables throttling.
func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{lastFire: make(map[ThrottleKey]time.Time), cooldown: cooldown}
}

// Allow reports whether key may fire now, and records the firing if so.
func (t *Throttle) Allow(key ThrottleKey) bool {
	if t == nil || t.cooldown <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastFire[key]; ok && time.Since(last) < t.cooldown {
		return false
	}
	t.lastFire[key] = time.Now()
	return true
}

// Orchestrator owns the generator registry and runs them concurrently each
// turn, gating each one through three checks in order: is it enabled in
// config, does its tier match this turn, and has its throttle cooled down.
type Orchestrator struct {
	mu         sync.RWMutex
	generators []Generator
	enabled    map[string]bool
	throttle   *Throttle
	timeout    time.Duration

	// lastEmitTurn records, per generator, the turn of its last
	// successful emission, for the turn-based throttle gate.
	lastEmitTurn map[string]int
}

// New creates an Orchestrator. enabled maps generator name -> whether it may
// run at all (config gate); a generator absent from the map defaults to
// enabled. A nil throttle disables the throttle gate.
func New(enabled map[string]bool, throttle *Throttle) *Orchestrator {
	return &Orchestrator{
		enabled:      enabled,
		throttle:     throttle,
		timeout:      defaultGeneratorTimeout,
		lastEmitTurn: make(map[string]int),
	}
}

// SetTimeout overrides the per-generator timeout, mainly for tests.
func (o *Orchestrator) SetTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeout = d
}

// Register adds a generator to the registry.
func (o *Orchestrator) Register(g Generator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generators = append(o.generators, g)
}

// Run fans out to every gated generator concurrently and returns their
// combined, tag-wrapped output in generator-registration order (not
// completion order, so the result is deterministic across runs even though
// the work is concurrent).
func (o *Orchestrator) Run(ctx context.Context, req Request) string {
	o.mu.RLock()
	generators := append([]Generator(nil), o.generators...)
	timeout := o.timeout
	enabled := o.enabled
	o.mu.RUnlock()

	type result struct {
		idx  int
		text string
	}

	results := make([]string, len(generators))
	var wg sync.WaitGroup
	resultCh := make(chan result, len(generators))

	for i, g := range generators {
		if !o.gated(g, req, enabled) {
			continue
		}
		wg.Add(1)
		go func(idx int, gen Generator) {
			defer wg.Done()
			gctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			text, err := gen.Generate(gctx, req)
			if err != nil || strings.TrimSpace(text) == "" {
				return
			}
			resultCh <- result{idx: idx, text: text}
		}(i, g)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		results[r.idx] = r.text
	}

	// Mark emissions in the throttle state only after collection, so a
	// generator that was gated in but produced nothing can fire again
	// next turn.
	o.mu.Lock()
	for i, text := range results {
		if text != "" {
			o.lastEmitTurn[generators[i].Name()] = req.Turn
		}
	}
	o.mu.Unlock()

	var b strings.Builder
	for i, text := range results {
		if text == "" {
			continue
		}
		tag := TagSystemReminder
		if tagger, ok := generators[i].(Tagger); ok && tagger.Tag() != "" {
			tag = tagger.Tag()
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<" + tag + ">")
		b.WriteString(text)
		b.WriteString("</" + tag + ">")
	}
	return b.String()
}

func (o *Orchestrator) gated(g Generator, req Request, enabled map[string]bool) bool {
	if enabled != nil {
		if on, ok := enabled[g.Name()]; ok && !on {
			return false
		}
	}
	switch g.Tier() {
	case TierMainAgentOnly:
		if !req.IsMainAgent {
			return false
		}
	case TierUserPrompt:
		if !req.FollowsUserMsg {
			return false
		}
	}
	if th, ok := g.(Throttled); ok {
		if k := th.MinTurnsBetween(); k > 0 {
			o.mu.RLock()
			last, emitted := o.lastEmitTurn[g.Name()]
			o.mu.RUnlock()
			if emitted && req.Turn-last < k {
				return false
			}
		}
	}
	if o.throttle != nil && !o.throttle.Allow(ThrottleKey(g.Name())) {
		return false
	}
	return true
}
