package sysreminder

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeGenerator struct {
	name string
	tier Tier
	text string
	err  error
	wait time.Duration
}

func (f *fakeGenerator) Name() string { return f.name }
func (f *fakeGenerator) Tier() Tier   { return f.tier }
func (f *fakeGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestRunWrapsOutputInTags(t *testing.T) {
	o := New(nil, nil)
	o.Register(&fakeGenerator{name: "a", tier: TierCore, text: "hello"})

	out := o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if !strings.Contains(out, reminderOpen) || !strings.Contains(out, reminderClose) {
		t.Fatalf("expected wrapped output, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected generator text present, got %q", out)
	}
}

func TestRunSkipsDisabledGenerator(t *testing.T) {
	o := New(map[string]bool{"a": false}, nil)
	o.Register(&fakeGenerator{name: "a", tier: TierCore, text: "hello"})

	out := o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if out != "" {
		t.Fatalf("expected disabled generator to produce no output, got %q", out)
	}
}

func TestRunRespectsTierGating(t *testing.T) {
	o := New(nil, nil)
	o.Register(&fakeGenerator{name: "main-only", tier: TierMainAgentOnly, text: "main"})
	o.Register(&fakeGenerator{name: "user-only", tier: TierUserPrompt, text: "user"})

	out := o.Run(context.Background(), Request{IsMainAgent: false, FollowsUserMsg: false})
	if strings.Contains(out, "main") || strings.Contains(out, "user") {
		t.Fatalf("expected both tier-gated generators suppressed, got %q", out)
	}

	out = o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if !strings.Contains(out, "main") || !strings.Contains(out, "user") {
		t.Fatalf("expected both generators to fire when gates are satisfied, got %q", out)
	}
}

func TestRunDropsSlowGeneratorAfterTimeout(t *testing.T) {
	o := New(nil, nil)
	o.SetTimeout(20 * time.Millisecond)
	o.Register(&fakeGenerator{name: "slow", tier: TierCore, text: "late", wait: 200 * time.Millisecond})
	o.Register(&fakeGenerator{name: "fast", tier: TierCore, text: "quick"})

	start := time.Now()
	out := o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("expected Run to not wait for the slow generator past its timeout, took %s", elapsed)
	}
	if strings.Contains(out, "late") {
		t.Fatalf("expected slow generator's output dropped, got %q", out)
	}
	if !strings.Contains(out, "quick") {
		t.Fatalf("expected fast generator's output present, got %q", out)
	}
}

func TestThrottleSuppressesRepeatedFiring(t *testing.T) {
	th := NewThrottle(time.Hour)
	if !th.Allow("k") {
		t.Fatal("expected first call to be allowed")
	}
	if th.Allow("k") {
		t.Fatal("expected second call within cooldown to be suppressed")
	}
}

func TestRunAppliesThrottle(t *testing.T) {
	th := NewThrottle(time.Hour)
	o := New(nil, th)
	o.Register(&fakeGenerator{name: "a", tier: TierCore, text: "hello"})

	first := o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if !strings.Contains(first, "hello") {
		t.Fatalf("expected first run to include output, got %q", first)
	}
	second := o.Run(context.Background(), Request{IsMainAgent: true, FollowsUserMsg: true})
	if second != "" {
		t.Fatalf("expected throttled second run to be empty, got %q", second)
	}
}
