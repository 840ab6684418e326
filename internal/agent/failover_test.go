package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// failingProvider always fails with the given error.
type failingProvider struct {
	name  string
	err   error
	calls atomic.Int32
}

func (p *failingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls.Add(1)
	return nil, p.err
}
func (p *failingProvider) Name() string        { return p.name }
func (p *failingProvider) Models() []Model     { return nil }
func (p *failingProvider) SupportsTools() bool { return true }

// okProvider succeeds with one text chunk.
type okProvider struct {
	name  string
	calls atomic.Int32
}

func (p *okProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls.Add(1)
	ch := make(chan *CompletionChunk, 2)
	ch <- &CompletionChunk{Text: "ok from " + p.name}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
func (p *okProvider) Name() string        { return p.name }
func (p *okProvider) Models() []Model     { return []Model{{ID: p.name + "-model"}} }
func (p *okProvider) SupportsTools() bool { return true }

func fastFailoverConfig() *FailoverConfig {
	return &FailoverConfig{
		MaxRetries:              1,
		RetryBackoff:            time.Millisecond,
		MaxRetryBackoff:         2 * time.Millisecond,
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   50 * time.Millisecond,
	}
}

func TestFailoverFallsBackOnProviderOutage(t *testing.T) {
	primary := &failingProvider{name: "primary", err: errors.New("503 service unavailable")}
	fallback := &okProvider{name: "fallback"}

	o := NewFailoverOrchestrator(primary, fastFailoverConfig())
	o.AddProvider(fallback)

	ch, err := o.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	var text string
	for chunk := range ch {
		text += chunk.Text
	}
	if text != "ok from fallback" {
		t.Fatalf("text = %q", text)
	}
	if o.Failovers() != 1 {
		t.Fatalf("failovers = %d, want 1", o.Failovers())
	}
	// retryable outage burns the primary's retry budget first
	if primary.calls.Load() != 2 {
		t.Fatalf("primary calls = %d, want MaxRetries+1", primary.calls.Load())
	}
}

func TestFailoverOnAuthError(t *testing.T) {
	// auth errors are not retried but do fail over: a sibling backend
	// with its own credentials may work.
	primary := &failingProvider{name: "primary", err: errors.New("unauthorized: bad key")}
	fallback := &okProvider{name: "fallback"}

	o := NewFailoverOrchestrator(primary, fastFailoverConfig())
	o.AddProvider(fallback)

	if _, err := o.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if primary.calls.Load() != 1 {
		t.Fatalf("auth error must not retry, got %d calls", primary.calls.Load())
	}
}

func TestNoFailoverOnInputError(t *testing.T) {
	primary := &failingProvider{name: "primary", err: errors.New("invalid request: missing messages")}
	fallback := &okProvider{name: "fallback"}

	o := NewFailoverOrchestrator(primary, fastFailoverConfig())
	o.AddProvider(fallback)

	if _, err := o.Complete(context.Background(), &CompletionRequest{}); err == nil {
		t.Fatal("expected input error to propagate")
	}
	if fallback.calls.Load() != 0 {
		t.Fatalf("input error must not fail over, fallback called %d times", fallback.calls.Load())
	}
}

func TestCircuitBreakerSkipsDeadProvider(t *testing.T) {
	primary := &failingProvider{name: "primary", err: errors.New("connection refused")}
	fallback := &okProvider{name: "fallback"}

	cfg := fastFailoverConfig()
	o := NewFailoverOrchestrator(primary, cfg)
	o.AddProvider(fallback)

	// one failure is recorded per Complete round; two rounds trip the
	// threshold of 2 and open the circuit
	for i := 0; i < 2; i++ {
		if _, err := o.Complete(context.Background(), &CompletionRequest{}); err != nil {
			t.Fatalf("Complete() round %d error = %v", i, err)
		}
	}
	before := primary.calls.Load()

	if _, err := o.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if primary.calls.Load() != before {
		t.Fatalf("open circuit must skip primary, calls went %d -> %d", before, primary.calls.Load())
	}

	// after the circuit timeout the primary is probed again
	time.Sleep(cfg.CircuitBreakerTimeout + 10*time.Millisecond)
	if _, err := o.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if primary.calls.Load() == before {
		t.Fatal("primary must be retried after the circuit timeout")
	}
}

func TestFailoverExhaustedReturnsLastError(t *testing.T) {
	primary := &failingProvider{name: "a", err: errors.New("503 service unavailable")}
	secondary := &failingProvider{name: "b", err: errors.New("rate limit exceeded")}

	o := NewFailoverOrchestrator(primary, fastFailoverConfig())
	o.AddProvider(secondary)

	_, err := o.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestFailoverModelsUnion(t *testing.T) {
	o := NewFailoverOrchestrator(&okProvider{name: "a"}, nil)
	o.AddProvider(&okProvider{name: "b"})
	o.AddProvider(&okProvider{name: "a"}) // duplicate models deduped

	models := o.Models()
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if o.Name() != "failover:a" {
		t.Fatalf("name = %q", o.Name())
	}
}
