package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreagent/loopcore/internal/statuscode"
)

// FailoverConfig configures the provider failover chain.
type FailoverConfig struct {
	// MaxRetries is the retry budget per provider before moving on.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries; it doubles per
	// attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// CircuitBreakerThreshold is how many consecutive failures open a
	// provider's circuit; an open circuit skips the provider until
	// CircuitBreakerTimeout has passed.
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig returns the stock failover tuning.
func DefaultFailoverConfig() *FailoverConfig {
	return &FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// providerState tracks one provider's recent health.
type providerState struct {
	failures      int
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *providerState) available(cfg *FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FailoverOrchestrator chains providers so a dead or rate-limited backend
// does not end the turn: the primary is tried first (with per-provider
// retries), then each fallback in order. Whether an error is retried,
// failed over, or propagated is decided by its status-code metadata, never
// by matching error text here.
type FailoverOrchestrator struct {
	providers []LLMProvider
	config    *FailoverConfig

	mu     sync.Mutex
	states map[string]*providerState

	// failovers counts how often a fallback took over, for the status
	// panel and tests.
	failovers int64
}

// NewFailoverOrchestrator creates a chain with the given primary.
func NewFailoverOrchestrator(primary LLMProvider, config *FailoverConfig) *FailoverOrchestrator {
	if config == nil {
		config = DefaultFailoverConfig()
	}
	return &FailoverOrchestrator{
		providers: []LLMProvider{primary},
		config:    config,
		states:    make(map[string]*providerState),
	}
}

// AddProvider appends a fallback provider to the chain.
func (o *FailoverOrchestrator) AddProvider(p LLMProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.providers = append(o.providers, p)
}

// Failovers reports how many times a fallback provider took over.
func (o *FailoverOrchestrator) Failovers() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failovers
}

// Complete implements LLMProvider: try each available provider in order
// until one streams.
func (o *FailoverOrchestrator) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	o.mu.Lock()
	providers := append([]LLMProvider(nil), o.providers...)
	o.mu.Unlock()

	var lastErr error
	for i, provider := range providers {
		if !o.state(provider.Name()).available(o.config) {
			continue
		}

		ch, err := o.tryProvider(ctx, provider, req)
		if err == nil {
			o.recordSuccess(provider.Name())
			if i > 0 {
				o.mu.Lock()
				o.failovers++
				o.mu.Unlock()
			}
			return ch, nil
		}
		lastErr = err
		o.recordFailure(provider.Name())

		if !shouldFailover(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no available providers")
	}
	return nil, lastErr
}

// tryProvider runs one provider with its retry budget. Only errors whose
// status code is retryable burn retries; everything else returns at once.
func (o *FailoverOrchestrator) tryProvider(ctx context.Context, provider LLMProvider, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	var lastErr error
	backoff := o.config.RetryBackoff

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		ch, err := provider.Complete(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if !statuscode.Classify(err).Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= o.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > o.config.MaxRetryBackoff {
				backoff = o.config.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// shouldFailover reports whether another provider might succeed where this
// one failed: anything retryable (the backend is struggling), plus auth,
// quota, and provider errors (this backend is misconfigured or down, a
// sibling may not be). Input errors and cancellation propagate — no
// provider can fix a malformed request or an aborted context.
func shouldFailover(err error) bool {
	code := statuscode.Classify(err)
	if code == statuscode.Cancelled {
		return false
	}
	if code.Retryable() {
		return true
	}
	switch code.Category() {
	case statuscode.CategoryAuth, statuscode.CategoryProvider, statuscode.CategoryResource:
		return true
	default:
		return false
	}
}

func (o *FailoverOrchestrator) state(name string) *providerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[name]
	if !ok {
		s = &providerState{}
		o.states[name] = s
	}
	return s
}

func (o *FailoverOrchestrator) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[name]; ok {
		s.failures = 0
		s.circuitOpen = false
	}
}

func (o *FailoverOrchestrator) recordFailure(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[name]
	if !ok {
		s = &providerState{}
		o.states[name] = s
	}
	s.failures++
	if s.failures >= o.config.CircuitBreakerThreshold {
		s.circuitOpen = true
		s.circuitOpenAt = time.Now()
	}
}

// Name implements LLMProvider.
func (o *FailoverOrchestrator) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.providers) == 0 {
		return "failover"
	}
	return "failover:" + o.providers[0].Name()
}

// Models implements LLMProvider: the union of every chained provider's
// models.
func (o *FailoverOrchestrator) Models() []Model {
	o.mu.Lock()
	providers := append([]LLMProvider(nil), o.providers...)
	o.mu.Unlock()

	seen := make(map[string]struct{})
	var out []Model
	for _, p := range providers {
		for _, m := range p.Models() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// SupportsTools implements LLMProvider: true when any chained provider
// supports function calling.
func (o *FailoverOrchestrator) SupportsTools() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}
