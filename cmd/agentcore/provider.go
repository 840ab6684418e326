package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreagent/loopcore/internal/agent"
	"github.com/coreagent/loopcore/internal/agent/providers"
	"github.com/coreagent/loopcore/internal/agent/routing"
	"github.com/coreagent/loopcore/internal/config"
	"github.com/coreagent/loopcore/internal/ratelimit"
)

// buildProvider constructs the agent.LLMProvider for the given provider ID using
// the matching entry from cfg.LLM.Providers.
func buildProvider(cfg *config.Config, providerID string) (agent.LLMProvider, error) {
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if providerID == "" {
		providerID = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	}
	if providerID == "" {
		providerID = "anthropic"
	}

	entry := cfg.LLM.Providers[providerID]

	switch providerID {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(entry.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			DefaultModel: entry.DefaultModel,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", providerID)
	}
}

// buildRuntimeProvider assembles the provider the runtime actually talks
// to: the configured backend (or the routing layer fanning out over every
// configured backend when routing is enabled), wrapped in the outbound
// rate limiter when one is configured.
func buildRuntimeProvider(cfg *config.Config, providerOverride string) (agent.LLMProvider, error) {
	var (
		provider agent.LLMProvider
		err      error
	)

	if cfg.LLM.Routing.Enabled && providerOverride == "" {
		provider, err = buildRoutedProvider(cfg)
	} else {
		provider, err = buildProvider(cfg, providerOverride)
	}
	if err != nil {
		return nil, err
	}

	// llm.fallback_chain chains additional backends behind the primary:
	// a dead or rate-limited provider fails over instead of ending the
	// turn.
	if len(cfg.LLM.FallbackChain) > 0 && providerOverride == "" {
		chain := agent.NewFailoverOrchestrator(provider, nil)
		for _, id := range cfg.LLM.FallbackChain {
			fallback, fbErr := buildProvider(cfg, id)
			if fbErr != nil {
				continue
			}
			chain.AddProvider(fallback)
		}
		provider = chain
	}

	if cfg.LLM.RateLimit.Enabled {
		provider = newRateLimitedProvider(provider, cfg.LLM.RateLimit)
	}
	return provider, nil
}

// buildRoutedProvider wires every configured backend into the routing
// layer, translating the config's rule shape into the router's.
func buildRoutedProvider(cfg *config.Config) (agent.LLMProvider, error) {
	backends := make(map[string]agent.LLMProvider, len(cfg.LLM.Providers))
	for id := range cfg.LLM.Providers {
		p, err := buildProvider(cfg, id)
		if err != nil {
			continue
		}
		backends[id] = p
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("routing enabled but no provider under llm.providers could be built")
	}

	rules := make([]routing.Rule, 0, len(cfg.LLM.Routing.Rules))
	for _, r := range cfg.LLM.Routing.Rules {
		rules = append(rules, routing.Rule{
			Name: r.Name,
			Match: routing.Match{
				Patterns: r.Match.Patterns,
				Tags:     r.Match.Tags,
			},
			Target: routing.Target{
				Provider: r.Target.Provider,
				Model:    r.Target.Model,
			},
		})
	}

	return routing.NewRouter(routing.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		PreferLocal:     cfg.LLM.Routing.PreferLocal,
		Rules:           rules,
		Classifier:      &routing.HeuristicClassifier{},
		Fallback: routing.Target{
			Provider: cfg.LLM.Routing.Fallback.Provider,
			Model:    cfg.LLM.Routing.Fallback.Model,
		},
		FailureCooldown: cfg.LLM.Routing.UnhealthyCooldown,
	}, backends), nil
}

// rateLimitedProvider gates Complete calls through a token bucket so a
// runaway loop cannot hammer the backend.
type rateLimitedProvider struct {
	inner  agent.LLMProvider
	bucket *ratelimit.Bucket
}

func newRateLimitedProvider(inner agent.LLMProvider, cfg ratelimit.Config) *rateLimitedProvider {
	return &rateLimitedProvider{inner: inner, bucket: ratelimit.NewBucket(cfg)}
}

func (p *rateLimitedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	for !p.bucket.Allow() {
		wait := p.bucket.WaitTime()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return p.inner.Complete(ctx, req)
}

func (p *rateLimitedProvider) Name() string          { return p.inner.Name() }
func (p *rateLimitedProvider) Models() []agent.Model { return p.inner.Models() }
func (p *rateLimitedProvider) SupportsTools() bool   { return p.inner.SupportsTools() }
