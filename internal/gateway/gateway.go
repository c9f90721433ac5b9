// Package gateway fronts the model providers behind a single Chat call.
// Providers are built from a configuration snapshot; Refresh re-reads
// credentials so key rotation needs no restart.
package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/config"
)

// Request describes one model call. Empty Provider and Model fall back to
// the configured defaults.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int
}

// Gateway is the surface the engine talks to.
type Gateway interface {
	Chat(ctx context.Context, req Request) (string, error)
}

type provider interface {
	chat(ctx context.Context, req Request) (string, error)
}

// snapshot is an immutable view of the configured providers. Chat reads one
// snapshot for its whole lifetime, so Refresh never races a request.
type snapshot struct {
	providers       map[string]provider
	defaultProvider string
	defaultModel    string
	maxRetries      int
	retryDelay      time.Duration
}

// ModelGateway routes requests to openai, anthropic, groq, and ollama.
type ModelGateway struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	snap   atomic.Pointer[snapshot]
}

func New(cfg *config.Config, logger *zap.SugaredLogger) *ModelGateway {
	g := &ModelGateway{cfg: cfg, logger: logger}
	g.Refresh()
	return g
}

// Refresh rebuilds the provider set from the live configuration and swaps it
// in atomically. Providers with no credential are left out so Chat can
// report them as unconfigured.
func (g *ModelGateway) Refresh() {
	c := g.cfg.Snapshot()
	snap := &snapshot{
		providers:       make(map[string]provider, 4),
		defaultProvider: c.DefaultProvider,
		defaultModel:    c.DefaultModel,
		maxRetries:      c.MaxRetries,
		retryDelay:      c.RetryDelay,
	}
	if key := c.APIKey("openai"); key != "" {
		snap.providers["openai"] = newOpenAIProvider(key)
	}
	if key := c.APIKey("groq"); key != "" {
		snap.providers["groq"] = newGroqProvider(key)
	}
	if key := c.APIKey("anthropic"); key != "" {
		snap.providers["anthropic"] = newAnthropicProvider(key)
	}
	host := c.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}
	snap.providers["ollama"] = newOllamaProvider(host)
	g.snap.Store(snap)
	g.logger.Debugw("Refreshed model providers", "configured", len(snap.providers))
}

// Chat sends the request to its provider, retrying transient backend faults
// up to the configured maxRetries with retryDelay between attempts.
func (g *ModelGateway) Chat(ctx context.Context, req Request) (string, error) {
	snap := g.snap.Load()
	name := req.Provider
	if name == "" {
		name = snap.defaultProvider
	}
	if req.Model == "" {
		req.Model = snap.defaultModel
	}
	p, ok := snap.providers[name]
	if !ok {
		return "", &ProviderError{Provider: name, Err: ErrUnconfigured}
	}

	var lastErr error
	for attempt := 0; attempt <= snap.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warnw("Retrying model request",
				"provider", name, "model", req.Model, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(snap.retryDelay):
			}
		}
		out, err := p.chat(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", lastErr
}
