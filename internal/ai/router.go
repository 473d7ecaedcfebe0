package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lumen-build/internal/logging"
	"lumen-build/internal/metrics"
	"lumen-build/pkg/models"
)

// KeySource decrypts stored credentials for a configuration.
type KeySource interface {
	DecryptKey(cfg *models.AIProviderConfig) (string, error)
}

// Router executes completions against the active provider configuration,
// retrying once against the fallback configuration when the primary fails.
// At most two upstream calls happen per logical invocation; the step
// executor's retry budget multiplies on top of this.
type Router struct {
	configs  ConfigSource
	keys     KeySource
	clients  map[string]ProviderClient
	limiters map[string]*rate.Limiter
	recorder UsageRecorder
	log      *zap.Logger
}

// requests per minute per provider
var providerRateLimits = map[string]int{
	ProviderClaude: 100,
	ProviderOpenAI: 80,
	ProviderGemini: 120,
}

// NewRouter builds a router with the default provider clients.
func NewRouter(configs ConfigSource, keys KeySource, recorder UsageRecorder) *Router {
	r := &Router{
		configs:  configs,
		keys:     keys,
		clients:  make(map[string]ProviderClient),
		limiters: make(map[string]*rate.Limiter),
		recorder: recorder,
		log:      logging.Named("ai.router"),
	}
	for _, client := range []ProviderClient{NewClaudeClient(), NewOpenAIClient(), NewGeminiClient()} {
		r.RegisterClient(client)
	}
	return r
}

// RegisterClient adds or replaces the client for a provider. Tests use this
// to install fakes.
func (r *Router) RegisterClient(client ProviderClient) {
	name := client.Provider()
	r.clients[name] = client
	rpm, ok := providerRateLimits[name]
	if !ok {
		rpm = 60
	}
	r.limiters[name] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

// Execute runs a single completion against one configuration. Unknown
// providers fail with ErrUnknownProvider; no fallback is attempted here.
func (r *Router) Execute(ctx context.Context, cfg *models.AIProviderConfig, req *CompletionRequest) (*CompletionResult, error) {
	client, ok := r.clients[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	apiKey, err := r.keys.DecryptKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderCallFailed, err)
	}
	if limiter := r.limiters[cfg.Provider]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := client.Complete(ctx, apiKey, cfg.Model, req)
	m := metrics.Get()
	if err != nil {
		m.ProviderCallsTotal.WithLabelValues(cfg.Provider, "error", "false").Inc()
		return nil, err
	}
	m.ProviderCallSecs.WithLabelValues(cfg.Provider).Observe(result.Duration.Seconds())
	m.ProviderTokens.WithLabelValues(cfg.Provider, "prompt").Add(float64(result.Usage.PromptTokens))
	m.ProviderTokens.WithLabelValues(cfg.Provider, "completion").Add(float64(result.Usage.CompletionTokens))
	m.ProviderCostUSD.WithLabelValues(cfg.Provider).Add(result.Usage.CostUSD)
	return result, nil
}

// CallWithFallback resolves the active configuration, executes the request,
// and on any failure retries once against the fallback configuration when one
// with credentials exists. Usage is recorded for whichever provider actually
// answered, with "_fallback" appended to the operation label on the fallback
// path.
func (r *Router) CallWithFallback(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	active, err := r.configs.Active(ctx)
	if err != nil {
		return nil, err
	}

	result, primaryErr := r.Execute(ctx, active, req)
	if primaryErr == nil {
		metrics.Get().ProviderCallsTotal.WithLabelValues(active.Provider, "success", "false").Inc()
		r.record(ctx, req, req.Operation, result)
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}

	r.log.Warn("primary provider failed, trying fallback",
		zap.String("provider", active.Provider),
		zap.String("operation", req.Operation),
		zap.Error(primaryErr))

	fallback, err := r.configs.Fallback(ctx)
	if err != nil || fallback == nil || !fallback.HasCredentials() {
		return nil, primaryErr
	}

	result, fallbackErr := r.Execute(ctx, fallback, req)
	if fallbackErr != nil {
		r.log.Error("fallback provider also failed",
			zap.String("provider", fallback.Provider),
			zap.Error(fallbackErr))
		return nil, fmt.Errorf("primary: %v; fallback: %w", primaryErr, fallbackErr)
	}

	metrics.Get().ProviderCallsTotal.WithLabelValues(fallback.Provider, "success", "true").Inc()
	r.record(ctx, req, req.Operation+"_fallback", result)
	return result, nil
}

func (r *Router) record(ctx context.Context, req *CompletionRequest, operation string, result *CompletionResult) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(ctx, req.UserID, req.ProjectID, operation, result.Usage, result.Duration)
}
