// Package router selects a backend provider per request and executes
// calls with retry and usage accounting.
package router

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"assistgate/internal/domain"
	"assistgate/internal/provider"
)

// Options configures a Router
type Options struct {
	DefaultProvider      domain.Provider
	LongContextProvider  domain.Provider
	LongContextThreshold int // combined prompt chars; 0 disables the switch
	MaxAttempts          int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	Logger               *slog.Logger

	// Sleep overrides the retry wait for tests
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry observes retry attempts per provider, if set
	OnRetry func(p domain.Provider, attempt int)
}

// Router routes chat requests to provider clients
type Router struct {
	registry *provider.Registry
	opts     Options
	logger   *slog.Logger

	counters map[domain.Provider]*providerCounters
}

// providerCounters accumulate per-provider usage with plain atomics;
// no cross-field consistency is needed
type providerCounters struct {
	requests     atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	errors       atomic.Int64
}

// ProviderUsage is a point-in-time view of one provider's counters
type ProviderUsage struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Errors       int64 `json:"errors"`
}

// UsageSnapshot aggregates usage across providers
type UsageSnapshot struct {
	Providers map[domain.Provider]ProviderUsage `json:"providers"`
	Total     ProviderUsage                     `json:"total"`
}

// New creates a Router
func New(registry *provider.Registry, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 1 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}

	counters := make(map[domain.Provider]*providerCounters)
	for _, p := range domain.AllProviders() {
		counters[p] = &providerCounters{}
	}

	return &Router{
		registry: registry,
		opts:     opts,
		logger:   opts.Logger,
		counters: counters,
	}
}

// Select decides which provider handles a request. Long inputs switch to
// the alternate long-context provider for this call only when one is
// configured and registered; nothing is persisted.
func (r *Router) Select(req *domain.ChatRequest) domain.Provider {
	selected := r.opts.DefaultProvider

	if r.opts.LongContextThreshold > 0 &&
		req.PromptChars() > r.opts.LongContextThreshold &&
		r.opts.LongContextProvider != "" &&
		r.opts.LongContextProvider != selected &&
		r.registry.Has(r.opts.LongContextProvider) {
		r.logger.Info("long input, switching provider for this call",
			"chars", req.PromptChars(),
			"threshold", r.opts.LongContextThreshold,
			"provider", r.opts.LongContextProvider)
		selected = r.opts.LongContextProvider
	}

	return selected
}

// Chat routes a request to the selected provider with retry. On success
// the provider's token counters are incremented with the actual usage
// from the response; a terminal failure increments the error counter of
// the provider that was attempted.
func (r *Router) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	selected := r.Select(req)
	client, err := r.registry.Client(selected)
	if err != nil {
		return nil, err
	}

	var resp *domain.ChatResponse
	retryCfg := RetryConfig{
		MaxAttempts: r.opts.MaxAttempts,
		BackoffBase: r.opts.BackoffBase,
		BackoffMax:  r.opts.BackoffMax,
		Sleep:       r.opts.Sleep,
	}
	if r.opts.OnRetry != nil {
		retryCfg.OnRetry = func(attempt int) {
			r.opts.OnRetry(selected, attempt)
		}
	}

	err = Retry(ctx, retryCfg, func() error {
		result, callErr := client.Chat(ctx, req)
		if callErr != nil {
			r.logger.Warn("provider call failed",
				"provider", selected, "request_id", req.RequestID, "error", callErr)
			return callErr
		}
		resp = result
		return nil
	})
	if err != nil {
		r.counters[selected].errors.Add(1)
		return nil, err
	}

	r.record(selected, resp.Usage)
	return resp, nil
}

// ChatStream routes a streaming request. The returned channel relays the
// provider's events; usage counters are updated as the final usage event
// passes through. Streams are not retried.
func (r *Router) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	selected := r.Select(req)
	client, err := r.registry.Client(selected)
	if err != nil {
		return nil, err
	}

	events, err := client.ChatStream(ctx, req)
	if err != nil {
		if !domain.IsStreamingUnsupported(err) {
			r.counters[selected].errors.Add(1)
		}
		return nil, err
	}

	out := make(chan domain.StreamEvent, 100)
	go func() {
		defer close(out)
		for event := range events {
			switch e := event.(type) {
			case domain.UsageEvent:
				r.record(selected, e.Usage)
			case domain.FinishEvent:
				if e.Reason == domain.FinishReasonError {
					r.counters[selected].errors.Add(1)
				}
			}
			out <- event
		}
	}()

	return out, nil
}

func (r *Router) record(p domain.Provider, usage domain.Usage) {
	c := r.counters[p]
	c.requests.Add(1)
	c.inputTokens.Add(usage.InputTokens)
	c.outputTokens.Add(usage.OutputTokens)
}

// Usage returns a snapshot of all provider counters
func (r *Router) Usage() UsageSnapshot {
	snap := UsageSnapshot{
		Providers: make(map[domain.Provider]ProviderUsage, len(r.counters)),
	}
	for p, c := range r.counters {
		usage := ProviderUsage{
			Requests:     c.requests.Load(),
			InputTokens:  c.inputTokens.Load(),
			OutputTokens: c.outputTokens.Load(),
			Errors:       c.errors.Load(),
		}
		snap.Providers[p] = usage
		snap.Total.Requests += usage.Requests
		snap.Total.InputTokens += usage.InputTokens
		snap.Total.OutputTokens += usage.OutputTokens
		snap.Total.Errors += usage.Errors
	}
	return snap
}

// ResetUsage zeroes all provider counters
func (r *Router) ResetUsage() {
	for _, c := range r.counters {
		c.requests.Store(0)
		c.inputTokens.Store(0)
		c.outputTokens.Store(0)
		c.errors.Store(0)
	}
}

// Status reports the configured providers
func (r *Router) Status() []domain.ProviderStatus {
	return r.registry.Status()
}
