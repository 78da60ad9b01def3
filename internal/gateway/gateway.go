// Package gateway orchestrates cache, rate limiting and provider routing
// for assistant requests.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"assistgate/internal/cache"
	"assistgate/internal/domain"
	"assistgate/internal/ratelimit"
	"assistgate/internal/router"
	"assistgate/internal/telemetry"

	"github.com/google/uuid"
)

// SuggestionParser extracts follow-up suggestions from model output.
// Implementations must not modify the content they are given.
type SuggestionParser interface {
	Parse(content string) []string
}

// PassthroughParser returns no suggestions; the raw content stands alone
type PassthroughParser struct{}

func (PassthroughParser) Parse(content string) []string { return nil }

// Result is the outcome of a handled request
type Result struct {
	Response    *domain.ChatResponse `json:"response"`
	Cached      bool                 `json:"cached"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

// Gateway wires the request pipeline. All collaborators are injected;
// the gateway owns none of their lifecycles.
type Gateway struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	router  *router.Router
	parser  SuggestionParser
	metrics *telemetry.Metrics
	logger  *slog.Logger

	// evictionsSeen tracks how many cache evictions have already been
	// exported, so the monotonic counter only receives the delta
	evictionsSeen atomic.Int64
}

// Options configures a Gateway
type Options struct {
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	Router  *router.Router
	Parser  SuggestionParser
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New creates a Gateway
func New(opts Options) *Gateway {
	if opts.Parser == nil {
		opts.Parser = PassthroughParser{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		cache:   opts.Cache,
		limiter: opts.Limiter,
		router:  opts.Router,
		parser:  opts.Parser,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// HandleRequest runs the full pipeline: cache lookup, admission check,
// provider call, then cache store and usage recording. A cache hit
// returns before the rate limiter is consulted, so cached traffic is
// never throttled. Failures mutate no cache or usage state.
func (g *Gateway) HandleRequest(ctx context.Context, callerKey string, key domain.SuggestionKey, req *domain.ChatRequest) (*Result, error) {
	req.ApplyDefaults()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	cacheKey := cache.Key(key)
	log := g.logger.With("request_id", req.RequestID, "caller", callerKey)

	if resp, ok := g.cache.Get(cacheKey); ok {
		log.Info("cache hit", "provider", resp.Provider)
		if g.metrics != nil {
			g.metrics.CacheHits.Inc()
			rec := g.metrics.NewRequestRecorder(string(resp.Provider))
			rec.RecordSuccess(true, 0, 0)
		}
		return &Result{
			Response:    resp,
			Cached:      true,
			Suggestions: g.parser.Parse(resp.Content),
		}, nil
	}
	if g.metrics != nil {
		g.metrics.CacheMisses.Inc()
	}

	if err := g.limiter.CheckAdmission(callerKey); err != nil {
		log.Warn("admission denied", "error", err)
		if g.metrics != nil {
			g.metrics.RecordRateLimitDenial(denialReason(err))
		}
		return nil, err
	}

	var rec *telemetry.RequestRecorder
	if g.metrics != nil {
		rec = g.metrics.NewRequestRecorder(string(g.router.Select(req)))
	}

	resp, err := g.router.Chat(ctx, req)
	if err != nil {
		log.Error("provider call failed", "error", err)
		if rec != nil {
			rec.RecordError(errorType(err))
		}
		return nil, err
	}

	g.cache.Put(cacheKey, resp)
	g.limiter.RecordUsage(callerKey, resp.Usage.TotalTokens)
	if rec != nil {
		rec.RecordSuccess(false, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	if g.metrics != nil {
		stats := g.cache.Stats()
		g.metrics.UpdateCacheGauges(stats.Entries, stats.SizeBytes)
		if prev := g.evictionsSeen.Swap(stats.Evictions); stats.Evictions > prev {
			g.metrics.CacheEvictions.Add(float64(stats.Evictions - prev))
		}
	}

	log.Info("request completed",
		"provider", resp.Provider,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs)

	return &Result{
		Response:    resp,
		Cached:      false,
		Suggestions: g.parser.Parse(resp.Content),
	}, nil
}

// HandleRequestStream runs the streaming pipeline. Streams bypass the
// cache entirely but still pass the admission check; usage is recorded
// from the stream's final usage event.
func (g *Gateway) HandleRequestStream(ctx context.Context, callerKey string, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	req.ApplyDefaults()
	req.Streaming = true
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if err := g.limiter.CheckAdmission(callerKey); err != nil {
		if g.metrics != nil {
			g.metrics.RecordRateLimitDenial(denialReason(err))
		}
		return nil, err
	}

	events, err := g.router.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.StreamConnections.Inc()
	}

	out := make(chan domain.StreamEvent, 100)
	go func() {
		defer close(out)
		if g.metrics != nil {
			defer g.metrics.StreamConnections.Dec()
		}
		for event := range events {
			if usage, ok := event.(domain.UsageEvent); ok {
				g.limiter.RecordUsage(callerKey, usage.Usage.TotalTokens)
			}
			out <- event
		}
	}()

	return out, nil
}

// CacheInfo returns current cache counters
func (g *Gateway) CacheInfo() cache.Stats {
	return g.cache.Stats()
}

// PruneCache removes expired entries and reports how many were removed
func (g *Gateway) PruneCache() int {
	return g.cache.Prune()
}

// ClearCache drops every cached response
func (g *Gateway) ClearCache() {
	g.cache.Clear()
	if g.metrics != nil {
		g.metrics.UpdateCacheGauges(0, 0)
	}
	g.logger.Info("cache cleared")
}

// Usage returns the router's per-provider usage snapshot
func (g *Gateway) Usage() router.UsageSnapshot {
	return g.router.Usage()
}

// ResetUsage zeroes provider usage counters and per-caller limits
func (g *Gateway) ResetUsage() {
	g.router.ResetUsage()
	g.limiter.Reset()
	g.logger.Info("usage counters reset")
}

// ProviderStatus reports the configured providers
func (g *Gateway) ProviderStatus() []domain.ProviderStatus {
	return g.router.Status()
}

func denialReason(err error) string {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.Scope != "" {
		return rl.Scope
	}
	return "unknown"
}

func errorType(err error) string {
	if domain.IsRetryable(err) {
		return "transient"
	}
	return "terminal"
}
