// Package http provides the assistant gateway's HTTP API server.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"assistgate/internal/config"
	"assistgate/internal/domain"
	"assistgate/internal/gateway"
	"assistgate/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP API server
type Server struct {
	config   *config.Config
	gateway  *gateway.Gateway
	metrics  *telemetry.Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
	mux      *http.ServeMux
	srv      *http.Server
}

// NewServer creates the HTTP server and wires its routes
func NewServer(cfg *config.Config, gw *gateway.Gateway, metrics *telemetry.Metrics, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:   cfg,
		gateway:  gw,
		metrics:  metrics,
		registry: registry,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/assist", s.handleAssist)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /admin/cache", s.handleCacheInfo)
	s.mux.HandleFunc("POST /admin/cache/prune", s.handleCachePrune)
	s.mux.HandleFunc("DELETE /admin/cache", s.handleCacheClear)
	s.mux.HandleFunc("GET /admin/usage", s.handleUsage)
	s.mux.HandleFunc("POST /admin/usage/reset", s.handleUsageReset)
	s.mux.HandleFunc("GET /admin/providers", s.handleProviders)

	if s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.HTTPPort)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(s.mux),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("http server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// handleAssist serves POST /v1/assist
func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxRequestSize()))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	if err := validateAssistBody(body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req AssistRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	callerKey := s.callerKey(r, &req)

	if req.Stream {
		s.streamAssist(w, r, callerKey, &req)
		return
	}

	domainReq := req.ToDomain()
	result, err := s.gateway.HandleRequest(r.Context(), callerKey, req.SuggestionKey(), domainReq)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := AssistResponse{
		RequestID:   domainReq.RequestID,
		Content:     result.Response.Content,
		Suggestions: result.Suggestions,
		Provider:    string(result.Response.Provider),
		Model:       result.Response.Model,
		Usage:       result.Response.Usage,
		Cached:      result.Cached,
		LatencyMs:   result.Response.LatencyMs,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// streamAssist serves a streaming assist request over SSE
func (s *Server) streamAssist(w http.ResponseWriter, r *http.Request, callerKey string, req *AssistRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported by connection")
		return
	}

	events, err := s.gateway.HandleRequestStream(r.Context(), callerKey, req.ToDomain())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		var payload map[string]any
		switch e := event.(type) {
		case domain.TextChunk:
			payload = map[string]any{"type": "text", "content": e.Content}
		case domain.UsageEvent:
			payload = map[string]any{"type": "usage", "usage": e.Usage}
		case domain.FinishEvent:
			payload = map[string]any{"type": "finish", "reason": string(e.Reason)}
		default:
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// callerKey derives the rate limit key: a stable session token when the
// caller supplies one, otherwise role plus coarse network origin
func (s *Server) callerKey(r *http.Request, req *AssistRequest) string {
	token := req.SessionToken
	if token == "" {
		token = r.Header.Get("X-Session-Token")
	}
	if token != "" {
		return "session:" + token
	}

	role := req.Role
	if role == "" {
		role = r.Header.Get("X-Caller-Role")
	}
	if role == "" {
		role = "anonymous"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "fallback:" + role + "@" + host
}

// handleHealth serves GET /v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Providers: s.gateway.ProviderStatus(),
		Cache:     s.gateway.CacheInfo(),
	})
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gateway.CacheInfo())
}

func (s *Server) handleCachePrune(w http.ResponseWriter, r *http.Request) {
	removed := s.gateway.PruneCache()
	s.writeJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.gateway.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gateway.Usage())
}

func (s *Server) handleUsageReset(w http.ResponseWriter, r *http.Request) {
	s.gateway.ResetUsage()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gateway.ProviderStatus())
}

func (s *Server) maxRequestSize() int64 {
	if s.config != nil && s.config.Server.MaxRequestSize > 0 {
		return s.config.Server.MaxRequestSize
	}
	return 1 << 20
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	s.writeJSON(w, status, NewErrorResponse(errType, message))
}

// writeDomainError maps gateway errors to HTTP statuses
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsRateLimited(err):
		s.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
	case domain.IsStreamingUnsupported(err):
		s.writeError(w, http.StatusBadRequest, "streaming_unsupported", err.Error())
	case domain.IsRetryable(err):
		s.writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
	default:
		s.writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	}
}

// loggingMiddleware logs each request with latency
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
