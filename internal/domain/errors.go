package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStreamingUnsupported is returned when streaming is requested from a
// provider that cannot stream. Never retried, never falls back silently.
var ErrStreamingUnsupported = errors.New("streaming not supported by selected provider")

// ProviderError is a failure reported by a provider adapter. Retryable
// distinguishes transient failures (timeouts, 5xx, network) from terminal
// ones (auth, validation).
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// NewProviderError classifies an HTTP status into a retryable or terminal
// provider error. 401/403/400/422 are configuration problems and terminal;
// 408/429/5xx are transient.
func NewProviderError(provider Provider, statusCode int, message string) *ProviderError {
	retryable := true
	switch statusCode {
	case 400, 401, 403, 404, 422:
		retryable = false
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  retryable,
	}
}

// TransientProviderError wraps a network-level failure as retryable
func TransientProviderError(provider Provider, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   err.Error(),
		Retryable: true,
	}
}

// IsRetryable reports whether an error is worth another attempt. Typed
// provider errors carry the flag; untyped errors fall back to message
// inspection for common transient patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	if errors.Is(err, ErrStreamingUnsupported) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid request") || strings.Contains(errStr, "invalid api key") {
		return false
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429") {
		return true
	}

	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") {
		return true
	}

	return false
}

// RateLimitError is returned when admission is denied. Reason is
// user-facing; Scope names the exhausted dimension for metrics.
type RateLimitError struct {
	Reason string
	Scope  string // "daily_budget" or "requests_per_minute"
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded: " + e.Reason
}

// IsRateLimited reports whether err is an admission denial
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsStreamingUnsupported reports whether err means the selected
// provider cannot stream
func IsStreamingUnsupported(err error) bool {
	return errors.Is(err, ErrStreamingUnsupported)
}
