// Package domain defines core domain types for the assistant gateway.
package domain

import "time"

// =============================================================================
// Provider Types
// =============================================================================

// Provider represents a text-generation backend
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// AllProviders returns all supported providers
func AllProviders() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderBedrock,
	}
}

// ParseProvider parses a provider string
func ParseProvider(s string) (Provider, bool) {
	switch s {
	case "openai", "gpt":
		return ProviderOpenAI, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "bedrock", "aws", "aws-bedrock", "aws_bedrock":
		return ProviderBedrock, true
	default:
		return "", false
	}
}

// =============================================================================
// Chat Types
// =============================================================================

// Default generation parameters applied when the caller leaves them unset.
const (
	DefaultTemperature float32 = 0.2
	DefaultTopP        float32 = 0.95
	DefaultSeed        int64   = 42
)

// SuggestionKey identifies a suggestion request for caching. The context
// hash is a digest of the prompt material, supplied by the caller; the
// gateway never recomputes it.
type SuggestionKey struct {
	RowID       string `json:"row_id"`
	Task        string `json:"task"`
	Query       string `json:"query,omitempty"`
	Selection   string `json:"selection,omitempty"`
	ContextHash string `json:"context_hash"`
}

// ChatRequest represents a chat completion request.
// The system/user prompt pair arrives pre-built; the gateway never assembles
// prompts itself.
type ChatRequest struct {
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	MaxTokens    *int32   `json:"max_tokens,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
	Streaming    bool     `json:"stream,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// PromptChars returns the combined prompt length used by the long-context
// routing heuristic. A character count, not a tokenizer.
func (r *ChatRequest) PromptChars() int {
	return len(r.SystemPrompt) + len(r.UserPrompt)
}

// ApplyDefaults fills unset generation parameters with the documented defaults.
func (r *ChatRequest) ApplyDefaults() {
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.TopP == nil {
		p := DefaultTopP
		r.TopP = &p
	}
	if r.Seed == nil {
		s := DefaultSeed
		r.Seed = &s
	}
}

// Usage contains token usage for a single completed call
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ChatResponse is the full response for non-streaming
type ChatResponse struct {
	Content   string   `json:"content,omitempty"`
	Usage     Usage    `json:"usage"`
	Provider  Provider `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	LatencyMs int64    `json:"latency_ms,omitempty"`
}

// =============================================================================
// Stream Types
// =============================================================================

// StreamEvent represents a streaming event
type StreamEvent interface {
	eventType() string
}

// TextChunk is a text content chunk
type TextChunk struct {
	Content string `json:"content"`
}

func (TextChunk) eventType() string { return "text" }

// UsageEvent carries the final token usage of a stream
type UsageEvent struct {
	Usage Usage `json:"usage"`
}

func (UsageEvent) eventType() string { return "usage" }

// FinishReason indicates why generation stopped
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
	FinishReasonError  FinishReason = "error"
)

// FinishEvent terminates the stream; no events follow it
type FinishEvent struct {
	Reason FinishReason `json:"reason"`
}

func (FinishEvent) eventType() string { return "finish" }

// =============================================================================
// Provider Status Types
// =============================================================================

// ProviderStatus describes a configured provider for health/admin surfaces.
// Derived from construction-time configuration, immutable afterwards.
type ProviderStatus struct {
	Provider   Provider `json:"provider"`
	Configured bool     `json:"configured"`
	HasAPIKey  bool     `json:"has_api_key"`
	Model      string   `json:"model"`
}

// ConnectionSettings defines HTTP connection pool settings for a provider
type ConnectionSettings struct {
	MaxConnections     int  `json:"max_connections"`
	MaxIdleConnections int  `json:"max_idle_connections"`
	IdleTimeoutSec     int  `json:"idle_timeout_sec"`
	RequestTimeoutSec  int  `json:"request_timeout_sec"`
	EnableHTTP2        bool `json:"enable_http2"`
	EnableKeepAlive    bool `json:"enable_keep_alive"`
}

// DefaultConnectionSettings returns sensible defaults
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		MaxConnections:     10,
		MaxIdleConnections: 5,
		IdleTimeoutSec:     90,
		RequestTimeoutSec:  20,
		EnableHTTP2:        true,
		EnableKeepAlive:    true,
	}
}

// RequestTimeout returns the per-request timeout as a duration
func (s ConnectionSettings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec) * time.Second
}
