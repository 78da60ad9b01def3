package http

import (
	"assistgate/internal/cache"
	"assistgate/internal/domain"
)

// AssistRequest is the request body for POST /v1/assist. The caller
// supplies the prompt pair pre-built along with the row/task identifiers
// and context hash that key the response cache.
type AssistRequest struct {
	RowID       string `json:"row_id"`
	Task        string `json:"task"`
	Query       string `json:"query,omitempty"`
	Selection   string `json:"selection,omitempty"`
	ContextHash string `json:"context_hash,omitempty"`

	SystemPrompt string   `json:"system_prompt,omitempty"`
	UserPrompt   string   `json:"user_prompt"`
	MaxTokens    *int32   `json:"max_tokens,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
	SessionToken string   `json:"session_token,omitempty"`
	Role         string   `json:"role,omitempty"`
}

// ToDomain converts the wire request to a domain request
func (r *AssistRequest) ToDomain() *domain.ChatRequest {
	return &domain.ChatRequest{
		SystemPrompt: r.SystemPrompt,
		UserPrompt:   r.UserPrompt,
		MaxTokens:    r.MaxTokens,
		Temperature:  r.Temperature,
		TopP:         r.TopP,
		Seed:         r.Seed,
		Streaming:    r.Stream,
	}
}

// SuggestionKey extracts the cache key inputs
func (r *AssistRequest) SuggestionKey() domain.SuggestionKey {
	return domain.SuggestionKey{
		RowID:       r.RowID,
		Task:        r.Task,
		Query:       r.Query,
		Selection:   r.Selection,
		ContextHash: r.ContextHash,
	}
}

// AssistResponse is the response body for POST /v1/assist
type AssistResponse struct {
	RequestID   string       `json:"request_id"`
	Content     string       `json:"content"`
	Suggestions []string     `json:"suggestions,omitempty"`
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	Usage       domain.Usage `json:"usage"`
	Cached      bool         `json:"cached"`
	LatencyMs   int64        `json:"latency_ms"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewErrorResponse builds an error body
func NewErrorResponse(errType, message string) ErrorResponse {
	var resp ErrorResponse
	resp.Error.Type = errType
	resp.Error.Message = message
	return resp
}

// HealthResponse is the body for GET /v1/health
type HealthResponse struct {
	Status    string                  `json:"status"`
	Providers []domain.ProviderStatus `json:"providers"`
	Cache     cache.Stats             `json:"cache"`
}

// PruneResponse reports a prune outcome
type PruneResponse struct {
	Removed int `json:"removed"`
}
