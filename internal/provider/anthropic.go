package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"assistgate/internal/domain"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicOptions configures an AnthropicClient
type AnthropicOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int32
	Settings  domain.ConnectionSettings
}

// AnthropicClient is a raw-HTTP client for the Anthropic messages API
type AnthropicClient struct {
	apiKey           string
	baseURL          string
	model            string
	defaultMaxTokens int32
	httpClient       *http.Client
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.anthropic.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-haiku-20241022"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Settings.RequestTimeoutSec == 0 {
		opts.Settings = domain.DefaultConnectionSettings()
	}

	return &AnthropicClient{
		apiKey:           opts.APIKey,
		baseURL:          opts.BaseURL,
		model:            opts.Model,
		defaultMaxTokens: opts.MaxTokens,
		httpClient:       BuildHTTPClient(opts.Settings),
	}, nil
}

// Provider returns the provider type
func (c *AnthropicClient) Provider() domain.Provider {
	return domain.ProviderAnthropic
}

// Model returns the configured model ID
func (c *AnthropicClient) Model() string {
	return c.model
}

// Chat performs a non-streaming chat completion
func (c *AnthropicClient) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	anthropicReq := c.buildRequest(req)
	anthropicReq["stream"] = false

	start := time.Now()
	resp, err := c.post(ctx, anthropicReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, domain.NewProviderError(domain.ProviderAnthropic, resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var content string
	for _, block := range result.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.ChatResponse{
		Content:  content,
		Provider: domain.ProviderAnthropic,
		Model:    c.model,
		Usage: domain.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream starts a streaming chat completion
func (c *AnthropicClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	anthropicReq := c.buildRequest(req)
	anthropicReq["stream"] = true

	resp, err := c.post(ctx, anthropicReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, domain.NewProviderError(domain.ProviderAnthropic, resp.StatusCode, string(bodyBytes))
	}

	eventChan := make(chan domain.StreamEvent, 100)
	go func() {
		defer close(eventChan)
		defer resp.Body.Close()
		c.parseSSEStream(resp.Body, eventChan)
	}()

	return eventChan, nil
}

func (c *AnthropicClient) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.TransientProviderError(domain.ProviderAnthropic, err)
	}
	return resp, nil
}

// buildRequest builds an Anthropic messages API request
func (c *AnthropicClient) buildRequest(req *domain.ChatRequest) map[string]any {
	anthropicReq := map[string]any{
		"model": c.model,
	}

	maxTokens := c.defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	anthropicReq["max_tokens"] = maxTokens

	temperature := domain.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	anthropicReq["temperature"] = temperature

	topP := domain.DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	anthropicReq["top_p"] = topP

	// The messages API has no seed parameter; determinism for cache key
	// purposes is carried by the request alone

	if req.SystemPrompt != "" {
		anthropicReq["system"] = req.SystemPrompt
	}
	anthropicReq["messages"] = []map[string]any{
		{"role": "user", "content": req.UserPrompt},
	}

	return anthropicReq
}

// parseSSEStream parses the Anthropic event stream
func (c *AnthropicClient) parseSSEStream(body io.Reader, eventChan chan<- domain.StreamEvent) {
	reader := NewSSEReader(body)
	var inputTokens, outputTokens int64
	finishSent := false

	for {
		event, err := reader.ReadEvent()
		if err != nil {
			if err != io.EOF && !finishSent {
				eventChan <- domain.FinishEvent{Reason: domain.FinishReasonError}
			}
			return
		}

		switch event.Event {
		case "message_start":
			var msg struct {
				Message struct {
					Usage struct {
						InputTokens int64 `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
			}
			if err := json.Unmarshal([]byte(event.Data), &msg); err == nil {
				inputTokens = msg.Message.Usage.InputTokens
			}

		case "content_block_delta":
			var delta struct {
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(event.Data), &delta); err == nil && delta.Delta.Text != "" {
				eventChan <- domain.TextChunk{Content: delta.Delta.Text}
			}

		case "message_delta":
			var msg struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int64 `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(event.Data), &msg); err == nil {
				outputTokens = msg.Usage.OutputTokens
				eventChan <- domain.UsageEvent{Usage: domain.Usage{
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
					TotalTokens:  inputTokens + outputTokens,
				}}
				reason := domain.FinishReasonStop
				if msg.Delta.StopReason == "max_tokens" {
					reason = domain.FinishReasonLength
				}
				eventChan <- domain.FinishEvent{Reason: reason}
				finishSent = true
			}

		case "message_stop":
			if !finishSent {
				eventChan <- domain.FinishEvent{Reason: domain.FinishReasonStop}
			}
			return
		}
	}
}
