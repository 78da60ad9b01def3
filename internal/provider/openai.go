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

// OpenAIOptions configures an OpenAIClient
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int32
	Settings  domain.ConnectionSettings
}

// OpenAIClient is a raw-HTTP client for the OpenAI chat completions API
type OpenAIClient struct {
	apiKey           string
	baseURL          string
	model            string
	defaultMaxTokens int32
	httpClient       *http.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Settings.RequestTimeoutSec == 0 {
		opts.Settings = domain.DefaultConnectionSettings()
	}

	return &OpenAIClient{
		apiKey:           opts.APIKey,
		baseURL:          opts.BaseURL,
		model:            opts.Model,
		defaultMaxTokens: opts.MaxTokens,
		httpClient:       BuildHTTPClient(opts.Settings),
	}, nil
}

// Provider returns the provider type
func (c *OpenAIClient) Provider() domain.Provider {
	return domain.ProviderOpenAI
}

// Model returns the configured model ID
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat performs a non-streaming chat completion
func (c *OpenAIClient) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	openaiReq := c.buildRequest(req)
	openaiReq["stream"] = false

	start := time.Now()
	resp, err := c.post(ctx, openaiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, domain.NewProviderError(domain.ProviderOpenAI, resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, domain.TransientProviderError(domain.ProviderOpenAI, fmt.Errorf("empty choices in response"))
	}

	return &domain.ChatResponse{
		Content:  result.Choices[0].Message.Content,
		Provider: domain.ProviderOpenAI,
		Model:    c.model,
		Usage: domain.Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
			TotalTokens:  result.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ChatStream starts a streaming chat completion
func (c *OpenAIClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	openaiReq := c.buildRequest(req)
	openaiReq["stream"] = true
	openaiReq["stream_options"] = map[string]any{
		"include_usage": true,
	}

	resp, err := c.post(ctx, openaiReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, domain.NewProviderError(domain.ProviderOpenAI, resp.StatusCode, string(bodyBytes))
	}

	eventChan := make(chan domain.StreamEvent, 100)
	go func() {
		defer close(eventChan)
		defer resp.Body.Close()
		c.parseSSEStream(resp.Body, eventChan)
	}()

	return eventChan, nil
}

func (c *OpenAIClient) post(ctx context.Context, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.TransientProviderError(domain.ProviderOpenAI, err)
	}
	return resp, nil
}

// buildRequest builds an OpenAI API request
func (c *OpenAIClient) buildRequest(req *domain.ChatRequest) map[string]any {
	openaiReq := map[string]any{
		"model": c.model,
	}

	maxTokens := c.defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	openaiReq["max_tokens"] = maxTokens

	temperature := domain.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	openaiReq["temperature"] = temperature

	topP := domain.DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	openaiReq["top_p"] = topP

	seed := domain.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}
	openaiReq["seed"] = seed

	var messages []map[string]any
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": req.UserPrompt,
	})
	openaiReq["messages"] = messages

	return openaiReq
}

// parseSSEStream parses the SSE stream from OpenAI
func (c *OpenAIClient) parseSSEStream(body io.Reader, eventChan chan<- domain.StreamEvent) {
	reader := NewSSEReader(body)
	finishSent := false
	pendingFinish := domain.FinishReason("")

	for {
		event, err := reader.ReadEvent()
		if err != nil {
			if err != io.EOF && !finishSent {
				eventChan <- domain.FinishEvent{Reason: domain.FinishReasonError}
			}
			return
		}

		if event.Data == "[DONE]" {
			if !finishSent {
				reason := pendingFinish
				if reason == "" {
					reason = domain.FinishReasonStop
				}
				eventChan <- domain.FinishEvent{Reason: reason}
			}
			return
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int64 `json:"prompt_tokens"`
				CompletionTokens int64 `json:"completion_tokens"`
				TotalTokens      int64 `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			continue
		}

		// The usage chunk arrives last, after all deltas
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			eventChan <- domain.UsageEvent{Usage: domain.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}}
			if pendingFinish != "" && !finishSent {
				eventChan <- domain.FinishEvent{Reason: pendingFinish}
				finishSent = true
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				eventChan <- domain.TextChunk{Content: choice.Delta.Content}
			}
			if choice.FinishReason != "" && !finishSent {
				switch choice.FinishReason {
				case "length":
					pendingFinish = domain.FinishReasonLength
				default:
					pendingFinish = domain.FinishReasonStop
				}
			}
		}
	}
}
