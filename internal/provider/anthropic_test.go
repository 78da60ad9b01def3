package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"assistgate/internal/domain"
)

func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAnthropicClient(AnthropicOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "claude-3-5-haiku-20241022",
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestAnthropicChat(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		var captured map[string]any
		client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/messages" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}
			if key := r.Header.Get("x-api-key"); key != "test-key" {
				t.Errorf("Unexpected api key header: %s", key)
			}
			if v := r.Header.Get("anthropic-version"); v == "" {
				t.Error("Missing anthropic-version header")
			}
			json.NewDecoder(r.Body).Decode(&captured)

			json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": "bonjour"},
				},
				"stop_reason": "end_turn",
				"usage": map[string]any{
					"input_tokens":  8,
					"output_tokens": 3,
				},
			})
		})

		resp, err := client.Chat(context.Background(), &domain.ChatRequest{
			SystemPrompt: "reply in french",
			UserPrompt:   "hello",
		})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content != "bonjour" {
			t.Errorf("Expected content %q, got %q", "bonjour", resp.Content)
		}
		if resp.Usage.TotalTokens != 11 {
			t.Errorf("Expected computed total of 11 tokens, got %d", resp.Usage.TotalTokens)
		}
		if captured["system"] != "reply in french" {
			t.Errorf("System prompt should be top-level, got %v", captured["system"])
		}
	})

	t.Run("rate limit error is retryable", func(t *testing.T) {
		client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		})

		_, err := client.Chat(context.Background(), &domain.ChatRequest{UserPrompt: "hi"})
		if err == nil {
			t.Fatal("Expected error on 429")
		}
		if !domain.IsRetryable(err) {
			t.Errorf("429 should be retryable, got: %v", err)
		}
		var provErr *domain.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("Expected ProviderError, got %T", err)
		}
		if provErr.Provider != domain.ProviderAnthropic {
			t.Errorf("Expected provider %s, got %s", domain.ProviderAnthropic, provErr.Provider)
		}
	})
}

func TestAnthropicChatStream(t *testing.T) {
	client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ event, data string }{
			{"message_start", `{"message":{"usage":{"input_tokens":9}}}`},
			{"content_block_delta", `{"delta":{"type":"text_delta","text":"Bon"}}`},
			{"content_block_delta", `{"delta":{"type":"text_delta","text":"jour"}}`},
			{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`},
			{"message_stop", `{}`},
		}
		for _, e := range events {
			w.Write([]byte("event: " + e.event + "\ndata: " + e.data + "\n\n"))
		}
	})

	events, err := client.ChatStream(context.Background(), &domain.ChatRequest{UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var text string
	var usage *domain.Usage
	finishCount := 0
	for event := range events {
		switch e := event.(type) {
		case domain.TextChunk:
			text += e.Content
		case domain.UsageEvent:
			u := e.Usage
			usage = &u
		case domain.FinishEvent:
			finishCount++
		}
	}

	if text != "Bonjour" {
		t.Errorf("Expected streamed text %q, got %q", "Bonjour", text)
	}
	if usage == nil || usage.InputTokens != 9 || usage.OutputTokens != 4 {
		t.Errorf("Expected usage 9/4, got %+v", usage)
	}
	if finishCount != 1 {
		t.Errorf("Expected exactly one finish event, got %d", finishCount)
	}
}
