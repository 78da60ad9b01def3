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

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, srv
}

func TestOpenAIChat(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		var captured map[string]any
		client, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("Unexpected authorization header: %s", auth)
			}
			json.NewDecoder(r.Body).Decode(&captured)

			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "hello there"}, "finish_reason": "stop"},
				},
				"usage": map[string]any{
					"prompt_tokens":     12,
					"completion_tokens": 5,
					"total_tokens":      17,
				},
			})
		})

		resp, err := client.Chat(context.Background(), &domain.ChatRequest{
			SystemPrompt: "be helpful",
			UserPrompt:   "hi",
		})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content != "hello there" {
			t.Errorf("Expected content %q, got %q", "hello there", resp.Content)
		}
		if resp.Usage.TotalTokens != 17 {
			t.Errorf("Expected 17 total tokens, got %d", resp.Usage.TotalTokens)
		}
		if resp.Provider != domain.ProviderOpenAI {
			t.Errorf("Expected openai provider, got %s", resp.Provider)
		}

		// Deterministic sampling defaults are always sent
		if float32(captured["temperature"].(float64)) != domain.DefaultTemperature {
			t.Errorf("Expected default temperature, got %v", captured["temperature"])
		}
		if captured["seed"].(float64) != float64(domain.DefaultSeed) {
			t.Errorf("Expected default seed, got %v", captured["seed"])
		}
		messages := captured["messages"].([]any)
		if len(messages) != 2 {
			t.Fatalf("Expected system + user messages, got %d", len(messages))
		}
	})

	t.Run("server error is retryable", func(t *testing.T) {
		client, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		})

		_, err := client.Chat(context.Background(), &domain.ChatRequest{UserPrompt: "hi"})
		if err == nil {
			t.Fatal("Expected error on 500")
		}
		if !domain.IsRetryable(err) {
			t.Errorf("500 should be retryable, got: %v", err)
		}
	})

	t.Run("auth error is not retryable", func(t *testing.T) {
		client, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
		})

		_, err := client.Chat(context.Background(), &domain.ChatRequest{UserPrompt: "hi"})
		if err == nil {
			t.Fatal("Expected error on 401")
		}
		if domain.IsRetryable(err) {
			t.Errorf("401 should not be retryable, got: %v", err)
		}
		var provErr *domain.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("Expected ProviderError, got %T", err)
		}
		if provErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", provErr.StatusCode)
		}
		if provErr.Provider != domain.ProviderOpenAI {
			t.Errorf("Expected provider %s, got %s", domain.ProviderOpenAI, provErr.Provider)
		}
	})

	t.Run("missing api key rejected", func(t *testing.T) {
		if _, err := NewOpenAIClient(OpenAIOptions{}); err == nil {
			t.Error("Expected error constructing client without API key")
		}
	})
}

func TestOpenAIChatStream(t *testing.T) {
	client, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
			`[DONE]`,
		}
		for _, chunk := range chunks {
			w.Write([]byte("data: " + chunk + "\n\n"))
		}
	})

	events, err := client.ChatStream(context.Background(), &domain.ChatRequest{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var text string
	var usage *domain.Usage
	var finish *domain.FinishEvent
	for event := range events {
		switch e := event.(type) {
		case domain.TextChunk:
			text += e.Content
		case domain.UsageEvent:
			u := e.Usage
			usage = &u
		case domain.FinishEvent:
			f := e
			finish = &f
		}
	}

	if text != "Hello" {
		t.Errorf("Expected streamed text %q, got %q", "Hello", text)
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("Expected usage event with 6 total tokens, got %+v", usage)
	}
	if finish == nil || finish.Reason != domain.FinishReasonStop {
		t.Errorf("Expected stop finish event, got %+v", finish)
	}
}
