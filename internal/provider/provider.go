// Package provider implements LLM provider clients.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"assistgate/internal/config"
	"assistgate/internal/domain"
)

// ChatClient is the adapter contract every backend implements. Chat is a
// single request/response call; ChatStream emits incremental events and
// returns domain.ErrStreamingUnsupported when the backend cannot stream.
type ChatClient interface {
	Provider() domain.Provider
	Model() string
	Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
	ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error)
}

// BuildHTTPClient creates an HTTP client with the specified connection settings
func BuildHTTPClient(settings domain.ConnectionSettings) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        settings.MaxIdleConnections,
		MaxIdleConnsPerHost: settings.MaxIdleConnections,
		MaxConnsPerHost:     settings.MaxConnections,
		IdleConnTimeout:     time.Duration(settings.IdleTimeoutSec) * time.Second,
		DisableKeepAlives:   !settings.EnableKeepAlive,
		ForceAttemptHTTP2:   settings.EnableHTTP2,
	}

	return &http.Client{
		Timeout:   time.Duration(settings.RequestTimeoutSec) * time.Second,
		Transport: transport,
	}
}

// Registry holds the configured provider clients
type Registry struct {
	mu        sync.RWMutex
	clients   map[domain.Provider]ChatClient
	hasAPIKey map[domain.Provider]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[domain.Provider]ChatClient),
		hasAPIKey: make(map[domain.Provider]bool),
	}
}

// NewRegistryFromConfig builds clients for every enabled provider
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := NewRegistry()

	if cfg.Providers.OpenAI.Enabled {
		client, err := NewOpenAIClient(OpenAIOptions{
			APIKey:    cfg.Providers.OpenAI.APIKey,
			BaseURL:   cfg.Providers.OpenAI.BaseURL,
			Model:     cfg.Providers.OpenAI.Model,
			MaxTokens: cfg.Providers.OpenAI.MaxTokensDefault,
			Settings:  cfg.ConnectionSettingsFor(domain.ProviderOpenAI),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		r.Register(client, cfg.Providers.OpenAI.APIKey != "")
	}

	if cfg.Providers.Anthropic.Enabled {
		client, err := NewAnthropicClient(AnthropicOptions{
			APIKey:    cfg.Providers.Anthropic.APIKey,
			BaseURL:   cfg.Providers.Anthropic.BaseURL,
			Model:     cfg.Providers.Anthropic.Model,
			MaxTokens: cfg.Providers.Anthropic.MaxTokensDefault,
			Settings:  cfg.ConnectionSettingsFor(domain.ProviderAnthropic),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		r.Register(client, cfg.Providers.Anthropic.APIKey != "")
	}

	if cfg.Providers.Bedrock.Enabled {
		client, err := NewBedrockClient(ctx, BedrockOptions{
			Region:          cfg.Providers.Bedrock.Region,
			AccessKeyID:     cfg.Providers.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Providers.Bedrock.SecretAccessKey,
			Model:           cfg.Providers.Bedrock.Model,
			MaxTokens:       cfg.Providers.Bedrock.MaxTokensDefault,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock client: %w", err)
		}
		r.Register(client, cfg.Providers.Bedrock.AccessKeyID != "")
	}

	if len(r.Providers()) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	return r, nil
}

// Register adds a client. hasAPIKey records whether explicit credentials
// were configured; Bedrock may run on ambient AWS credentials without one.
func (r *Registry) Register(client ChatClient, hasAPIKey bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Provider()] = client
	r.hasAPIKey[client.Provider()] = hasAPIKey
}

// Client returns the client for a provider
func (r *Registry) Client(p domain.Provider) (ChatClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", p)
	}
	return client, nil
}

// Has reports whether a provider is configured
func (r *Registry) Has(p domain.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[p]
	return ok
}

// Providers returns the configured providers
func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]domain.Provider, 0, len(r.clients))
	for p := range r.clients {
		providers = append(providers, p)
	}
	return providers
}

// Status reports configuration state for every known provider
func (r *Registry) Status() []domain.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]domain.ProviderStatus, 0, len(domain.AllProviders()))
	for _, p := range domain.AllProviders() {
		status := domain.ProviderStatus{Provider: p}
		if client, ok := r.clients[p]; ok {
			status.Configured = true
			status.HasAPIKey = r.hasAPIKey[p]
			status.Model = client.Model()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
