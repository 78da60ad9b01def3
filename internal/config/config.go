// Package config provides configuration management for the assistant gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"assistgate/internal/domain"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Cache     CacheConfig     `toml:"cache"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Router    RouterConfig    `toml:"router"`
	Providers ProvidersConfig `toml:"providers"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	HTTPPort       int           `toml:"http_port"`
	BindAddress    string        `toml:"bind_address"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	MaxRequestSize int64         `toml:"max_request_size"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	LogFormat   string `toml:"log_format"`
	LogLevel    string `toml:"log_level"`
}

// CacheConfig contains response cache settings
type CacheConfig struct {
	Path          string        `toml:"path"`           // persisted snapshot file
	TTL           time.Duration `toml:"ttl"`            // entry lifetime
	MaxEntries    int           `toml:"max_entries"`    // entry-count budget
	MaxSizeBytes  int64         `toml:"max_size_bytes"` // aggregate-size budget
	FlushInterval time.Duration `toml:"flush_interval"` // background persistence cadence
	SweepInterval time.Duration `toml:"sweep_interval"` // background TTL sweep cadence
}

// RateLimitConfig contains per-caller admission settings
type RateLimitConfig struct {
	DailyTokenLimit      int64 `toml:"daily_token_limit"`
	MaxRequestsPerMinute int   `toml:"max_requests_per_minute"`
}

// RouterConfig contains provider selection and retry settings
type RouterConfig struct {
	DefaultProvider      string        `toml:"default_provider"`
	LongContextProvider  string        `toml:"long_context_provider"`
	LongContextThreshold int           `toml:"long_context_threshold"` // prompt chars
	MaxAttempts          int           `toml:"max_attempts"`
	RetryBaseDelay       time.Duration `toml:"retry_base_delay"`
}

// ProvidersConfig contains provider-specific settings
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `toml:"openai"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Bedrock   BedrockConfig   `toml:"bedrock"`
}

// OpenAIConfig contains OpenAI-specific settings
type OpenAIConfig struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	MaxTokensDefault  int32  `toml:"max_tokens_default"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
	Enabled           bool   `toml:"enabled"`
}

// AnthropicConfig contains Anthropic-specific settings
type AnthropicConfig struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	MaxTokensDefault  int32  `toml:"max_tokens_default"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
	Enabled           bool   `toml:"enabled"`
}

// BedrockConfig contains AWS Bedrock-specific settings
type BedrockConfig struct {
	Region            string `toml:"region"`
	AccessKeyID       string `toml:"access_key_id"`
	SecretAccessKey   string `toml:"secret_access_key"`
	Model             string `toml:"model"`
	MaxTokensDefault  int32  `toml:"max_tokens_default"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
	Enabled           bool   `toml:"enabled"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			BindAddress:    "0.0.0.0",
			ReadTimeout:    1 * time.Minute,
			WriteTimeout:   5 * time.Minute,
			MaxRequestSize: 1 * 1024 * 1024, // 1MB
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "assistgate",
			LogFormat:   "json",
			LogLevel:    "info",
		},
		Cache: CacheConfig{
			Path:          "assist_cache.json",
			TTL:           24 * time.Hour,
			MaxEntries:    500,
			MaxSizeBytes:  8 * 1024 * 1024, // 8MB
			FlushInterval: 60 * time.Second,
			SweepInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			DailyTokenLimit:      100_000,
			MaxRequestsPerMinute: 10,
		},
		Router: RouterConfig{
			DefaultProvider:      "openai",
			LongContextProvider:  "anthropic",
			LongContextThreshold: 8000,
			MaxAttempts:          3,
			RetryBaseDelay:       1 * time.Second,
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				Model:             "gpt-4o-mini",
				MaxTokensDefault:  1024,
				RequestTimeoutSec: 20,
				Enabled:           true,
			},
			Anthropic: AnthropicConfig{
				Model:             "claude-3-5-haiku-20241022",
				MaxTokensDefault:  1024,
				RequestTimeoutSec: 20,
			},
			Bedrock: BedrockConfig{
				Region:            "us-east-1",
				Model:             "amazon.nova-lite-v1:0",
				MaxTokensDefault:  1024,
				RequestTimeoutSec: 20,
			},
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		// If file doesn't exist, return defaults
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Substitute environment variables
	cfg.substituteEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads config from file or returns defaults
func LoadOrDefault(path string) *Config {
	if path == "" {
		return Default()
	}

	cfg, err := Load(path)
	if err != nil {
		fmt.Printf("Warning: Failed to load config from %s: %v\n", path, err)
		return Default()
	}

	return cfg
}

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	if _, ok := domain.ParseProvider(c.Router.DefaultProvider); !ok {
		return fmt.Errorf("unknown default provider: %s", c.Router.DefaultProvider)
	}
	if c.Router.LongContextProvider != "" {
		if _, ok := domain.ParseProvider(c.Router.LongContextProvider); !ok {
			return fmt.Errorf("unknown long-context provider: %s", c.Router.LongContextProvider)
		}
	}
	if c.RateLimit.DailyTokenLimit < 0 {
		return fmt.Errorf("daily_token_limit must be non-negative")
	}
	if c.RateLimit.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("max_requests_per_minute must be non-negative")
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("cache budgets must be non-negative")
	}
	if c.Router.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// substituteEnvVars substitutes ${VAR} patterns with environment variables
// and applies direct ASSISTGATE_* environment variable overrides
func (c *Config) substituteEnvVars() {
	c.Providers.OpenAI.APIKey = expandEnv(c.Providers.OpenAI.APIKey)
	c.Providers.Anthropic.APIKey = expandEnv(c.Providers.Anthropic.APIKey)
	c.Providers.Bedrock.AccessKeyID = expandEnv(c.Providers.Bedrock.AccessKeyID)
	c.Providers.Bedrock.SecretAccessKey = expandEnv(c.Providers.Bedrock.SecretAccessKey)

	// Direct environment variable overrides for container deployment
	if v := os.Getenv("ASSISTGATE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("ASSISTGATE_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("ASSISTGATE_OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ASSISTGATE_ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("ASSISTGATE_DEFAULT_PROVIDER"); v != "" {
		c.Router.DefaultProvider = v
	}
	if v := os.Getenv("ASSISTGATE_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
}

// expandEnv expands ${VAR} or $VAR patterns
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return os.ExpandEnv(s)
}

// ConnectionSettingsFor returns connection settings for a provider,
// honoring its configured request timeout
func (c *Config) ConnectionSettingsFor(p domain.Provider) domain.ConnectionSettings {
	settings := domain.DefaultConnectionSettings()
	switch p {
	case domain.ProviderOpenAI:
		if c.Providers.OpenAI.RequestTimeoutSec > 0 {
			settings.RequestTimeoutSec = c.Providers.OpenAI.RequestTimeoutSec
		}
	case domain.ProviderAnthropic:
		if c.Providers.Anthropic.RequestTimeoutSec > 0 {
			settings.RequestTimeoutSec = c.Providers.Anthropic.RequestTimeoutSec
		}
	case domain.ProviderBedrock:
		if c.Providers.Bedrock.RequestTimeoutSec > 0 {
			settings.RequestTimeoutSec = c.Providers.Bedrock.RequestTimeoutSec
		}
	}
	return settings
}
