package config

import (
	"os"
	"path/filepath"
	"testing"

	"assistgate/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Fatalf("Default config failed validation: %v", err)
		}
	})

	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.HTTPPort != 8080 {
			t.Errorf("Expected default port 8080, got %d", cfg.Server.HTTPPort)
		}
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
[server]
http_port = 9090

[ratelimit]
daily_token_limit = 5000

[router]
default_provider = "anthropic"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.HTTPPort != 9090 {
			t.Errorf("Expected port 9090, got %d", cfg.Server.HTTPPort)
		}
		if cfg.RateLimit.DailyTokenLimit != 5000 {
			t.Errorf("Expected daily limit 5000, got %d", cfg.RateLimit.DailyTokenLimit)
		}
		if cfg.Router.DefaultProvider != "anthropic" {
			t.Errorf("Expected anthropic, got %s", cfg.Router.DefaultProvider)
		}
		// Untouched sections keep their defaults
		if cfg.Cache.MaxEntries != 500 {
			t.Errorf("Expected default cache budget, got %d", cfg.Cache.MaxEntries)
		}
	})

	t.Run("api key env expansion", func(t *testing.T) {
		t.Setenv("TEST_OPENAI_KEY", "sk-test-123")
		path := writeConfig(t, `
[providers.openai]
api_key = "${TEST_OPENAI_KEY}"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Providers.OpenAI.APIKey != "sk-test-123" {
			t.Errorf("Expected expanded key, got %q", cfg.Providers.OpenAI.APIKey)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("ASSISTGATE_HTTP_PORT", "7070")
		t.Setenv("ASSISTGATE_DEFAULT_PROVIDER", "bedrock")
		path := writeConfig(t, "[server]\nhttp_port = 9090\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.HTTPPort != 7070 {
			t.Errorf("Env override should win, got %d", cfg.Server.HTTPPort)
		}
		if cfg.Router.DefaultProvider != "bedrock" {
			t.Errorf("Expected bedrock, got %s", cfg.Router.DefaultProvider)
		}
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		path := writeConfig(t, "[router]\ndefault_provider = \"dalle\"\n")
		if _, err := Load(path); err == nil {
			t.Error("Expected validation error for unknown provider")
		}
	})

	t.Run("zero retry attempts rejected", func(t *testing.T) {
		path := writeConfig(t, "[router]\nmax_attempts = 0\n")
		if _, err := Load(path); err == nil {
			t.Error("Expected validation error for max_attempts = 0")
		}
	})
}

func TestConnectionSettingsFor(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.RequestTimeoutSec = 45

	if got := cfg.ConnectionSettingsFor(domain.ProviderAnthropic).RequestTimeoutSec; got != 45 {
		t.Errorf("Expected 45s timeout, got %d", got)
	}
	if got := cfg.ConnectionSettingsFor(domain.ProviderOpenAI).RequestTimeoutSec; got != 20 {
		t.Errorf("Expected configured default 20s, got %d", got)
	}
}
