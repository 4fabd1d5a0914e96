package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".routegate")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `
api_keys:
  anthropic: file-anthropic-key
  openai: file-openai-key
local:
  base_url: http://filehost:9999/v1
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("ROUTEGATE_LOCAL_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-anthropic-key" {
		t.Errorf("AnthropicAPIKey = %q, want the env value", cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "file-openai-key" {
		t.Errorf("OpenAIAPIKey = %q, want the file value", cfg.OpenAIAPIKey)
	}
	if cfg.LocalBaseURL != "http://filehost:9999/v1" {
		t.Errorf("LocalBaseURL = %q, want the file value", cfg.LocalBaseURL)
	}
	if cfg.Routing == nil {
		t.Fatal("Routing not populated with defaults")
	}
}

func TestLoadDefaultsWithoutAnyConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("ROUTEGATE_LOCAL_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalBaseURL != "http://localhost:1234/v1" {
		t.Errorf("LocalBaseURL = %q, want the built-in default", cfg.LocalBaseURL)
	}
	if err := cfg.Routing.Validate(); err != nil {
		t.Errorf("default routing invalid: %v", err)
	}
}

func TestHasProvider(t *testing.T) {
	cfg := &Config{
		AnthropicAPIKey: "sk-ant-test",
		LocalBaseURL:    "http://localhost:1234/v1",
	}

	tests := []struct {
		provider string
		want     bool
	}{
		{"anthropic", true},
		{"openai", false},
		{"google", false},
		{"openrouter", false},
		{"local", true},
		{"unknown", false},
	}
	for _, tt := range tests {
		if got := cfg.HasProvider(tt.provider); got != tt.want {
			t.Errorf("HasProvider(%s) = %v, want %v", tt.provider, got, tt.want)
		}
	}
}

func TestSecretValues(t *testing.T) {
	cfg := &Config{
		AnthropicAPIKey:  "key-a",
		OpenRouterAPIKey: "key-d",
	}
	got := cfg.SecretValues()
	if len(got) != 2 {
		t.Fatalf("SecretValues = %v, want 2 entries", got)
	}
	for _, s := range got {
		if s == "" {
			t.Error("SecretValues contains an empty string")
		}
	}
}
