package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeModelsFile(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "models.json")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return configPath
}

func TestNewModelsConfig_ValidConfig(t *testing.T) {
	configPath := writeModelsFile(t, `[
		{
			"id": "google/gemini-2.5-flash",
			"name": "Gemini 2.5 Flash",
			"provider": "Google",
			"input_per_token": "0.00000030",
			"output_per_token": "0.00000250"
		},
		{
			"id": "openai/gpt-4o-mini",
			"name": "GPT-4o mini",
			"provider": "OpenAI"
		}
	]`)

	config, err := NewModelsConfig(configPath)
	if err != nil {
		t.Fatalf("NewModelsConfig() error = %v, want nil", err)
	}

	models := config.GetAvailableModels()
	if len(models) != 2 {
		t.Errorf("GetAvailableModels() returned %d models, want 2", len(models))
	}

	if !models[0].HasPricing() {
		t.Error("Expected first model to carry pricing")
	}
	if models[1].HasPricing() {
		t.Error("Expected second model to have no pricing")
	}
}

func TestNewModelsConfig_FileNotFound(t *testing.T) {
	config, err := NewModelsConfig("/nonexistent/path/models.json")
	if err == nil {
		t.Error("NewModelsConfig() error = nil, want error for nonexistent file")
	}

	if config != nil {
		t.Error("NewModelsConfig() returned non-nil config for nonexistent file")
	}
}

func TestNewModelsConfig_InvalidJSON(t *testing.T) {
	configPath := writeModelsFile(t, `{ this is not valid json }`)

	config, err := NewModelsConfig(configPath)
	if err == nil {
		t.Error("NewModelsConfig() error = nil, want error for invalid JSON")
	}

	if config != nil {
		t.Error("NewModelsConfig() returned non-nil config for invalid JSON")
	}
}

func TestModelsConfig_FindAndDefault(t *testing.T) {
	config := &ModelsConfig{models: []Model{
		{ID: "a/first"},
		{ID: "b/second"},
	}}

	if got := config.GetDefaultModel(); got != "a/first" {
		t.Errorf("GetDefaultModel() = %q, want %q", got, "a/first")
	}

	if _, ok := config.Find("b/second"); !ok {
		t.Error("Find() did not return existing model")
	}
	if _, ok := config.Find("c/missing"); ok {
		t.Error("Find() returned a model that is not configured")
	}

	empty := &ModelsConfig{}
	if got := empty.GetDefaultModel(); got != "" {
		t.Errorf("GetDefaultModel() on empty config = %q, want empty", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("CACHE_BACKEND", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("MODELS_CONFIG_PATH", "")
	t.Setenv("PRICING_INPUT_PER_TOKEN", "")
	t.Setenv("PRICING_OUTPUT_PER_TOKEN", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver by default, got %s", cfg.Database.Driver)
	}
	if cfg.LLM.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("Expected default system prompt, got %q", cfg.LLM.SystemPrompt)
	}
	if cfg.AuthEnabled() {
		t.Error("Expected auth to be disabled without a secret")
	}

	pricing, err := cfg.ResolvePricing()
	if err != nil {
		t.Fatalf("ResolvePricing() error = %v", err)
	}
	if pricing.InputRate.String() != "0.00000025" {
		t.Errorf("Expected default input rate, got %s", pricing.InputRate)
	}
}

func TestLoadConfig_CatalogPricingWins(t *testing.T) {
	configPath := writeModelsFile(t, `[
		{"id": "m/priced", "input_per_token": "0.000001", "output_per_token": "0.000002"}
	]`)
	t.Setenv("MODELS_CONFIG_PATH", configPath)
	t.Setenv("LLM_MODEL", "")
	t.Setenv("AUTH_JWT_SECRET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LLM.Model != "m/priced" {
		t.Errorf("Expected catalog default model, got %q", cfg.LLM.Model)
	}

	pricing, err := cfg.ResolvePricing()
	if err != nil {
		t.Fatalf("ResolvePricing() error = %v", err)
	}
	if pricing.OutputRate.String() != "0.000002" {
		t.Errorf("Expected catalog output rate, got %s", pricing.OutputRate)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"unknown provider", "LLM_PROVIDER", "gemini"},
		{"unknown cache", "CACHE_BACKEND", "memcached"},
		{"short secret", "AUTH_JWT_SECRET", "too-short"},
		{"bad rate", "PRICING_INPUT_PER_TOKEN", "cheap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MODELS_CONFIG_PATH", "")
			t.Setenv(tt.key, tt.val)

			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() error = nil, want error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
