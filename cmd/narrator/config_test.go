package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    any
		wantErr bool
	}{
		{
			name: "Script",
			yaml: "llm:\n  provider: script\n  speed: 4\n",
			want: &scriptConfig{BaseLLMConfig: BaseLLMConfig{Provider: "script"}, Speed: 4},
		},
		{
			name: "Ollama",
			yaml: "llm:\n  provider: ollama\n  model: qwen2.5\n  host: http://gpu:11434\n",
			want: &ollamaConfig{BaseLLMConfig: BaseLLMConfig{Provider: "ollama", Model: "qwen2.5"}, Host: "http://gpu:11434"},
		},
		{
			name: "OpenRouter",
			yaml: "llm:\n  provider: openrouter\n  model: google/gemini-2.0-flash-001\n  apiKey: k\n",
			want: &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openrouter", Model: "google/gemini-2.0-flash-001"}, APIKey: "k"},
		},
		{
			name: "Anthropic",
			yaml: "llm:\n  provider: anthropic\n  model: m\n  maxTokens: 1000\n",
			want: &anthropicConfig{BaseLLMConfig: BaseLLMConfig{Provider: "anthropic", Model: "m"}, MaxTokens: 1000},
		},
		{name: "Missing provider", yaml: "llm:\n  model: m\n", wantErr: true},
		{name: "Unknown provider", yaml: "llm:\n  provider: gemini\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.LLM)
			assert.Equal(t, "8000", cfg.Port)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing file uses defaults", func(t *testing.T) {
		cfg, err := loadConfig(filepath.Join(dir, "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.RateLimit.Requests)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)

		n, err := cfg.LLM.narrator(logging.Discard())
		require.NoError(t, err)
		assert.IsType(t, services.ScriptNarrator{}, n)
	})

	t.Run("Overrides", func(t *testing.T) {
		path := filepath.Join(dir, "narrator.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\nrateLimit:\n  requests: 5\n  window: 10s\n"), 0o600))
		t.Setenv("NARRATOR_PORT", "")

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "9000", cfg.Port)
		assert.Equal(t, 5, cfg.RateLimit.Requests)
		assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	})

	t.Run("Env port", func(t *testing.T) {
		t.Setenv("NARRATOR_PORT", "7000")
		cfg, err := loadConfig(filepath.Join(dir, "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "7000", cfg.Port)
	})
}

func TestNarratorRequiresModel(t *testing.T) {
	_, err := ollamaConfig{}.narrator(logging.Discard())
	assert.Error(t, err)
	_, err = anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}.narrator(logging.Discard())
	assert.Error(t, err)
	_, err = scriptConfig{Path: "/does/not/exist.yaml"}.narrator(logging.Discard())
	assert.Error(t, err)
}
