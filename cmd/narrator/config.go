package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	ekipick "github.com/Tonoyama/EkiPick"
	"github.com/Tonoyama/EkiPick/internal/handlers"
	"github.com/Tonoyama/EkiPick/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	narrator(logger *slog.Logger) (handlers.Narrator, error)
}

// BaseLLMConfig contains the common fields for all narrator backends.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port           string          `yaml:"port"`
	LogLevel       string          `yaml:"logLevel"`
	LogFile        string          `yaml:"logFile"`
	RateLimit      rateLimitConfig `yaml:"rateLimit"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	LLM            llmConfig       `yaml:"llm"`
}

type rateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type scriptConfig struct {
	BaseLLMConfig `yaml:",inline"`
	// Path of a YAML script; empty plays the embedded one.
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
	Endpoint      string `yaml:"endpoint"`
}

func defaultConfig() config {
	return config{
		Port:      "8000",
		LogLevel:  "info",
		RateLimit: rateLimitConfig{Requests: 30, Window: time.Minute},
		LLM:       &scriptConfig{BaseLLMConfig: BaseLLMConfig{Provider: "script"}},
	}
}

// loadConfig reads the config file at path. A missing file yields the defaults, which play the
// embedded script. NARRATOR_PORT overrides the port.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if err := decodeConfigFile(path, &cfg); err != nil {
		return cfg, err
	}

	if port := os.Getenv("NARRATOR_PORT"); port != "" {
		cfg.Port = port
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string          `yaml:"port"`
		LogLevel       string          `yaml:"logLevel"`
		LogFile        string          `yaml:"logFile"`
		RateLimit      rateLimitConfig `yaml:"rateLimit"`
		AllowedOrigins []string        `yaml:"allowedOrigins"`
		LLM            map[string]any  `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	c.LogFile = rawConfig.LogFile
	if rawConfig.RateLimit.Requests != 0 {
		c.RateLimit.Requests = rawConfig.RateLimit.Requests
	}
	if rawConfig.RateLimit.Window != 0 {
		c.RateLimit.Window = rawConfig.RateLimit.Window
	}
	c.AllowedOrigins = rawConfig.AllowedOrigins

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "script":
		llm = &scriptConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "openai", "openrouter":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (s scriptConfig) narrator(logger *slog.Logger) (handlers.Narrator, error) {
	data := ekipick.DefaultScript
	if s.Path != "" {
		var err error
		data, err = os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("error reading script: %w", err)
		}
	}

	script, err := services.ParseScript(data)
	if err != nil {
		return nil, err
	}
	return services.NewScriptNarrator(script, s.Speed, logger), nil
}

func (o ollamaConfig) narrator(logger *slog.Logger) (handlers.Narrator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	llm, err := services.NewOllama(host, o.Model, o.Parameters)
	if err != nil {
		return nil, err
	}
	return services.NewPipeline(llm, logger), nil
}

func (o openAIConfig) narrator(logger *slog.Logger) (handlers.Narrator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey, baseURL := o.APIKey, o.BaseURL
	if o.Provider == "openrouter" {
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if baseURL == "" {
			baseURL = services.OpenRouterBaseURL
		}
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	return services.NewPipeline(services.NewOpenAI(apiKey, baseURL, o.Model, o.Parameters, logger), logger), nil
}

func (a anthropicConfig) narrator(logger *slog.Logger) (handlers.Narrator, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	llm := services.NewAnthropic(apiKey, a.Model, a.MaxTokens, a.Parameters, a.Endpoint)
	return services.NewPipeline(llm, logger), nil
}
