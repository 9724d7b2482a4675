package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// ProviderConfig selects and configures a gateway backend.
type ProviderConfig struct {
	Provider string // groq, openai, gemini, anthropic, ollama (default: groq)
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	Retry RetryConfig
}

// NewGateway builds the configured provider behind its circuit breaker and
// wraps it with rate limiting and transient-error retries.
func NewGateway(ctx context.Context, cfg ProviderConfig, logger *log.Logger) (*RetryingGateway, error) {
	if logger == nil {
		logger = log.Default()
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "groq"
	}

	breaker := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:        provider,
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
		Logger:      logger,
	})

	var inner Gateway
	switch provider {
	case "groq":
		inner = NewOpenAIClient(OpenAIConfig{Provider: "groq", APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Breaker: breaker})
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1/"
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		inner = NewOpenAIClient(OpenAIConfig{Provider: "openai", APIKey: cfg.APIKey, Model: model, BaseURL: baseURL, Timeout: cfg.Timeout, Breaker: breaker})
	case "gemini":
		g, err := NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Breaker: breaker})
		if err != nil {
			return nil, err
		}
		inner = g
	case "anthropic":
		inner = NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Breaker: breaker})
	case "ollama":
		inner = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout, Breaker: breaker})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	logger.Info("llm gateway ready", "provider", provider, "model", inner.GetModel())
	return NewRetryingGateway(inner, cfg.Retry, logger), nil
}
