package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default endpoint and model for the OpenAI-compatible gateway (Groq).
const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1/"
	DefaultGroqModel   = "llama-3.3-70b-versatile"
)

// OpenAIConfig holds configuration for any OpenAI-compatible chat completions API.
type OpenAIConfig struct {
	Provider string        // name used in errors and logs (default: groq)
	APIKey   string
	Model    string        // default: llama-3.3-70b-versatile
	BaseURL  string        // default: https://api.groq.com/openai/v1/
	Timeout  time.Duration // default: 30s
	Breaker  *CircuitBreaker
}

// OpenAIClient implements Gateway on top of the openai-go SDK.
// SDK-level retries are disabled; RetryingGateway owns the retry policy.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Provider == "" {
		cfg.Provider = "groq"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGroqModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGroqBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(cfg.Provider)
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &OpenAIClient{
		cfg:            cfg,
		client:         client,
		circuitBreaker: cfg.Breaker,
	}
}

// Generate sends a chat completion and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return c.circuitBreaker.call(ctx, c.cfg.Provider, func() (string, error) {
		return c.generate(ctx, prompt, opts)
	})
}

func (c *OpenAIClient) generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &GatewayError{
				Kind:       KindForStatus(apiErr.StatusCode),
				Provider:   c.cfg.Provider,
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		}
		return "", requestError(ctx, c.cfg.Provider, err)
	}

	if len(completion.Choices) == 0 {
		return "", &GatewayError{Kind: Transient, Provider: c.cfg.Provider, Err: fmt.Errorf("%s returned no completion choices", c.cfg.Provider)}
	}
	return completion.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Provider returns the provider name used in errors.
func (c *OpenAIClient) Provider() string {
	return c.cfg.Provider
}

// BreakerState returns the circuit breaker state.
func (c *OpenAIClient) BreakerState() string {
	return c.circuitBreaker.State()
}

// Compile-time assertion.
var _ Gateway = (*OpenAIClient)(nil)
