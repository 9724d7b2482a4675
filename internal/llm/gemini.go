package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string        // default: gemini-2.5-flash
	BaseURL string        // optional endpoint override
	Timeout time.Duration // default: 60s
	Breaker *CircuitBreaker
}

// GeminiClient implements Gateway using the Google GenAI SDK.
type GeminiClient struct {
	cfg            GeminiConfig
	client         *genai.Client
	circuitBreaker *CircuitBreaker
}

// NewGeminiClient creates a Gemini client. It fails without an API key.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker("gemini")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{cfg: cfg, client: client, circuitBreaker: cfg.Breaker}, nil
}

// Generate sends a single-turn GenerateContent request.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return c.circuitBreaker.call(ctx, "gemini", func() (string, error) {
		return c.generate(ctx, prompt, opts)
	})
}

func (c *GeminiClient) generate(ctx context.Context, prompt string, opts Options) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.System != "" {
		config.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(callCtx, model, genai.Text(prompt), config)
	if err != nil {
		if code, ok := geminiStatus(err); ok {
			return "", &GatewayError{Kind: KindForStatus(code), Provider: "gemini", StatusCode: code, Err: err}
		}
		return "", requestError(ctx, "gemini", err)
	}

	text := resp.Text()
	if text == "" {
		return "", &GatewayError{Kind: Transient, Provider: "gemini", Err: fmt.Errorf("gemini returned empty content")}
	}
	return text, nil
}

func geminiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.cfg.Model
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string { return "gemini" }

// BreakerState returns the circuit breaker state.
func (c *GeminiClient) BreakerState() string {
	return c.circuitBreaker.State()
}

// Compile-time assertion.
var _ Gateway = (*GeminiClient)(nil)
