package llm

import "context"

// Options tunes a single generation call.
type Options struct {
	// Model overrides the gateway's configured model when non-empty.
	Model string
	// MaxTokens bounds the length of the response. Zero uses the provider default.
	MaxTokens int
	// Temperature is always sent to the provider.
	Temperature float64
	// System is an optional system instruction sent ahead of the prompt.
	System string
}

// Gateway is the boundary to a text-generation backend: prompt in, raw text out.
//
// Implementations return *GatewayError on failure so callers can tell
// transient conditions from fatal ones.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	GetModel() string
}

// BreakerReporter is implemented by gateways that sit behind a circuit breaker.
type BreakerReporter interface {
	BreakerState() string
}
