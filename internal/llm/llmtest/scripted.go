// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/scrypster/rapport/internal/llm"
)

// Call records one Generate invocation.
type Call struct {
	Prompt string
	Opts   llm.Options
}

// Gateway replays queued responses and errors in call order. When Handler is
// set it answers every call instead. Safe for concurrent use.
type Gateway struct {
	Responses []string
	Errors    []error
	Handler   func(ctx context.Context, prompt string, opts llm.Options) (string, error)
	Model     string

	mu    sync.Mutex
	calls []Call
}

// New returns a Gateway that answers with responses in order.
func New(responses ...string) *Gateway {
	return &Gateway{Responses: responses}
}

// Generate implements llm.Gateway.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	g.mu.Lock()
	idx := len(g.calls)
	g.calls = append(g.calls, Call{Prompt: prompt, Opts: opts})
	handler := g.Handler
	g.mu.Unlock()

	if handler != nil {
		return handler(ctx, prompt, opts)
	}
	if err := ctx.Err(); err != nil {
		return "", &llm.GatewayError{Kind: llm.Fatal, Provider: "scripted", Err: err}
	}
	if idx < len(g.Errors) && g.Errors[idx] != nil {
		return "", g.Errors[idx]
	}
	if idx < len(g.Responses) {
		return g.Responses[idx], nil
	}
	return "", &llm.GatewayError{Kind: llm.Fatal, Provider: "scripted", Err: errors.New("no scripted response left")}
}

// GetModel implements llm.Gateway.
func (g *Gateway) GetModel() string {
	if g.Model == "" {
		return "scripted"
	}
	return g.Model
}

// Calls returns a copy of the recorded calls.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount returns the number of Generate invocations so far.
func (g *Gateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Transient returns a transient gateway error for scripting retries.
func Transient(msg string) error {
	return &llm.GatewayError{Kind: llm.Transient, Provider: "scripted", Err: errors.New(msg)}
}

// Fatal returns a fatal gateway error.
func Fatal(msg string) error {
	return &llm.GatewayError{Kind: llm.Fatal, Provider: "scripted", Err: errors.New(msg)}
}

var _ llm.Gateway = (*Gateway)(nil)
