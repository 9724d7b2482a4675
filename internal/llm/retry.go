package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// RetryConfig controls RetryingGateway.
type RetryConfig struct {
	MaxRetries        uint64        // default: 3
	InitialInterval   time.Duration // default: 1s
	MaxInterval       time.Duration // default: 10s
	RequestsPerMinute int           // default: 30; negative disables the limiter
	Burst             int           // default: 5
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 30
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	return c
}

// RetryingGateway adds client-side rate limiting and bounded exponential
// backoff on transient errors to another Gateway. Fatal errors are returned
// after the first attempt.
type RetryingGateway struct {
	inner   Gateway
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewRetryingGateway wraps inner.
func NewRetryingGateway(inner Gateway, cfg RetryConfig, logger *log.Logger) *RetryingGateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	g := &RetryingGateway{inner: inner, cfg: cfg, logger: logger}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.Burst)
	}
	return g
}

// Generate calls the wrapped gateway, retrying transient failures.
func (g *RetryingGateway) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", backoff.Permanent(&GatewayError{Kind: Fatal, Provider: g.provider(), Err: err})
			}
		}
		text, err := g.inner.Generate(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		if !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxInterval = g.cfg.MaxInterval
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("transient gateway failure, retrying", "attempt", attempt, "wait", wait, "err", err)
	}

	text, err := backoff.RetryNotifyWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, g.cfg.MaxRetries), ctx), notify)
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			err = &GatewayError{Kind: Fatal, Provider: g.provider(), Err: err}
		}
		return "", err
	}
	return text, nil
}

// GetModel returns the wrapped gateway's model.
func (g *RetryingGateway) GetModel() string {
	return g.inner.GetModel()
}

// BreakerState forwards the wrapped gateway's breaker state, or "none".
func (g *RetryingGateway) BreakerState() string {
	if br, ok := g.inner.(BreakerReporter); ok {
		return br.BreakerState()
	}
	return "none"
}

func (g *RetryingGateway) provider() string {
	if p, ok := g.inner.(interface{ Provider() string }); ok {
		return p.Provider()
	}
	return "llm"
}

var _ Gateway = (*RetryingGateway)(nil)
