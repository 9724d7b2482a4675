package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr() error {
	return &GatewayError{Kind: Transient, Provider: "test", Err: errors.New("503")}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")

	out, err := cb.call(context.Background(), "test", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "closed", cb.State())
	assert.EqualValues(t, 1, cb.Metrics().TotalSuccesses)
}

func TestCircuitBreaker_OpensAfterTransientFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "test", MaxFailures: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.call(ctx, "test", func() (string, error) { return "", transientErr() })
		require.Error(t, err)
	}
	assert.Equal(t, "open", cb.State())

	called := false
	_, err := cb.call(ctx, "test", func() (string, error) { called = true; return "ok", nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, IsTransient(err))
	assert.EqualValues(t, 1, cb.Metrics().Rejected)
}

func TestCircuitBreaker_FatalErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "test", MaxFailures: 2})
	fatal := &GatewayError{Kind: Fatal, Provider: "test", StatusCode: 400, Err: errors.New("bad request")}

	for i := 0; i < 5; i++ {
		_, err := cb.call(context.Background(), "test", func() (string, error) { return "", fatal })
		require.ErrorIs(t, err, fatal)
	}
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:                 "test",
		MaxFailures:          1,
		Timeout:              50 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})
	ctx := context.Background()

	_, _ = cb.call(ctx, "test", func() (string, error) { return "", transientErr() })
	require.Equal(t, "open", cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "half-open", cb.State())

	_, err := cb.call(ctx, "test", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.call(ctx, "test", func() (string, error) { t.Fatal("must not run"); return "", nil })
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, Fatal, gwErr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
}
