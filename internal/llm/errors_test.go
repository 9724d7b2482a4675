package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{400, Fatal},
		{401, Fatal},
		{403, Fatal},
		{404, Fatal},
		{408, Transient},
		{422, Fatal},
		{429, Transient},
		{500, Transient},
		{502, Transient},
		{503, Transient},
		{504, Transient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForStatus(tt.code), "status %d", tt.code)
	}
}

func TestRequestError(t *testing.T) {
	live := context.Background()
	assert.Equal(t, Transient, requestError(live, "p", errors.New("connection refused")).Kind)
	assert.Equal(t, Transient, requestError(live, "p", context.DeadlineExceeded).Kind)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Fatal, requestError(cancelled, "p", context.Canceled).Kind)

	existing := &GatewayError{Kind: Fatal, Provider: "x", StatusCode: 401, Err: errors.New("no")}
	assert.Same(t, existing, requestError(live, "p", existing))
}

func TestGatewayError_Message(t *testing.T) {
	err := statusError("groq", 429, "slow down")
	assert.Equal(t, Transient, err.Kind)
	assert.Contains(t, err.Error(), "groq gateway error (transient, status 429)")
	assert.Contains(t, err.Error(), "slow down")
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestTruncate_RuneSafe(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "h...", truncate("héllo", 2))
}
