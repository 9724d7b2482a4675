package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ErrorKind classifies a gateway failure.
type ErrorKind int

const (
	// Transient failures (timeouts, rate limits, 5xx) are worth retrying.
	Transient ErrorKind = iota + 1
	// Fatal failures (auth, malformed request, caller cancellation) are not.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// GatewayError is the error type returned by every Gateway implementation.
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a GatewayError worth retrying.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Kind == Transient
}

// KindForStatus maps an HTTP status code to an ErrorKind.
// 408, 429 and every 5xx are transient; everything else is fatal.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Transient
	case code >= 500:
		return Transient
	default:
		return Fatal
	}
}

func statusError(provider string, code int, body string) *GatewayError {
	return &GatewayError{
		Kind:       KindForStatus(code),
		Provider:   provider,
		StatusCode: code,
		Err:        fmt.Errorf("%s returned status %d: %s", provider, code, truncate(body, 512)),
	}
}

// requestError classifies a transport-level failure. Cancellation or expiry
// of the caller's ctx is fatal; anything else (per-call timeout, refused or
// reset connection) is transient.
func requestError(ctx context.Context, provider string, err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	kind := Transient
	if ctx.Err() != nil {
		kind = Fatal
	}
	return &GatewayError{Kind: kind, Provider: provider, Err: err}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
