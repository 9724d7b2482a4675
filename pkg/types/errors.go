package types

import (
	"errors"
	"fmt"
)

// MaxMessages is the largest transcript accepted for extraction.
const MaxMessages = 30

// InputTooLargeError is returned when a transcript exceeds the message cap.
type InputTooLargeError struct {
	Count int
	Limit int
}

func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("too many messages: got %d, limit is %d", e.Count, e.Limit)
}

// InvalidInputError is returned for empty transcripts or blank messages.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// ValidationError is returned when parsed LLM output cannot be projected
// into a UserMemory at all.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ExtractionFailedError is returned when every extraction attempt failed.
// LastRaw holds the last raw gateway response for diagnostics.
type ExtractionFailedError struct {
	Attempts int
	LastRaw  string
	Cause    error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("memory extraction failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Cause }

// maxRawDetail bounds the raw gateway text exposed in error details.
const maxRawDetail = 500

// ErrorDetails returns client-facing diagnostics for err, or nil when err
// carries none. An ExtractionFailedError reports its attempt count and the
// last raw response, clipped to maxRawDetail runes.
func ErrorDetails(err error) map[string]any {
	var extraction *ExtractionFailedError
	if !errors.As(err, &extraction) {
		return nil
	}
	raw := []rune(extraction.LastRaw)
	if len(raw) > maxRawDetail {
		raw = append(raw[:maxRawDetail], '…')
	}
	return map[string]any{
		"attempts": extraction.Attempts,
		"last_raw": string(raw),
	}
}

// UnknownPersonalityError is returned for an unrecognized personality id.
type UnknownPersonalityError struct {
	ID PersonalityID
}

func (e *UnknownPersonalityError) Error() string {
	return fmt.Sprintf("unknown personality %q", string(e.ID))
}

// GenerationFailedError is returned when a response could not be generated.
type GenerationFailedError struct {
	Personality PersonalityID
	Cause       error
}

func (e *GenerationFailedError) Error() string {
	if e.Personality == "" {
		return fmt.Sprintf("response generation failed: %v", e.Cause)
	}
	return fmt.Sprintf("response generation failed for %s: %v", e.Personality, e.Cause)
}

func (e *GenerationFailedError) Unwrap() error { return e.Cause }
