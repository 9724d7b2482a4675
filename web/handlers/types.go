package handlers

import (
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInputTooLarge      = "INPUT_TOO_LARGE"
	CodeUnknownPersonality = "UNKNOWN_PERSONALITY"
	CodeNotFound           = "NOT_FOUND"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeCancelled          = "CANCELLED"
	CodeInternal           = "INTERNAL"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimited        = "RATE_LIMITED"
)

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	UserID   string          `json:"user_id,omitempty"`
	Messages []types.Message `json:"messages"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	UserID      string              `json:"user_id,omitempty"`
	Message     string              `json:"message"`
	Personality types.PersonalityID `json:"personality"`
	History     []types.Message     `json:"conversation_history,omitempty"`
	Context     string              `json:"context,omitempty"`
}

// GenerateResponse is the response of POST /api/generate.
type GenerateResponse struct {
	UserID           string              `json:"user_id"`
	ConversationID   string              `json:"conversation_id,omitempty"`
	Response         string              `json:"response"`
	Personality      types.PersonalityID `json:"personality"`
	MemoryReferences []string            `json:"memory_references"`
	Model            string              `json:"model,omitempty"`
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	UserID        string                `json:"user_id,omitempty"`
	Message       string                `json:"message"`
	Personalities []types.PersonalityID `json:"personalities,omitempty"`
	Base          types.PersonalityID   `json:"base,omitempty"`
}

// CompareResponse is the response of POST /api/compare.
type CompareResponse struct {
	UserID       string `json:"user_id"`
	ComparisonID string `json:"comparison_id"`
	*types.PersonalityComparison
}

// TransformRequest is the body of POST /api/transform.
type TransformRequest struct {
	UserID      string              `json:"user_id,omitempty"`
	Original    string              `json:"original_response"`
	Message     string              `json:"message,omitempty"`
	Personality types.PersonalityID `json:"personality"`
	History     []types.Message     `json:"conversation_history,omitempty"`
}

// TransformResponse is the response of POST /api/transform.
type TransformResponse struct {
	UserID string `json:"user_id"`
	*personality.Transformation
}

// HistoryResponse is the response of GET /api/users/{id}/history.
type HistoryResponse struct {
	UserID        string                       `json:"user_id"`
	Limit         int                          `json:"limit"`
	Conversations []storage.ConversationRecord `json:"conversations"`
}

// PersonalityInfo is the public view of a profile.
type PersonalityInfo struct {
	ID          types.PersonalityID       `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Tone        types.ToneCharacteristics `json:"tone"`
	UseWhen     string                    `json:"use_when,omitempty"`
}

// PersonalitiesResponse is the response of GET /api/personalities.
type PersonalitiesResponse struct {
	Personalities []PersonalityInfo `json:"personalities"`
}
