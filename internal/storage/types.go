package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/rapport/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// Analytics event types.
const (
	EventMemoryExtraction       = "memory_extraction"
	EventResponseGeneration     = "response_generation"
	EventPersonalityComparison  = "personality_comparison"
	EventResponseTransformation = "response_transformation"
)

// ConversationRecord is one generated reply.
type ConversationRecord struct {
	ID               string              `json:"id"`
	UserID           string              `json:"user_id"`
	Message          string              `json:"message"`
	Response         string              `json:"response"`
	Personality      types.PersonalityID `json:"personality"`
	MemoryReferences []string            `json:"memory_references"`
	CreatedAt        time.Time           `json:"created_at"`
}

// PersonalityResponseRecord is one successful entry of a comparison.
type PersonalityResponseRecord struct {
	ID           string              `json:"id"`
	ComparisonID string              `json:"comparison_id"`
	UserID       string              `json:"user_id"`
	UserMessage  string              `json:"user_message"`
	BaseResponse string              `json:"base_response"`
	Personality  types.PersonalityID `json:"personality"`
	Response     string              `json:"response"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Event is an analytics record with a free-form JSON payload.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// UserStats summarizes a user's stored activity.
type UserStats struct {
	MemoryExtractions           int     `json:"memory_extractions"`
	AverageConfidence           float64 `json:"avg_confidence"`
	MessagesAnalyzed            int     `json:"total_messages_analyzed"`
	Conversations               int     `json:"total_conversations"`
	PersonalitiesTried          int     `json:"personalities_tried"`
	Comparisons                 int     `json:"personality_comparisons"`
	UniquePersonalitiesCompared int     `json:"unique_personalities_tested"`
}

// PurgeResult counts the rows removed by PurgeBefore.
type PurgeResult struct {
	Conversations        int64 `json:"conversations"`
	PersonalityResponses int64 `json:"personality_responses"`
	Events               int64 `json:"events"`
}

// Total is the number of rows removed across all logs.
func (r PurgeResult) Total() int64 {
	return r.Conversations + r.PersonalityResponses + r.Events
}

// NormalizeLimit maps non-positive limits to DefaultHistoryLimit and caps
// the rest at MaxHistoryLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// CheckUserID validates a user id argument.
func CheckUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}
	return nil
}

// PrepareConversation validates rec and fills its id and timestamp.
func PrepareConversation(rec *ConversationRecord, now time.Time) error {
	if rec == nil {
		return ErrInvalidInput
	}
	if err := CheckUserID(rec.UserID); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	if rec.MemoryReferences == nil {
		rec.MemoryReferences = []string{}
	}
	return nil
}

// PreparePersonalityResponse validates rec and fills its id and timestamp.
func PreparePersonalityResponse(rec *PersonalityResponseRecord, now time.Time) error {
	if rec == nil {
		return ErrInvalidInput
	}
	if err := CheckUserID(rec.UserID); err != nil {
		return err
	}
	if rec.Personality == "" {
		return fmt.Errorf("%w: personality is required", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	return nil
}

// PrepareEvent validates event and fills its id, timestamp and payload.
// Events may be anonymous, so an empty user id is allowed.
func PrepareEvent(event *Event, now time.Time) error {
	if event == nil {
		return ErrInvalidInput
	}
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now.UTC()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	return nil
}
