// Package storage defines the persistence interfaces for user memories and
// the interaction logs kept alongside them.
//
// The interfaces are small and focused so that backends can be composed:
// the sqlite and postgres packages implement all of them, memstore implements
// them in process for tests and the "memory" driver.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/rapport/pkg/types"
)

// MemoryStore persists one UserMemory per user id.
type MemoryStore interface {
	// GetMemory returns the stored memory for userID.
	// Returns ErrNotFound if the user has no memory yet.
	GetMemory(ctx context.Context, userID string) (*types.UserMemory, error)

	// PutMemory replaces the stored memory for userID.
	PutMemory(ctx context.Context, userID string, memory *types.UserMemory) error
}

// ConversationStore keeps the log of generated replies and comparison entries.
type ConversationStore interface {
	// SaveConversation appends a generated reply to the user's history.
	SaveConversation(ctx context.Context, rec *ConversationRecord) error

	// History returns the user's most recent conversations, newest first.
	// limit is normalized with NormalizeLimit.
	History(ctx context.Context, userID string, limit int) ([]ConversationRecord, error)

	// SavePersonalityResponse appends one successful comparison entry.
	SavePersonalityResponse(ctx context.Context, rec *PersonalityResponseRecord) error
}

// EventRecorder stores analytics events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *Event) error
}

// StatsProvider aggregates per-user activity.
type StatsProvider interface {
	// UserStats never returns ErrNotFound; unknown users have zero stats.
	UserStats(ctx context.Context, userID string) (*UserStats, error)
}

// Pruner deletes old interaction logs.
type Pruner interface {
	// PurgeBefore deletes conversations, comparison entries and events
	// created before cutoff. Memories are never purged.
	PurgeBefore(ctx context.Context, cutoff time.Time) (*PurgeResult, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	MemoryStore
	ConversationStore
	EventRecorder
	StatsProvider
	Pruner

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
