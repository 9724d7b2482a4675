// Package engine orchestrates the rapport use cases: memory analysis,
// personality replies and comparisons. It serializes analysis per user,
// persists results and records activity in the background.
package engine

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/memory"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// Config holds configuration for the Service.
type Config struct {
	// NumWorkers is the number of activity log workers (default: 2).
	NumWorkers int

	// QueueSize is the activity job buffer (default: 256). When it is full
	// jobs run on the caller's goroutine.
	QueueSize int

	// ShutdownTimeout bounds the drain of pending activity jobs (default: 10s).
	ShutdownTimeout time.Duration

	// HistoryTurns is how many stored conversations feed a reply when the
	// request carries no history (default: 3).
	HistoryTurns int

	// Breaker reports the LLM circuit state for health checks. Optional.
	Breaker llm.BreakerReporter

	Logger *log.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 3
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// AnalyzeResult is the outcome of Analyze.
type AnalyzeResult struct {
	UserID   string            `json:"user_id"`
	Memory   *types.UserMemory `json:"memory"`
	Stats    memory.Stats      `json:"stats"`
	Warnings []memory.Warning  `json:"warnings"`
	Attempts int               `json:"attempts"`
	// Created is true when the user had no stored memory before this call.
	Created bool `json:"created"`
}

// GenerateRequest asks one personality to answer a message.
type GenerateRequest struct {
	UserID      string
	Message     string
	Personality types.PersonalityID
	History     []types.Message
	Context     string
}

// GenerateResult is the outcome of Generate.
type GenerateResult struct {
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id"`
	Reply          *personality.Reply `json:"reply"`
}

// CompareRequest asks several personalities to answer the same message.
type CompareRequest struct {
	UserID        string
	Message       string
	Personalities []types.PersonalityID
	// Base selects a registry profile for the base response; empty uses the
	// neutral profile.
	Base types.PersonalityID
}

// CompareResult is the outcome of Compare.
type CompareResult struct {
	UserID       string                       `json:"user_id"`
	ComparisonID string                       `json:"comparison_id"`
	Comparison   *types.PersonalityComparison `json:"comparison"`
}

// TransformRequest asks one personality to rewrite an existing reply.
type TransformRequest struct {
	UserID      string
	Original    string
	Message     string
	Personality types.PersonalityID
	History     []types.Message
}

// TransformResult is the outcome of Transform.
type TransformResult struct {
	UserID         string                      `json:"user_id"`
	Transformation *personality.Transformation `json:"transformation"`
}

// MemoryUpdate is published after a memory is stored.
type MemoryUpdate struct {
	UserID    string       `json:"user_id"`
	Stats     memory.Stats `json:"stats"`
	Attempts  int          `json:"attempts"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Health is the result of a health check.
type Health struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Breaker string `json:"llm_circuit"`
}

// Dependencies are the collaborators a Service orchestrates.
type Dependencies struct {
	Store         storage.Store
	Extractor     *memory.Extractor
	Personalities *personality.Engine
}
