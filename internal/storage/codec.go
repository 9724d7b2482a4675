package storage

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/scrypster/rapport/internal/memory"
	"github.com/scrypster/rapport/pkg/types"
)

// MemoryRow is the column form of a stored UserMemory.
type MemoryRow struct {
	Data         []byte
	MessageCount int
	Confidence   float64
}

// EncodeMemory normalizes a copy of m and serializes it for storage under
// userID. Out-of-range values are clamped and unknown enum values coerced;
// m itself is not modified. The stored copy always carries userID.
func EncodeMemory(userID string, m *types.UserMemory) (*MemoryRow, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: memory is required", ErrInvalidInput)
	}
	if err := CheckUserID(userID); err != nil {
		return nil, err
	}

	c := m.Clone()
	c.UserID = userID
	memory.Normalize(c)
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory: %w", err)
	}
	return &MemoryRow{
		Data:         data,
		MessageCount: c.MessageCountAnalyzed,
		Confidence:   memory.ComputeStats(c).OverallConfidence,
	}, nil
}

// DecodeMemory parses a stored memory, restores empty containers and
// normalizes the values the same way EncodeMemory does, so rows written by
// older builds or edited by hand still hold the UserMemory invariants.
func DecodeMemory(data []byte) (*types.UserMemory, error) {
	var m types.UserMemory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode memory: %w", err)
	}
	memory.Normalize(&m)
	return &m, nil
}

// RoundConfidence rounds to two decimals for reporting.
func RoundConfidence(v float64) float64 {
	return math.Round(v*100) / 100
}
