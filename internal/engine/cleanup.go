package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// PurgeOlderThan deletes conversations, comparison entries and events older
// than maxAge. Memories are kept.
func (s *Service) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (*storage.PurgeResult, error) {
	if maxAge <= 0 {
		return nil, &types.InvalidInputError{Reason: "max age must be positive"}
	}
	cutoff := s.cfg.Now().UTC().Add(-maxAge)
	res, err := s.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge old activity: %w", err)
	}
	s.logger.Info("purged old activity",
		"before", cutoff.Format(time.RFC3339),
		"conversations", res.Conversations,
		"personality_responses", res.PersonalityResponses,
		"events", res.Events)
	return res, nil
}

// RunCleanup calls PurgeOlderThan every interval until ctx is done. Purge
// failures are logged and retried on the next tick.
func (s *Service) RunCleanup(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return &types.InvalidInputError{Reason: "cleanup interval must be positive"}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("cleanup scheduler started", "interval", interval, "max_age", maxAge)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.PurgeOlderThan(ctx, maxAge); err != nil {
				s.logger.Error("scheduled cleanup failed", "err", err)
			}
		}
	}
}
