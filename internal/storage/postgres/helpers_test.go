package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It is exported for the
// postgres_test package and must not be used outside tests.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE user_memories, conversations, personality_responses, events RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
