package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/internal/storage/postgres"
	"github.com/scrypster/rapport/internal/storage/storagetest"
)

// postgresTestDSN returns the DSN for the test database.
// If RAPPORT_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("RAPPORT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAPPORT_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database and empties it.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.NewStore(postgresTestDSN(t))
	require.NoError(t, err, "NewStore should succeed")
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.TruncateForTest(context.Background()))
	return store
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
}
