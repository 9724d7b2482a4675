package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/storage/sqlite"
	"github.com/scrypster/rapport/internal/storage/storagetest"
)

// seedDB writes one user's memory to a fresh database file and closes it.
func seedDB(t *testing.T, path, userID string) {
	t.Helper()
	store, err := sqlite.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PutMemory(context.Background(), userID, storagetest.SampleMemory(userID)))
	require.NoError(t, store.Close())
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rapport.db")
	seedDB(t, dbPath, "u1")

	svc, err := New(Config{
		DBPath: dbPath,
		Dir:    filepath.Join(dir, "backups"),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	return svc, dbPath
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	assert.ErrorContains(t, err, "database path is required")

	_, err = New(Config{DBPath: "x.db"})
	assert.ErrorContains(t, err, "backup directory is required")
}

func TestBackupNow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.BackupNow(ctx)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Positive(t, res.Size)
	assert.FileExists(t, res.Path)

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, res.Path, backups[0].Path)

	snap, err := sqlite.NewStore(res.Path)
	require.NoError(t, err)
	defer snap.Close()
	got, err := snap.GetMemory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	st, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, "healthy", st.Status)
	assert.Equal(t, 1, st.Backups)
}

func TestBackupNow_MissingDatabase(t *testing.T) {
	svc, err := New(Config{DBPath: filepath.Join(t.TempDir(), "nope.db"), Dir: t.TempDir(), Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = svc.BackupNow(context.Background())
	assert.ErrorContains(t, err, "database not found")
}

func TestRestore(t *testing.T) {
	svc, dbPath := newTestService(t)
	ctx := context.Background()

	res, err := svc.BackupNow(ctx)
	require.NoError(t, err)

	// Replace the live database with one that only knows u2.
	require.NoError(t, os.Remove(dbPath))
	seedDB(t, dbPath, "u2")

	require.NoError(t, svc.Restore(ctx, res.Path))

	store, err := sqlite.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetMemory(ctx, "u1")
	assert.NoError(t, err)
	_, err = store.GetMemory(ctx, "u2")
	assert.Error(t, err)
	assert.NoFileExists(t, dbPath+".pre-restore")
}

func TestRestore_RejectsCorruptSnapshot(t *testing.T) {
	svc, dbPath := newTestService(t)
	ctx := context.Background()

	bad := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(bad, []byte("not a database"), 0o600))

	assert.Error(t, svc.Restore(ctx, bad))

	store, err := sqlite.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetMemory(ctx, "u1")
	assert.NoError(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		backups, err := svc.List()
		return err == nil && len(backups) > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, svc.Restore(context.Background(), "whatever.db"), ErrRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplyRetention(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ages := map[string]time.Duration{
		"h1.db":      1 * time.Hour,
		"h2.db":      2 * time.Hour,
		"h3.db":      3 * time.Hour,
		"d1.db":      2 * 24 * time.Hour,
		"w1.db":      10 * 24 * time.Hour,
		"m1.db":      60 * 24 * time.Hour,
		"ancient.db": 400 * 24 * time.Hour,
		"notes.txt":  400 * 24 * time.Hour,
	}
	for name, age := range ages {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	}

	require.NoError(t, applyRetention(dir, RetentionPolicy{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 1}, now))

	backups, err := list(dir)
	require.NoError(t, err)
	var names []string
	for _, b := range backups {
		names = append(names, filepath.Base(b.Path))
	}
	assert.Equal(t, []string{"h1.db", "h2.db", "d1.db", "w1.db", "m1.db"}, names)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestList_MissingDir(t *testing.T) {
	_, err := list(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
