package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// snapshot copies src to dest with VACUUM INTO, which is consistent under WAL.
func snapshot(ctx context.Context, src, dest string) error {
	db, err := sql.Open("sqlite", "file:"+src+"?mode=ro")
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: failed to ping source database: %w", err)
	}
	quoted := strings.ReplaceAll(dest, "'", "''")
	if _, err := db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return fmt.Errorf("backup: failed to snapshot database: %w", err)
	}
	return nil
}

// verify runs PRAGMA integrity_check against path.
func verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// restore verifies src, copies it over dest and verifies the result.
func restore(ctx context.Context, src, dest string) error {
	if err := verify(ctx, src); err != nil {
		return fmt.Errorf("backup: snapshot verification failed: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("backup: failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("backup: failed to sync %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Stale WAL files from the replaced database would be replayed on open.
	_ = os.Remove(dest + "-wal")
	_ = os.Remove(dest + "-shm")

	if err := verify(ctx, dest); err != nil {
		return fmt.Errorf("backup: restored database verification failed: %w", err)
	}
	return nil
}
