// Package backup takes consistent snapshots of the SQLite store, verifies
// them and prunes old snapshots with a tiered retention policy.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between scheduled snapshots (default: 1h).
	Interval time.Duration

	Retention RetentionPolicy

	// SkipVerify disables the integrity check after each snapshot.
	SkipVerify bool

	Logger *log.Logger
	Now    func() time.Time
}

// RetentionPolicy is how many snapshots to keep per age tier. Zero values
// take the defaults of 24 hourly, 7 daily, 4 weekly and 12 monthly.
type RetentionPolicy struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.Hourly <= 0 {
		p.Hourly = 24
	}
	if p.Daily <= 0 {
		p.Daily = 7
	}
	if p.Weekly <= 0 {
		p.Weekly = 4
	}
	if p.Monthly <= 0 {
		p.Monthly = 12
	}
	return p
}

// Info describes a snapshot on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result is the outcome of one snapshot.
type Result struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
	Verified bool          `json:"verified"`
}

// Status summarizes the service for health output.
type Status struct {
	Status     string    `json:"status"` // healthy or warning
	Message    string    `json:"message"`
	LastBackup time.Time `json:"last_backup,omitempty"`
	Backups    int       `json:"backups"`
	BytesUsed  int64     `json:"bytes_used"`
}

// ErrRunning is returned by Restore while the scheduler is active.
var ErrRunning = errors.New("backup: scheduler is running")

// Service creates, lists and restores snapshots.
type Service struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	running bool
	last    time.Time
}

// New validates cfg and creates the snapshot directory.
func New(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Retention = cfg.Retention.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create %s: %w", cfg.Dir, err)
	}
	return &Service{cfg: cfg, logger: cfg.Logger}, nil
}

// Run takes a snapshot every Interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("backup scheduler started", "interval", s.cfg.Interval, "dir", s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			res, err := s.BackupNow(ctx)
			if err != nil {
				s.logger.Error("scheduled backup failed", "err", err)
				continue
			}
			s.logger.Info("scheduled backup completed", "path", res.Path, "bytes", res.Size, "duration", res.Duration)
		}
	}
}

// BackupNow writes a timestamped snapshot, verifies it unless disabled and
// applies the retention policy. Retention failures are logged, not returned.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.cfg.Now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	name := fmt.Sprintf("rapport-%s.db", start.UTC().Format("20060102-150405.000000"))
	dest := filepath.Join(s.cfg.Dir, name)
	if err := snapshot(ctx, s.cfg.DBPath, dest); err != nil {
		return nil, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}
	res := &Result{Path: dest, Size: info.Size()}

	if !s.cfg.SkipVerify {
		if err := verify(ctx, dest); err != nil {
			return nil, fmt.Errorf("backup: verification failed: %w", err)
		}
		res.Verified = true
	}
	res.Duration = s.cfg.Now().Sub(start)

	s.mu.Lock()
	s.last = s.cfg.Now()
	s.mu.Unlock()

	if err := applyRetention(s.cfg.Dir, s.cfg.Retention, s.cfg.Now()); err != nil {
		s.logger.Warn("failed to apply backup retention", "err", err)
	}
	return res, nil
}

// List returns snapshots newest first.
func (s *Service) List() ([]Info, error) {
	return list(s.cfg.Dir)
}

// Restore replaces the database with the snapshot at path. The store must
// be closed. A failed restore rolls back to the previous database.
func (s *Service) Restore(ctx context.Context, path string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return ErrRunning
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup: snapshot not found: %w", err)
	}

	rollback := s.cfg.DBPath + ".pre-restore"
	haveRollback := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		_ = os.Remove(rollback)
		if err := snapshot(ctx, s.cfg.DBPath, rollback); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
		haveRollback = true
		defer os.Remove(rollback)
	}

	if err := restore(ctx, path, s.cfg.DBPath); err != nil {
		if !haveRollback {
			return err
		}
		if rbErr := restore(ctx, rollback, s.cfg.DBPath); rbErr != nil {
			return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
		}
		return fmt.Errorf("backup: restore failed, rolled back: %w", err)
	}

	s.logger.Info("database restored", "from", path)
	return nil
}

// Status reports snapshot counts and whether the schedule is overdue.
func (s *Service) Status() (*Status, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	backups, err := s.List()
	if err != nil {
		return nil, err
	}
	st := &Status{Status: "healthy", LastBackup: last, Backups: len(backups)}
	for _, b := range backups {
		st.BytesUsed += b.Size
	}

	switch age := s.cfg.Now().Sub(last); {
	case last.IsZero():
		st.Message = "no backups taken by this process"
	case age > 2*s.cfg.Interval:
		st.Status = "warning"
		st.Message = fmt.Sprintf("backup overdue by %v", (age - s.cfg.Interval).Round(time.Second))
	default:
		st.Message = fmt.Sprintf("last backup %v ago", age.Round(time.Second))
	}
	return st, nil
}
