package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// list returns the .db files in dir, newest first.
func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read %s: %w", dir, err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// applyRetention buckets snapshots by age and keeps the newest N per tier.
// Snapshots older than a year are always removed.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) error {
	backups, err := list(dir)
	if err != nil {
		return err
	}

	var hourly, daily, weekly, monthly, expired []Info
	for _, b := range backups {
		switch age := now.Sub(b.Timestamp); {
		case age < 24*time.Hour:
			hourly = append(hourly, b)
		case age < 7*24*time.Hour:
			daily = append(daily, b)
		case age < 30*24*time.Hour:
			weekly = append(weekly, b)
		case age < 365*24*time.Hour:
			monthly = append(monthly, b)
		default:
			expired = append(expired, b)
		}
	}

	doomed := expired
	doomed = append(doomed, overflow(hourly, policy.Hourly)...)
	doomed = append(doomed, overflow(daily, policy.Daily)...)
	doomed = append(doomed, overflow(weekly, policy.Weekly)...)
	doomed = append(doomed, overflow(monthly, policy.Monthly)...)

	var errs []error
	for _, b := range doomed {
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("backup: failed to delete some snapshots: %w", errors.Join(errs...))
	}
	return nil
}

func overflow(tier []Info, keep int) []Info {
	if len(tier) <= keep {
		return nil
	}
	return tier[keep:]
}
