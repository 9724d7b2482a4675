// Package sqlite provides a SQLite implementation of the storage interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens dsn, configures WAL mode and applies Schema. When the open
// fails because a crashed process left stale -wal/-shm files, and no other
// process holds them, the files are removed and the open is retried once.
func NewStore(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	path := PathFromDSN(dsn)
	if path == "" || !isWALStale(path) {
		return nil, err
	}
	removeStaleWAL(path)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Warn("sqlite: recovered from stale WAL files", "path", path)
	return store, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection serialises writes and
	// keeps an in-memory database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// GetMemory implements storage.MemoryStore.
func (s *Store) GetMemory(ctx context.Context, userID string) (*types.UserMemory, error) {
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT memory_data FROM user_memories WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return storage.DecodeMemory([]byte(data))
}

// PutMemory implements storage.MemoryStore.
func (s *Store) PutMemory(ctx context.Context, userID string, memory *types.UserMemory) error {
	row, err := storage.EncodeMemory(userID, memory)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_memories (user_id, memory_data, message_count, confidence_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			memory_data = excluded.memory_data,
			message_count = excluded.message_count,
			confidence_score = excluded.confidence_score,
			updated_at = excluded.updated_at`,
		userID, string(row.Data), row.MessageCount, row.Confidence, now, now)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// SaveConversation implements storage.ConversationStore.
func (s *Store) SaveConversation(ctx context.Context, rec *storage.ConversationRecord) error {
	if err := storage.PrepareConversation(rec, s.now()); err != nil {
		return err
	}
	refs, err := json.Marshal(rec.MemoryReferences)
	if err != nil {
		return fmt.Errorf("failed to encode memory references: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, message, response, personality, memory_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Message, rec.Response, string(rec.Personality), string(refs), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// History implements storage.ConversationStore.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error) {
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, response, personality, memory_refs, created_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?`, userID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := []storage.ConversationRecord{}
	for rows.Next() {
		var rec storage.ConversationRecord
		var personality, refs string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Message, &rec.Response, &personality, &refs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		rec.Personality = types.PersonalityID(personality)
		if err := json.Unmarshal([]byte(refs), &rec.MemoryReferences); err != nil {
			return nil, fmt.Errorf("failed to decode memory references: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SavePersonalityResponse implements storage.ConversationStore.
func (s *Store) SavePersonalityResponse(ctx context.Context, rec *storage.PersonalityResponseRecord) error {
	if err := storage.PreparePersonalityResponse(rec, s.now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personality_responses (id, comparison_id, user_id, user_message, base_response, personality, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ComparisonID, rec.UserID, rec.UserMessage, rec.BaseResponse, string(rec.Personality), rec.Response, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save personality response: %w", err)
	}
	return nil
}

// RecordEvent implements storage.EventRecorder.
func (s *Store) RecordEvent(ctx context.Context, event *storage.Event) error {
	if err := storage.PrepareEvent(event, s.now()); err != nil {
		return err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Type, string(payload), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// UserStats implements storage.StatsProvider.
func (s *Store) UserStats(ctx context.Context, userID string) (*storage.UserStats, error) {
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}

	var st storage.UserStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE user_id = ? AND event_type = ?`,
		userID, storage.EventMemoryExtraction).Scan(&st.MemoryExtractions)
	if err != nil {
		return nil, fmt.Errorf("failed to count extractions: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT confidence_score, message_count FROM user_memories WHERE user_id = ?`,
		userID).Scan(&st.AverageConfidence, &st.MessagesAnalyzed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	st.AverageConfidence = storage.RoundConfidence(st.AverageConfidence)

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT personality) FROM conversations WHERE user_id = ?`,
		userID).Scan(&st.Conversations, &st.PersonalitiesTried)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT comparison_id), COUNT(DISTINCT personality) FROM personality_responses WHERE user_id = ?`,
		userID).Scan(&st.Comparisons, &st.UniquePersonalitiesCompared)
	if err != nil {
		return nil, fmt.Errorf("failed to read comparison stats: %w", err)
	}
	return &st, nil
}

// PurgeBefore implements storage.Pruner. The three deletes share one
// transaction.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (*storage.PurgeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res storage.PurgeResult
	for _, step := range []struct {
		table string
		count *int64
	}{
		{"conversations", &res.Conversations},
		{"personality_responses", &res.PersonalityResponses},
		{"events", &res.Events},
	} {
		r, err := tx.ExecContext(ctx, `DELETE FROM `+step.table+` WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to purge %s: %w", step.table, err)
		}
		if *step.count, err = r.RowsAffected(); err != nil {
			return nil, fmt.Errorf("failed to count purged %s: %w", step.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit purge: %w", err)
	}
	return &res, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Warn("sqlite: WAL checkpoint on close failed", "err", err)
	}
	return s.db.Close()
}

// PathFromDSN returns the file path of a DSN, or "" for in-memory databases.
func PathFromDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return ""
	}
	if !strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

func isRecoverableWALError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale reports whether WAL side files exist and no process holds the
// database open. Without lsof it answers false.
func isWALStale(path string) bool {
	shm, wal := path+"-shm", path+"-wal"
	if !fileExists(shm) && !fileExists(wal) {
		return false
	}
	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	out, err := exec.Command(lsof, "-t", path, shm, wal).Output()
	if err != nil {
		// lsof exits 1 when nothing has the files open.
		return true
	}
	return strings.TrimSpace(string(out)) == ""
}

func removeStaleWAL(path string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			log.Warn("sqlite: failed to remove stale WAL file", "path", path+suffix, "err", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
