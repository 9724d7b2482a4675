// Package memstore implements storage.Store in process memory. Data does not
// survive a restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

var _ storage.Store = (*Store)(nil)

type memoryEntry struct {
	row    *storage.MemoryRow
	memory *types.UserMemory
}

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu            sync.RWMutex
	memories      map[string]memoryEntry
	conversations []storage.ConversationRecord
	responses     []storage.PersonalityResponseRecord
	events        []storage.Event
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{memories: make(map[string]memoryEntry), now: time.Now}
}

// GetMemory implements storage.MemoryStore.
func (s *Store) GetMemory(ctx context.Context, userID string) (*types.UserMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.memories[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.memory.Clone(), nil
}

// PutMemory implements storage.MemoryStore.
func (s *Store) PutMemory(ctx context.Context, userID string, memory *types.UserMemory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := storage.EncodeMemory(userID, memory)
	if err != nil {
		return err
	}
	// Decoding the encoded row gives the same value a database backend returns.
	stored, err := storage.DecodeMemory(row.Data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[userID] = memoryEntry{row: row, memory: stored}
	return nil
}

// SaveConversation implements storage.ConversationStore.
func (s *Store) SaveConversation(ctx context.Context, rec *storage.ConversationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.PrepareConversation(rec, s.now()); err != nil {
		return err
	}
	c := *rec
	c.MemoryReferences = append([]string{}, rec.MemoryReferences...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, c)
	return nil
}

// History implements storage.ConversationStore.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}
	limit = storage.NormalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []storage.ConversationRecord{}
	for i := len(s.conversations) - 1; i >= 0 && len(out) < limit; i-- {
		if c := s.conversations[i]; c.UserID == userID {
			c.MemoryReferences = append([]string{}, c.MemoryReferences...)
			out = append(out, c)
		}
	}
	return out, nil
}

// SavePersonalityResponse implements storage.ConversationStore.
func (s *Store) SavePersonalityResponse(ctx context.Context, rec *storage.PersonalityResponseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.PreparePersonalityResponse(rec, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, *rec)
	return nil
}

// RecordEvent implements storage.EventRecorder.
func (s *Store) RecordEvent(ctx context.Context, event *storage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.PrepareEvent(event, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// Events returns the recorded events of the given type, oldest first.
// An empty eventType matches every event.
func (s *Store) Events(eventType string) []storage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.events, func(e storage.Event, _ int) bool {
		return eventType == "" || e.Type == eventType
	})
}

// UserStats implements storage.StatsProvider.
func (s *Store) UserStats(ctx context.Context, userID string) (*storage.UserStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckUserID(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var st storage.UserStats
	st.MemoryExtractions = lo.CountBy(s.events, func(e storage.Event) bool {
		return e.UserID == userID && e.Type == storage.EventMemoryExtraction
	})
	if e, ok := s.memories[userID]; ok {
		st.AverageConfidence = storage.RoundConfidence(e.row.Confidence)
		st.MessagesAnalyzed = e.row.MessageCount
	}

	convs := lo.Filter(s.conversations, func(c storage.ConversationRecord, _ int) bool { return c.UserID == userID })
	st.Conversations = len(convs)
	st.PersonalitiesTried = len(lo.Uniq(lo.Map(convs, func(c storage.ConversationRecord, _ int) types.PersonalityID {
		return c.Personality
	})))

	resps := lo.Filter(s.responses, func(r storage.PersonalityResponseRecord, _ int) bool { return r.UserID == userID })
	st.Comparisons = len(lo.Uniq(lo.Map(resps, func(r storage.PersonalityResponseRecord, _ int) string {
		return r.ComparisonID
	})))
	st.UniquePersonalitiesCompared = len(lo.Uniq(lo.Map(resps, func(r storage.PersonalityResponseRecord, _ int) types.PersonalityID {
		return r.Personality
	})))
	return &st, nil
}

// PurgeBefore implements storage.Pruner.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (*storage.PurgeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res storage.PurgeResult
	before := len(s.conversations)
	s.conversations = lo.Reject(s.conversations, func(c storage.ConversationRecord, _ int) bool { return c.CreatedAt.Before(cutoff) })
	res.Conversations = int64(before - len(s.conversations))

	before = len(s.responses)
	s.responses = lo.Reject(s.responses, func(r storage.PersonalityResponseRecord, _ int) bool { return r.CreatedAt.Before(cutoff) })
	res.PersonalityResponses = int64(before - len(s.responses))

	before = len(s.events)
	s.events = lo.Reject(s.events, func(e storage.Event, _ int) bool { return e.CreatedAt.Before(cutoff) })
	res.Events = int64(before - len(s.events))
	return &res, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}
