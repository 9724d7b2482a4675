// Package storagetest holds a behavioural test suite shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// SampleMemory returns a small populated memory for userID.
func SampleMemory(userID string) *types.UserMemory {
	m := types.NewUserMemory(userID, now)
	m.Preferences[types.CategoryLifestyle] = []types.Preference{
		{Value: "hiking", Confidence: 0.9, Examples: []string{"I love hiking"}, ObservedAt: now},
	}
	m.EmotionalPatterns = []types.EmotionalPattern{
		{Pattern: "stress", Frequency: 0.6, Intensity: types.IntensityMedium, Triggers: []string{"work"}},
	}
	m.Facts = []types.Fact{
		{FactType: types.FactPersonal, Value: "dog named Rex", Confidence: 0.95, TemporalRelevance: types.TemporalPermanent},
	}
	m.MessageCountAnalyzed = 3
	return m
}

// Run exercises store against the storage contracts. newStore must return
// an empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("memory round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetMemory(ctx, "u1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		in := SampleMemory("ignored")
		require.NoError(t, s.PutMemory(ctx, "u1", in))
		assert.Equal(t, "ignored", in.UserID, "put does not modify its argument")

		got, err := s.GetMemory(ctx, "u1")
		require.NoError(t, err)
		want := SampleMemory("u1")
		assert.Equal(t, want.Preferences, got.Preferences)
		assert.Equal(t, want.EmotionalPatterns, got.EmotionalPatterns)
		assert.Equal(t, want.Facts, got.Facts)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, 3, got.MessageCountAnalyzed)
		assert.True(t, want.LastUpdated.Equal(got.LastUpdated))
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutMemory(ctx, "u1", SampleMemory("u1")))
		next := SampleMemory("u1")
		next.Facts = append(next.Facts, types.Fact{FactType: types.FactEvent, Value: "moved to Lisbon", Confidence: 0.7})
		next.MessageCountAnalyzed = 6
		require.NoError(t, s.PutMemory(ctx, "u1", next))

		got, err := s.GetMemory(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, got.Facts, 2)
		assert.Equal(t, 6, got.MessageCountAnalyzed)

		_, err = s.GetMemory(ctx, "u2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.ErrorIs(t, s.PutMemory(ctx, "u1", nil), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.PutMemory(ctx, " ", SampleMemory("u1")), storage.ErrInvalidInput)
		_, err := s.GetMemory(ctx, "")
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
		assert.ErrorIs(t, s.SaveConversation(ctx, nil), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.RecordEvent(ctx, &storage.Event{UserID: "u1"}), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.SavePersonalityResponse(ctx, &storage.PersonalityResponseRecord{UserID: "u1"}), storage.ErrInvalidInput)
	})

	t.Run("history newest first with limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 12; i++ {
			require.NoError(t, s.SaveConversation(ctx, &storage.ConversationRecord{
				UserID:           "u1",
				Message:          fmt.Sprintf("message %d", i),
				Response:         fmt.Sprintf("reply %d", i),
				Personality:      types.PersonalityFriend,
				MemoryReferences: []string{"hiking"},
			}))
		}
		require.NoError(t, s.SaveConversation(ctx, &storage.ConversationRecord{UserID: "u2", Message: "other", Response: "x", Personality: types.PersonalityMentor}))

		recent, err := s.History(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, recent, storage.DefaultHistoryLimit)
		assert.Equal(t, "message 12", recent[0].Message)
		assert.Equal(t, "message 3", recent[9].Message)
		assert.Equal(t, []string{"hiking"}, recent[0].MemoryReferences)
		assert.Equal(t, types.PersonalityFriend, recent[0].Personality)
		assert.NotEmpty(t, recent[0].ID)
		assert.False(t, recent[0].CreatedAt.IsZero())

		two, err := s.History(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Len(t, two, 2)

		none, err := s.History(ctx, "nobody", 5)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("user stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		empty, err := s.UserStats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, storage.UserStats{}, *empty)

		require.NoError(t, s.PutMemory(ctx, "u1", SampleMemory("u1")))
		for i := 0; i < 2; i++ {
			require.NoError(t, s.RecordEvent(ctx, &storage.Event{
				UserID:  "u1",
				Type:    storage.EventMemoryExtraction,
				Payload: map[string]any{"messages": 3},
			}))
		}
		require.NoError(t, s.RecordEvent(ctx, &storage.Event{UserID: "u1", Type: storage.EventResponseGeneration}))

		for _, p := range []types.PersonalityID{types.PersonalityFriend, types.PersonalityMentor, types.PersonalityFriend} {
			require.NoError(t, s.SaveConversation(ctx, &storage.ConversationRecord{UserID: "u1", Message: "m", Response: "r", Personality: p}))
		}
		for _, cmp := range []struct {
			id  string
			ids []types.PersonalityID
		}{
			{"c1", []types.PersonalityID{types.PersonalityFriend, types.PersonalityTherapist}},
			{"c2", []types.PersonalityID{types.PersonalityFriend}},
		} {
			for _, p := range cmp.ids {
				require.NoError(t, s.SavePersonalityResponse(ctx, &storage.PersonalityResponseRecord{
					ComparisonID: cmp.id, UserID: "u1", UserMessage: "m", BaseResponse: "b", Personality: p, Response: "r",
				}))
			}
		}

		st, err := s.UserStats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, st.MemoryExtractions)
		assert.Equal(t, storage.RoundConfidence((0.9+0.95+0.6)/3), st.AverageConfidence)
		assert.Equal(t, 3, st.MessagesAnalyzed)
		assert.Equal(t, 3, st.Conversations)
		assert.Equal(t, 2, st.PersonalitiesTried)
		assert.Equal(t, 2, st.Comparisons)
		assert.Equal(t, 2, st.UniquePersonalitiesCompared)
	})

	t.Run("purge before cutoff", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := now.Add(-31 * 24 * time.Hour)
		recent := now.Add(-time.Hour)

		require.NoError(t, s.PutMemory(ctx, "u1", SampleMemory("u1")))
		for _, at := range []time.Time{old, recent} {
			require.NoError(t, s.SaveConversation(ctx, &storage.ConversationRecord{
				UserID: "u1", Message: "m", Response: at.Format(time.RFC3339), Personality: types.PersonalityFriend, CreatedAt: at,
			}))
			require.NoError(t, s.SavePersonalityResponse(ctx, &storage.PersonalityResponseRecord{
				ComparisonID: at.String(), UserID: "u1", UserMessage: "m", BaseResponse: "b", Personality: types.PersonalityMentor, Response: "r", CreatedAt: at,
			}))
			require.NoError(t, s.RecordEvent(ctx, &storage.Event{UserID: "u1", Type: storage.EventMemoryExtraction, CreatedAt: at}))
		}

		res, err := s.PurgeBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, storage.PurgeResult{Conversations: 1, PersonalityResponses: 1, Events: 1}, *res)
		assert.Equal(t, int64(3), res.Total())

		history, err := s.History(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, recent.Format(time.RFC3339), history[0].Response)

		st, err := s.UserStats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, st.MemoryExtractions)
		assert.Equal(t, 1, st.Comparisons)

		_, err = s.GetMemory(ctx, "u1")
		assert.NoError(t, err, "memories survive a purge")

		res, err = s.PurgeBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, res.Total())
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.PutMemory(ctx, "u1", SampleMemory("u1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	})
}
