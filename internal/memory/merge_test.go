package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/pkg/types"
)

func sampleMemory(now time.Time) *types.UserMemory {
	m := types.NewUserMemory("u1", now)
	m.Preferences[types.CategoryLifestyle] = []types.Preference{
		{Value: "hiking", Confidence: 0.8, Context: "weekends", Examples: []string{"I love hiking"}, ObservedAt: now},
	}
	m.EmotionalPatterns = []types.EmotionalPattern{
		{Pattern: "Stress", Frequency: 0.6, Intensity: types.IntensityMedium, Triggers: []string{"work"}},
	}
	m.Facts = []types.Fact{
		{FactType: types.FactPersonal, Value: "dog named Rex", Confidence: 0.9, TemporalRelevance: types.TemporalPermanent},
	}
	return m
}

func TestMerge_IdempotentUnderIdenticalReextraction(t *testing.T) {
	m := sampleMemory(testNow)
	m.MessageCountAnalyzed = 3

	once := Merge(m, m, 3, testNow)
	twice := Merge(once, m, 3, testNow)

	assert.Equal(t, once.Preferences, twice.Preferences)
	assert.Equal(t, once.Facts, twice.Facts)
	assert.Equal(t, once.EmotionalPatterns, twice.EmotionalPatterns)
	assert.Len(t, twice.Preferences[types.CategoryLifestyle], 1)
	assert.Len(t, twice.Facts, 1)
	assert.Len(t, twice.EmotionalPatterns, 1)

	assert.Equal(t, 6, once.MessageCountAnalyzed)
	assert.Equal(t, 9, twice.MessageCountAnalyzed)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := sampleMemory(testNow)
	before := existing.Clone()

	incoming := types.NewUserMemory("", testNow)
	incoming.Preferences[types.CategoryLifestyle] = []types.Preference{{Value: "hiking", Confidence: 0.95, Examples: []string{"every Saturday"}}}
	incomingBefore := incoming.Clone()

	later := testNow.Add(time.Hour)
	out := Merge(existing, incoming, 2, later)

	assert.Equal(t, before, existing)
	assert.Equal(t, incomingBefore, incoming)
	assert.Equal(t, 0.95, out.Preferences[types.CategoryLifestyle][0].Confidence)
	assert.Equal(t, []string{"I love hiking", "every Saturday"}, out.Preferences[types.CategoryLifestyle][0].Examples)
	assert.Equal(t, "weekends", out.Preferences[types.CategoryLifestyle][0].Context, "empty incoming context keeps the old one")
	assert.Equal(t, later, out.LastUpdated)
	assert.Equal(t, testNow, out.CreatedAt)
}

func TestMerge_MatchesOnTrimmedValueWithinCategory(t *testing.T) {
	existing := sampleMemory(testNow)
	incoming := types.NewUserMemory("", testNow)
	incoming.Preferences[types.CategoryLifestyle] = []types.Preference{{Value: " hiking ", Confidence: 0.5}}
	incoming.Preferences[types.CategoryContent] = []types.Preference{{Value: "hiking", Confidence: 0.4}}
	incoming.Facts = []types.Fact{
		{FactType: types.FactBackground, Value: "dog named Rex", Confidence: 0.5},
		{FactType: types.FactPersonal, Value: "Dog named Rex", Confidence: 0.5},
	}

	out := Merge(existing, incoming, 1, testNow)

	assert.Len(t, out.Preferences[types.CategoryLifestyle], 1)
	assert.Equal(t, 0.5, out.Preferences[types.CategoryLifestyle][0].Confidence)
	assert.Len(t, out.Preferences[types.CategoryContent], 1, "same value in another category is a new entry")
	assert.Len(t, out.Facts, 3, "fact match is exact on type and value")
}

func TestMerge_AveragesPatternFrequencyCaseInsensitive(t *testing.T) {
	existing := sampleMemory(testNow)
	incoming := types.NewUserMemory("", testNow)
	incoming.EmotionalPatterns = []types.EmotionalPattern{
		{Pattern: "stress", Frequency: 0.2, Intensity: types.IntensityHigh, Context: "deadlines", Triggers: []string{"work", "commute"}},
		{Pattern: "joy", Frequency: 0.7, Intensity: types.IntensityLow},
	}

	out := Merge(existing, incoming, 1, testNow)

	require.Len(t, out.EmotionalPatterns, 2)
	stress := out.EmotionalPatterns[0]
	assert.Equal(t, "Stress", stress.Pattern)
	assert.InDelta(t, 0.4, stress.Frequency, 1e-9)
	assert.Equal(t, types.IntensityHigh, stress.Intensity)
	assert.Equal(t, "deadlines", stress.Context)
	assert.Equal(t, []string{"work", "commute"}, stress.Triggers)
	assert.Equal(t, "joy", out.EmotionalPatterns[1].Pattern)
}

func TestMerge_NilExisting(t *testing.T) {
	incoming := sampleMemory(testNow)
	out := Merge(nil, incoming, 3, testNow)

	assert.Equal(t, 3, out.MessageCountAnalyzed)
	assert.Equal(t, types.AnalysisVersion, out.AnalysisVersion)
	assert.Len(t, out.Facts, 1)
	assert.Len(t, out.Preferences[types.CategoryLifestyle], 1)
}

func TestComputeStats(t *testing.T) {
	m := sampleMemory(testNow)
	m.Preferences[types.CategoryContent] = []types.Preference{{Value: "podcasts", Confidence: 0.3}}
	m.MessageCountAnalyzed = 7

	s := ComputeStats(m)
	assert.Equal(t, 2, s.PreferenceCount)
	assert.Equal(t, 1, s.EmotionalPatternCount)
	assert.Equal(t, 1, s.FactCount)
	assert.InDelta(t, (0.8+0.3+0.9+0.6)/4, s.OverallConfidence, 1e-9)
	assert.Equal(t, 2, s.HighConfidenceItems)
	assert.Equal(t, 0, s.MediumConfidenceItems)
	assert.Equal(t, 1, s.LowConfidenceItems)
	assert.Equal(t, 7, s.MessagesAnalyzed)
	assert.Equal(t, 1, s.Categories[types.CategoryContent])

	empty := ComputeStats(nil)
	assert.Zero(t, empty.OverallConfidence)
}
