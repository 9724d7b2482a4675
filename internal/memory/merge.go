package memory

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/scrypster/rapport/pkg/types"
)

// Merge folds incoming into a copy of existing and returns the copy. Neither
// argument is modified; a nil existing starts from an empty memory.
//
// Preferences match on (category, trimmed value) and facts on
// (fact_type, trimmed value): a match refreshes confidence, context and
// timestamp, anything else is appended. Emotional patterns match on the
// case-insensitive pattern text and their frequencies are averaged.
// messageCount is added to MessageCountAnalyzed and LastUpdated is set to now.
func Merge(existing, incoming *types.UserMemory, messageCount int, now time.Time) *types.UserMemory {
	out := existing.Clone()
	if out == nil {
		out = types.NewUserMemory("", now)
	}
	if out.Preferences == nil {
		out.Preferences = make(map[types.PreferenceCategory][]types.Preference)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}

	if incoming != nil {
		for _, cat := range types.AllPreferenceCategories {
			for _, p := range incoming.Preferences[cat] {
				out.Preferences[cat] = mergePreference(out.Preferences[cat], p, now)
			}
		}
		for _, p := range incoming.EmotionalPatterns {
			out.EmotionalPatterns = mergePattern(out.EmotionalPatterns, p)
		}
		for _, f := range incoming.Facts {
			out.Facts = mergeFact(out.Facts, f)
		}
	}

	if out.EmotionalPatterns == nil {
		out.EmotionalPatterns = []types.EmotionalPattern{}
	}
	if out.Facts == nil {
		out.Facts = []types.Fact{}
	}
	out.MessageCountAnalyzed += messageCount
	out.LastUpdated = now
	out.AnalysisVersion = types.AnalysisVersion
	return out
}

func mergePreference(prefs []types.Preference, p types.Preference, now time.Time) []types.Preference {
	key := strings.TrimSpace(p.Value)
	if p.ObservedAt.IsZero() {
		p.ObservedAt = now
	}

	_, idx, found := lo.FindIndexOf(prefs, func(existing types.Preference) bool {
		return strings.TrimSpace(existing.Value) == key
	})
	if !found {
		p.Value = key
		p.Examples = append([]string(nil), p.Examples...)
		return append(prefs, p)
	}

	cur := &prefs[idx]
	cur.Confidence = clamp(p.Confidence)
	cur.ObservedAt = p.ObservedAt
	if p.Context != "" {
		cur.Context = p.Context
	}
	cur.Examples = union(cur.Examples, p.Examples)
	return prefs
}

func mergePattern(patterns []types.EmotionalPattern, p types.EmotionalPattern) []types.EmotionalPattern {
	key := strings.ToLower(strings.TrimSpace(p.Pattern))

	_, idx, found := lo.FindIndexOf(patterns, func(existing types.EmotionalPattern) bool {
		return strings.ToLower(strings.TrimSpace(existing.Pattern)) == key
	})
	if !found {
		p.Triggers = append([]string(nil), p.Triggers...)
		return append(patterns, p)
	}

	cur := &patterns[idx]
	cur.Frequency = clamp((cur.Frequency + p.Frequency) / 2)
	if p.Intensity.IsValid() {
		cur.Intensity = p.Intensity
	}
	if p.Context != "" {
		cur.Context = p.Context
	}
	cur.Triggers = union(cur.Triggers, p.Triggers)
	return patterns
}

func mergeFact(facts []types.Fact, f types.Fact) []types.Fact {
	key := strings.TrimSpace(f.Value)

	_, idx, found := lo.FindIndexOf(facts, func(existing types.Fact) bool {
		return existing.FactType == f.FactType && strings.TrimSpace(existing.Value) == key
	})
	if !found {
		f.Value = key
		return append(facts, f)
	}

	cur := &facts[idx]
	cur.Confidence = clamp(f.Confidence)
	if f.TemporalRelevance.IsValid() && f.TemporalRelevance != types.TemporalUnknown {
		cur.TemporalRelevance = f.TemporalRelevance
	}
	if f.SourceContext != "" {
		cur.SourceContext = f.SourceContext
	}
	return facts
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	return lo.Uniq(append(append([]string(nil), a...), b...))
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
