package memory

import "github.com/scrypster/rapport/pkg/types"

// Confidence bucket boundaries.
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.5
)

// Stats summarizes a memory. OverallConfidence is the mean of every
// preference and fact confidence and every pattern frequency.
type Stats struct {
	PreferenceCount       int                              `json:"preference_count"`
	EmotionalPatternCount int                              `json:"emotional_pattern_count"`
	FactCount             int                              `json:"fact_count"`
	OverallConfidence     float64                          `json:"overall_confidence"`
	HighConfidenceItems   int                              `json:"high_confidence_items"`
	MediumConfidenceItems int                              `json:"medium_confidence_items"`
	LowConfidenceItems    int                              `json:"low_confidence_items"`
	MessagesAnalyzed      int                              `json:"messages_analyzed"`
	Categories            map[types.PreferenceCategory]int `json:"categories"`
}

// ComputeStats returns the statistics for m. A nil memory yields zero stats.
func ComputeStats(m *types.UserMemory) Stats {
	s := Stats{Categories: map[types.PreferenceCategory]int{}}
	if m == nil {
		return s
	}

	var sum float64
	var n int
	bucket := func(c float64) {
		switch {
		case c >= HighConfidence:
			s.HighConfidenceItems++
		case c >= MediumConfidence:
			s.MediumConfidenceItems++
		default:
			s.LowConfidenceItems++
		}
	}

	for cat, prefs := range m.Preferences {
		if len(prefs) > 0 {
			s.Categories[cat] = len(prefs)
		}
		for _, p := range prefs {
			s.PreferenceCount++
			sum += p.Confidence
			n++
			bucket(p.Confidence)
		}
	}
	for _, f := range m.Facts {
		s.FactCount++
		sum += f.Confidence
		n++
		bucket(f.Confidence)
	}
	for _, p := range m.EmotionalPatterns {
		s.EmotionalPatternCount++
		sum += p.Frequency
		n++
	}

	if n > 0 {
		s.OverallConfidence = sum / float64(n)
	}
	s.MessagesAnalyzed = m.MessageCountAnalyzed
	return s
}
