package types

import "time"

// AnalysisVersion is stamped on every memory produced by the extractor.
const AnalysisVersion = "1.0"

// Preference is a single observed user preference.
type Preference struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Context    string    `json:"context,omitempty"`
	Examples   []string  `json:"examples,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// EmotionalPattern is a recurring emotional signal in the user's messages.
type EmotionalPattern struct {
	Pattern   string    `json:"pattern"`
	Frequency float64   `json:"frequency"`
	Intensity Intensity `json:"intensity"`
	Context   string    `json:"context,omitempty"`
	Triggers  []string  `json:"triggers,omitempty"`
}

// Fact is a piece of information about the user.
type Fact struct {
	FactType          FactType          `json:"fact_type"`
	Value             string            `json:"value"`
	Confidence        float64           `json:"confidence"`
	TemporalRelevance TemporalRelevance `json:"temporal_relevance"`
	SourceContext     string            `json:"source_context,omitempty"`
}

// UserMemory is the structured summary of what is known about a user.
//
// Confidence and frequency values are always within [0,1] and every enum
// field holds a value from its closed set.
type UserMemory struct {
	UserID               string                              `json:"user_id"`
	Preferences          map[PreferenceCategory][]Preference `json:"preferences"`
	EmotionalPatterns    []EmotionalPattern                  `json:"emotional_patterns"`
	Facts                []Fact                              `json:"facts"`
	MessageCountAnalyzed int                                 `json:"message_count_analyzed"`
	LastUpdated          time.Time                           `json:"last_updated"`
	CreatedAt            time.Time                           `json:"created_at"`
	AnalysisVersion      string                              `json:"analysis_version"`
}

// NewUserMemory returns an empty memory for userID.
func NewUserMemory(userID string, now time.Time) *UserMemory {
	return &UserMemory{
		UserID:            userID,
		Preferences:       make(map[PreferenceCategory][]Preference),
		EmotionalPatterns: []EmotionalPattern{},
		Facts:             []Fact{},
		LastUpdated:       now,
		CreatedAt:         now,
		AnalysisVersion:   AnalysisVersion,
	}
}

// PreferenceCount returns the number of preferences across all categories.
func (m *UserMemory) PreferenceCount() int {
	n := 0
	for _, prefs := range m.Preferences {
		n += len(prefs)
	}
	return n
}

// IsEmpty reports whether the memory holds no extracted items.
func (m *UserMemory) IsEmpty() bool {
	return m.PreferenceCount() == 0 && len(m.EmotionalPatterns) == 0 && len(m.Facts) == 0
}

// Clone returns a deep copy of m. A nil receiver returns nil.
func (m *UserMemory) Clone() *UserMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.Preferences = make(map[PreferenceCategory][]Preference, len(m.Preferences))
	for cat, prefs := range m.Preferences {
		cp := make([]Preference, len(prefs))
		for i, p := range prefs {
			p.Examples = cloneStrings(p.Examples)
			cp[i] = p
		}
		out.Preferences[cat] = cp
	}
	out.EmotionalPatterns = make([]EmotionalPattern, len(m.EmotionalPatterns))
	for i, p := range m.EmotionalPatterns {
		p.Triggers = cloneStrings(p.Triggers)
		out.EmotionalPatterns[i] = p
	}
	out.Facts = append([]Fact{}, m.Facts...)
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
