// Package types defines the core data structures for the rapport system.
// These types represent extracted user memory, chat messages, personality
// profiles and the comparison results built from them.
package types

import "strings"

// PreferenceCategory groups a user preference.
type PreferenceCategory string

// Preference category constants
const (
	CategoryLifestyle     PreferenceCategory = "lifestyle"
	CategoryBehavior      PreferenceCategory = "behavior"
	CategoryCommunication PreferenceCategory = "communication"
	CategoryContent       PreferenceCategory = "content"
	CategoryOther         PreferenceCategory = "other"
)

// AllPreferenceCategories lists every category in canonical order.
var AllPreferenceCategories = []PreferenceCategory{
	CategoryLifestyle,
	CategoryBehavior,
	CategoryCommunication,
	CategoryContent,
	CategoryOther,
}

// IsValid reports whether c is one of the closed set of categories.
func (c PreferenceCategory) IsValid() bool {
	for _, v := range AllPreferenceCategories {
		if c == v {
			return true
		}
	}
	return false
}

// Intensity describes how strongly an emotional pattern shows up.
type Intensity string

// Intensity constants
const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// AllIntensities lists every intensity level from weakest to strongest.
var AllIntensities = []Intensity{IntensityLow, IntensityMedium, IntensityHigh}

// IsValid reports whether i is a known intensity.
func (i Intensity) IsValid() bool {
	return i == IntensityLow || i == IntensityMedium || i == IntensityHigh
}

// FactType classifies a fact about the user.
type FactType string

// Fact type constants
const (
	FactPersonal   FactType = "personal"
	FactBackground FactType = "background"
	FactEvent      FactType = "event"
	FactOther      FactType = "other"
)

// AllFactTypes lists every fact type in canonical order.
var AllFactTypes = []FactType{FactPersonal, FactBackground, FactEvent, FactOther}

// IsValid reports whether t is one of the closed set of fact types.
func (t FactType) IsValid() bool {
	for _, v := range AllFactTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TemporalRelevance describes how long a fact is expected to stay true.
type TemporalRelevance string

// Temporal relevance constants
const (
	TemporalPermanent TemporalRelevance = "permanent"
	TemporalRecent    TemporalRelevance = "recent"
	TemporalPast      TemporalRelevance = "past"
	TemporalUnknown   TemporalRelevance = "unknown"
)

// AllTemporalRelevances lists every temporal relevance value.
var AllTemporalRelevances = []TemporalRelevance{TemporalPermanent, TemporalRecent, TemporalPast, TemporalUnknown}

// IsValid reports whether r is a known temporal relevance.
func (r TemporalRelevance) IsValid() bool {
	for _, v := range AllTemporalRelevances {
		if r == v {
			return true
		}
	}
	return false
}

// Message is a single turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsBlank reports whether the message carries no content.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}
