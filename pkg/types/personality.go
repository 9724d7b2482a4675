package types

// PersonalityID identifies a personality profile.
type PersonalityID string

// Personality id constants
const (
	PersonalityMentor       PersonalityID = "mentor"
	PersonalityFriend       PersonalityID = "friend"
	PersonalityTherapist    PersonalityID = "therapist"
	PersonalityProfessional PersonalityID = "professional"
)

// ToneDimension names one axis of ToneCharacteristics.
type ToneDimension string

// Tone dimension constants
const (
	ToneFormality      ToneDimension = "formality"
	ToneEmpathy        ToneDimension = "empathy"
	ToneDirectness     ToneDimension = "directness"
	ToneCreativity     ToneDimension = "creativity"
	ToneHumor          ToneDimension = "humor"
	ToneSupportiveness ToneDimension = "supportiveness"
)

// AllToneDimensions lists the tone dimensions in canonical order.
var AllToneDimensions = []ToneDimension{
	ToneFormality,
	ToneEmpathy,
	ToneDirectness,
	ToneCreativity,
	ToneHumor,
	ToneSupportiveness,
}

// ToneCharacteristics is a static tone vector, each component in [0,1].
type ToneCharacteristics struct {
	Formality      float64 `json:"formality" yaml:"formality"`
	Empathy        float64 `json:"empathy" yaml:"empathy"`
	Directness     float64 `json:"directness" yaml:"directness"`
	Creativity     float64 `json:"creativity" yaml:"creativity"`
	Humor          float64 `json:"humor" yaml:"humor"`
	Supportiveness float64 `json:"supportiveness" yaml:"supportiveness"`
}

// Value returns the component for dim, or 0 for an unknown dimension.
func (t ToneCharacteristics) Value(dim ToneDimension) float64 {
	switch dim {
	case ToneFormality:
		return t.Formality
	case ToneEmpathy:
		return t.Empathy
	case ToneDirectness:
		return t.Directness
	case ToneCreativity:
		return t.Creativity
	case ToneHumor:
		return t.Humor
	case ToneSupportiveness:
		return t.Supportiveness
	default:
		return 0
	}
}

// PersonalityProfile is an immutable bundle of tone and prompt material.
type PersonalityProfile struct {
	ID                   PersonalityID       `json:"id"`
	DisplayName          string              `json:"display_name"`
	Description          string              `json:"description"`
	SystemPromptTemplate string              `json:"system_prompt_template"`
	Tone                 ToneCharacteristics `json:"tone"`
	ResponseGuidelines   []string            `json:"response_guidelines"`
	Vocabulary           []string            `json:"vocabulary"`
	ResponsePatterns     []string            `json:"response_patterns"`
	Temperature          float64             `json:"temperature"`
	// UseWhen is the situational trigger used in recommendations.
	UseWhen string `json:"use_when"`
}

// ToneLeader records which personalities score highest on a dimension.
type ToneLeader struct {
	Leaders []PersonalityID `json:"leaders"`
	Score   float64         `json:"score"`
	Spread  float64         `json:"spread"`
}

// ComparisonAnalysis is the structural summary of a comparison.
type ComparisonAnalysis struct {
	ToneLeaders     map[ToneDimension]ToneLeader `json:"tone_leaders"`
	ResponseLengths map[PersonalityID]int        `json:"response_lengths"`
	// Failures maps "base" or a personality id to the error it produced.
	Failures map[string]string `json:"failures,omitempty"`
}

// PersonalityComparison holds the responses of several personalities to one message.
type PersonalityComparison struct {
	UserMessage          string                   `json:"user_message"`
	BaseResponse         string                   `json:"base_response"`
	PersonalityResponses map[PersonalityID]string `json:"personality_responses"`
	ComparisonAnalysis   ComparisonAnalysis       `json:"comparison_analysis"`
	Recommendations      []string                 `json:"recommendations"`
}
