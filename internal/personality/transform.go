package personality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/pkg/types"
)

// toneShiftThreshold is how far a target tone value must sit from the
// neutral voice to count as raised or lowered.
const toneShiftThreshold = 0.15

// TransformRequest asks for Original to be rewritten in the voice of Profile.
type TransformRequest struct {
	Original string
	// Message is the user message Original answered. Optional.
	Message string
	Profile types.PersonalityProfile
	Memory  *types.UserMemory
	History []types.Message
}

// Transformation is the outcome of Transform.
type Transformation struct {
	Original         string              `json:"original_response"`
	Transformed      string              `json:"transformed_response"`
	Personality      types.PersonalityID `json:"personality"`
	ToneAnalysis     ToneShift           `json:"tone_analysis"`
	Explanation      string              `json:"transformation_explanation"`
	MemoryReferences []string            `json:"memory_references"`
	Model            string              `json:"model"`
}

// ToneShift compares the target profile's static tone vector with the
// neutral voice.
type ToneShift struct {
	Target            map[types.ToneDimension]float64 `json:"target_tone"`
	Raised            []types.ToneDimension           `json:"raised"`
	Lowered           []types.ToneDimension           `json:"lowered"`
	OriginalLength    int                             `json:"original_length"`
	TransformedLength int                             `json:"transformed_length"`
}

// Transform rewrites req.Original in the profile's voice with one gateway
// call at the profile temperature. Failures are *types.GenerationFailedError.
func (e *Engine) Transform(ctx context.Context, req TransformRequest) (*Transformation, error) {
	if strings.TrimSpace(req.Original) == "" {
		return nil, &types.InvalidInputError{Reason: "original response is required"}
	}

	system, err := e.SystemPrompt(req.Profile)
	if err != nil {
		return nil, &types.GenerationFailedError{Personality: req.Profile.ID, Cause: err}
	}
	summary, refs := Summarize(req.Memory, e.cfg.Summary)

	text, err := e.gateway.Generate(ctx, buildTransformPrompt(req, summary), llm.Options{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: req.Profile.Temperature,
		System:      system,
	})
	if err != nil {
		e.logger.Warn("transformation failed", "personality", req.Profile.ID, "err", err)
		return nil, &types.GenerationFailedError{Personality: req.Profile.ID, Cause: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &types.GenerationFailedError{Personality: req.Profile.ID, Cause: errors.New("empty response")}
	}

	model := e.cfg.Model
	if model == "" {
		model = e.gateway.GetModel()
	}
	shift := AnalyzeShift(req.Profile, req.Original, text)
	return &Transformation{
		Original:         req.Original,
		Transformed:      text,
		Personality:      req.Profile.ID,
		ToneAnalysis:     shift,
		Explanation:      explainShift(req.Profile, shift),
		MemoryReferences: refs,
		Model:            model,
	}, nil
}

// AnalyzeShift reports which tone dimensions the target profile raises or
// lowers against the neutral voice, plus both lengths in runes.
func AnalyzeShift(target types.PersonalityProfile, original, transformed string) ToneShift {
	neutral := Neutral().Tone
	shift := ToneShift{
		Target:            make(map[types.ToneDimension]float64, len(types.AllToneDimensions)),
		Raised:            []types.ToneDimension{},
		Lowered:           []types.ToneDimension{},
		OriginalLength:    utf8.RuneCountInString(original),
		TransformedLength: utf8.RuneCountInString(transformed),
	}
	for _, dim := range types.AllToneDimensions {
		v := target.Tone.Value(dim)
		shift.Target[dim] = v
		switch d := v - neutral.Value(dim); {
		case d >= toneShiftThreshold:
			shift.Raised = append(shift.Raised, dim)
		case d <= -toneShiftThreshold:
			shift.Lowered = append(shift.Lowered, dim)
		}
	}
	return shift
}

func explainShift(p types.PersonalityProfile, shift ToneShift) string {
	name := p.DisplayName
	if name == "" {
		name = Title(p.ID)
	}
	var parts []string
	if len(shift.Raised) > 0 {
		parts = append(parts, "more "+joinDimensions(shift.Raised))
	}
	if len(shift.Lowered) > 0 {
		parts = append(parts, "less "+joinDimensions(shift.Lowered))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Rewritten as %s with a balanced tone.", name)
	}
	return fmt.Sprintf("Rewritten as %s: %s.", name, strings.Join(parts, "; "))
}

func joinDimensions(dims []types.ToneDimension) string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

func buildTransformPrompt(req TransformRequest, summary string) string {
	var sb strings.Builder
	name := req.Profile.DisplayName
	if name == "" {
		name = Title(req.Profile.ID)
	}
	fmt.Fprintf(&sb, "Transform this response to match the %s personality.\n\n", name)
	sb.WriteString("Original response: " + strings.TrimSpace(req.Original))
	sb.WriteString("\n\nKeep the core meaning but adapt the tone, style and language to the target personality.")

	if m := strings.TrimSpace(req.Message); m != "" {
		sb.WriteString("\n\nOriginal user message: " + m)
	}
	if summary != "" {
		sb.WriteString("\n\nUser information:\n" + summary)
	}
	if turns := formatHistory(req.History); turns != "" {
		sb.WriteString("\n\nRecent conversation: " + turns)
	}

	sb.WriteString("\n\nReply with the transformed response only.")
	return sb.String()
}
