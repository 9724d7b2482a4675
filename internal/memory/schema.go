// Package memory turns chat transcripts into validated UserMemory objects.
//
// Model output goes through two phases: llm.ParseJSON produces a generic
// tree, then Validate projects that tree into the strict types.UserMemory
// shape. Validation is permissive: numbers are clamped, unknown enum values
// fall back to a designated value and malformed entries are dropped, each
// with a recorded warning. Only an unusable top level is rejected.
package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/rapport/pkg/types"
)

// DefaultConfidence is used when an entry carries no usable confidence.
const DefaultConfidence = 0.5

// Warning records one coercion or drop applied during validation.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

// Report collects the warnings produced by Validate.
type Report struct {
	Warnings []Warning `json:"warnings,omitempty"`
	Dropped  int       `json:"dropped"`
	Coerced  int       `json:"coerced"`
}

func (r *Report) coerce(path, format string, args ...any) {
	r.Coerced++
	r.Warnings = append(r.Warnings, Warning{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) drop(path, format string, args ...any) {
	r.Dropped++
	r.Warnings = append(r.Warnings, Warning{Path: path, Message: fmt.Sprintf(format, args...)})
}

var temporalSynonyms = map[string]types.TemporalRelevance{
	"current":    types.TemporalRecent,
	"ongoing":    types.TemporalRecent,
	"present":    types.TemporalRecent,
	"historical": types.TemporalPast,
	"previous":   types.TemporalPast,
	"lifelong":   types.TemporalPermanent,
}

// Validate projects a generic parsed value into a UserMemory. The returned
// memory has no user id and a zero message count; ObservedAt and the
// timestamps are set to now.
//
// It fails with *types.ValidationError when candidate is not an object or
// when none of preferences, emotional_patterns and facts is usable.
func Validate(candidate any, now time.Time) (*types.UserMemory, *Report, error) {
	obj, ok := candidate.(map[string]any)
	if !ok {
		return nil, nil, &types.ValidationError{Reason: fmt.Sprintf("top-level value is %s, want object", kindOf(candidate))}
	}

	report := &Report{}
	mem := types.NewUserMemory("", now)
	usable := 0

	if raw, present := obj["preferences"]; present {
		if validatePreferences(raw, mem, report, now) {
			usable++
		}
	}
	if raw, present := obj["emotional_patterns"]; present {
		if patterns, ok := validatePatterns(raw, report); ok {
			mem.EmotionalPatterns = patterns
			usable++
		}
	}
	if raw, present := obj["facts"]; present {
		if facts, ok := validateFacts(raw, report); ok {
			mem.Facts = facts
			usable++
		}
	}

	if usable == 0 {
		return nil, report, &types.ValidationError{Reason: "none of preferences, emotional_patterns or facts is present and well-formed"}
	}
	return mem, report, nil
}

// validatePreferences accepts either an array of objects carrying a category
// or a mapping of category to array. It reports whether raw was usable.
func validatePreferences(raw any, mem *types.UserMemory, report *Report, now time.Time) bool {
	switch v := raw.(type) {
	case []any:
		for i, item := range v {
			path := fmt.Sprintf("preferences[%d]", i)
			entry, ok := item.(map[string]any)
			if !ok {
				report.drop(path, "entry is %s, want object", kindOf(item))
				continue
			}
			cat := normalizeCategory(str(entry["category"]), path, report)
			if p, ok := buildPreference(entry, path, report, now); ok {
				mem.Preferences[cat] = append(mem.Preferences[cat], p)
			}
		}
		return true

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			path := "preferences." + key
			cat := normalizeCategory(key, path, report)
			items, ok := v[key].([]any)
			if !ok {
				report.drop(path, "value is %s, want array", kindOf(v[key]))
				continue
			}
			for i, item := range items {
				itemPath := fmt.Sprintf("%s[%d]", path, i)
				var entry map[string]any
				switch it := item.(type) {
				case map[string]any:
					entry = it
				case string:
					entry = map[string]any{"value": it}
				default:
					report.drop(itemPath, "entry is %s, want object", kindOf(item))
					continue
				}
				if p, ok := buildPreference(entry, itemPath, report, now); ok {
					mem.Preferences[cat] = append(mem.Preferences[cat], p)
				}
			}
		}
		return true

	default:
		report.drop("preferences", "value is %s, want array or object", kindOf(raw))
		return false
	}
}

func buildPreference(entry map[string]any, path string, report *Report, now time.Time) (types.Preference, bool) {
	value := str(entry["value"])
	if value == "" {
		report.drop(path, "empty value")
		return types.Preference{}, false
	}
	return types.Preference{
		Value:      value,
		Confidence: unit(entry["confidence"], path+".confidence", report),
		Context:    str(entry["context"]),
		Examples:   strList(entry["examples"]),
		ObservedAt: now,
	}, true
}

func validatePatterns(raw any, report *Report) ([]types.EmotionalPattern, bool) {
	items, ok := raw.([]any)
	if !ok {
		report.drop("emotional_patterns", "value is %s, want array", kindOf(raw))
		return nil, false
	}

	patterns := make([]types.EmotionalPattern, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("emotional_patterns[%d]", i)
		var entry map[string]any
		switch it := item.(type) {
		case map[string]any:
			entry = it
		case string:
			entry = map[string]any{"pattern": it}
		default:
			report.drop(path, "entry is %s, want object", kindOf(item))
			continue
		}

		pattern := str(entry["pattern"])
		if pattern == "" {
			report.drop(path, "empty pattern")
			continue
		}
		patterns = append(patterns, types.EmotionalPattern{
			Pattern:   pattern,
			Frequency: unit(entry["frequency"], path+".frequency", report),
			Intensity: normalizeIntensity(str(entry["intensity"]), path, report),
			Context:   str(entry["context"]),
			Triggers:  strList(entry["triggers"]),
		})
	}
	return patterns, true
}

func validateFacts(raw any, report *Report) ([]types.Fact, bool) {
	items, ok := raw.([]any)
	if !ok {
		report.drop("facts", "value is %s, want array", kindOf(raw))
		return nil, false
	}

	facts := make([]types.Fact, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("facts[%d]", i)
		entry, ok := item.(map[string]any)
		if !ok {
			report.drop(path, "entry is %s, want object", kindOf(item))
			continue
		}
		value := str(entry["value"])
		if value == "" {
			report.drop(path, "empty value")
			continue
		}
		facts = append(facts, types.Fact{
			FactType:          normalizeFactType(str(entry["fact_type"]), path, report),
			Value:             value,
			Confidence:        unit(entry["confidence"], path+".confidence", report),
			TemporalRelevance: normalizeTemporal(str(entry["temporal_relevance"]), path, report),
			SourceContext:     str(entry["source_context"]),
		})
	}
	return facts, true
}

// Normalize repairs an already-typed memory in place so it holds the
// UserMemory invariants: unit values are clamped (NaN becomes
// DefaultConfidence), enum fields outside their closed sets take the
// fallback value and preferences filed under an unknown category move to
// "other". It returns the number of repairs made.
func Normalize(m *types.UserMemory) int {
	if m == nil {
		return 0
	}
	var (
		report  Report
		repairs int
	)
	fix := func(v float64) float64 {
		switch {
		case math.IsNaN(v):
			repairs++
			return DefaultConfidence
		case v < 0 || v > 1:
			repairs++
			return clamp(v)
		}
		return v
	}

	if m.Preferences == nil {
		m.Preferences = make(map[types.PreferenceCategory][]types.Preference)
	}
	for cat, prefs := range m.Preferences {
		for i := range prefs {
			prefs[i].Confidence = fix(prefs[i].Confidence)
		}
		if cat.IsValid() {
			continue
		}
		repairs++
		target := normalizeCategory(string(cat), "preferences", &report)
		delete(m.Preferences, cat)
		m.Preferences[target] = append(m.Preferences[target], prefs...)
	}

	if m.EmotionalPatterns == nil {
		m.EmotionalPatterns = []types.EmotionalPattern{}
	}
	for i := range m.EmotionalPatterns {
		p := &m.EmotionalPatterns[i]
		p.Frequency = fix(p.Frequency)
		if !p.Intensity.IsValid() {
			repairs++
			p.Intensity = normalizeIntensity(string(p.Intensity), "emotional_patterns", &report)
		}
	}

	if m.Facts == nil {
		m.Facts = []types.Fact{}
	}
	for i := range m.Facts {
		f := &m.Facts[i]
		f.Confidence = fix(f.Confidence)
		if !f.FactType.IsValid() {
			repairs++
			f.FactType = normalizeFactType(string(f.FactType), "facts", &report)
		}
		if !f.TemporalRelevance.IsValid() {
			repairs++
			f.TemporalRelevance = normalizeTemporal(string(f.TemporalRelevance), "facts", &report)
		}
	}

	if m.MessageCountAnalyzed < 0 {
		repairs++
		m.MessageCountAnalyzed = 0
	}
	return repairs
}

func normalizeCategory(s, path string, report *Report) types.PreferenceCategory {
	cat := types.PreferenceCategory(strings.ToLower(s))
	if cat.IsValid() {
		return cat
	}
	report.coerce(path+".category", "unknown category %q mapped to %q", s, types.CategoryOther)
	return types.CategoryOther
}

func normalizeIntensity(s, path string, report *Report) types.Intensity {
	in := types.Intensity(strings.ToLower(s))
	if in.IsValid() {
		return in
	}
	report.coerce(path+".intensity", "unknown intensity %q mapped to %q", s, types.IntensityMedium)
	return types.IntensityMedium
}

func normalizeFactType(s, path string, report *Report) types.FactType {
	ft := types.FactType(strings.ToLower(s))
	if ft.IsValid() {
		return ft
	}
	report.coerce(path+".fact_type", "unknown fact_type %q mapped to %q", s, types.FactOther)
	return types.FactOther
}

func normalizeTemporal(s, path string, report *Report) types.TemporalRelevance {
	lower := strings.ToLower(s)
	tr := types.TemporalRelevance(lower)
	if tr.IsValid() {
		return tr
	}
	if syn, ok := temporalSynonyms[lower]; ok {
		return syn
	}
	if s != "" {
		report.coerce(path+".temporal_relevance", "unknown temporal_relevance %q mapped to %q", s, types.TemporalUnknown)
	}
	return types.TemporalUnknown
}

// unit reads a number in [0,1]. Missing or unreadable values become
// DefaultConfidence; out-of-range values are clamped.
func unit(v any, path string, report *Report) float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) {
		if v != nil {
			report.coerce(path, "unreadable number %v replaced with %.1f", v, DefaultConfidence)
		}
		return DefaultConfidence
	}
	switch {
	case f < 0:
		report.coerce(path, "%v clamped to 0", f)
		return 0
	case f > 1:
		report.coerce(path, "%v clamped to 1", f)
		return 1
	}
	return f
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func strList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64, json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
