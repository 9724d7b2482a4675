package personality

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/rapport/pkg/types"
)

// SummaryLimits bounds the memory summary embedded in a generation prompt.
type SummaryLimits struct {
	Preferences int // default: 3
	Facts       int // default: 3
	Patterns    int // default: 2
	ItemRunes   int // default: 80
	TotalRunes  int // default: 600
}

func (l SummaryLimits) withDefaults() SummaryLimits {
	if l.Preferences <= 0 {
		l.Preferences = 3
	}
	if l.Facts <= 0 {
		l.Facts = 3
	}
	if l.Patterns <= 0 {
		l.Patterns = 2
	}
	if l.ItemRunes <= 0 {
		l.ItemRunes = 80
	}
	if l.TotalRunes <= 0 {
		l.TotalRunes = 600
	}
	return l
}

// Summarize renders the highest-confidence items of m as a few prompt lines
// and returns the item values it used. A nil or empty memory yields "".
func Summarize(m *types.UserMemory, limits SummaryLimits) (string, []string) {
	if m == nil || m.IsEmpty() {
		return "", nil
	}
	limits = limits.withDefaults()

	type ranked struct {
		label string
		ref   string
		score float64
	}

	var prefs []ranked
	for _, cat := range types.AllPreferenceCategories {
		for _, p := range m.Preferences[cat] {
			prefs = append(prefs, ranked{
				label: fmt.Sprintf("%s (%s)", clip(p.Value, limits.ItemRunes), cat),
				ref:   p.Value,
				score: p.Confidence,
			})
		}
	}
	facts := make([]ranked, 0, len(m.Facts))
	for _, f := range m.Facts {
		facts = append(facts, ranked{label: clip(f.Value, limits.ItemRunes), ref: f.Value, score: f.Confidence})
	}
	patterns := make([]ranked, 0, len(m.EmotionalPatterns))
	for _, p := range m.EmotionalPatterns {
		patterns = append(patterns, ranked{
			label: fmt.Sprintf("%s (%s)", clip(p.Pattern, limits.ItemRunes), p.Intensity),
			ref:   p.Pattern,
			score: p.Frequency,
		})
	}

	var lines, refs []string
	section := func(title string, items []ranked, n int) {
		if len(items) == 0 {
			return
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
		if len(items) > n {
			items = items[:n]
		}
		labels := make([]string, len(items))
		for i, it := range items {
			labels[i] = it.label
			refs = append(refs, it.ref)
		}
		lines = append(lines, title+": "+strings.Join(labels, "; "))
	}
	section("Preferences", prefs, limits.Preferences)
	section("Known facts", facts, limits.Facts)
	section("Emotional patterns", patterns, limits.Patterns)

	return clip(strings.Join(lines, "\n"), limits.TotalRunes), refs
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
