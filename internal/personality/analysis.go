package personality

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/scrypster/rapport/pkg/types"
)

const scoreEpsilon = 1e-9

// Analyze derives tone leaders and response lengths from the static tone
// vectors of the profiles that produced a response. profiles are expected in
// registry order; leaders keep that order.
func Analyze(profiles []types.PersonalityProfile, responses map[types.PersonalityID]string) types.ComparisonAnalysis {
	analysis := types.ComparisonAnalysis{
		ToneLeaders:     make(map[types.ToneDimension]types.ToneLeader),
		ResponseLengths: make(map[types.PersonalityID]int, len(responses)),
	}
	for id, text := range responses {
		analysis.ResponseLengths[id] = utf8.RuneCountInString(text)
	}
	if len(profiles) == 0 {
		return analysis
	}

	for _, dim := range types.AllToneDimensions {
		best, worst := math.Inf(-1), math.Inf(1)
		for _, p := range profiles {
			v := p.Tone.Value(dim)
			best = math.Max(best, v)
			worst = math.Min(worst, v)
		}
		var leaders []types.PersonalityID
		for _, p := range profiles {
			if math.Abs(p.Tone.Value(dim)-best) < scoreEpsilon {
				leaders = append(leaders, p.ID)
			}
		}
		analysis.ToneLeaders[dim] = types.ToneLeader{Leaders: leaders, Score: best, Spread: best - worst}
	}
	return analysis
}

// Recommend ranks profiles by the number of tone dimensions they lead.
// Ties keep the order of profiles.
func Recommend(profiles []types.PersonalityProfile, analysis types.ComparisonAnalysis) []string {
	led := make(map[types.PersonalityID]int, len(profiles))
	for _, leader := range analysis.ToneLeaders {
		for _, id := range leader.Leaders {
			led[id]++
		}
	}

	ranked := append([]types.PersonalityProfile(nil), profiles...)
	sort.SliceStable(ranked, func(i, j int) bool { return led[ranked[i].ID] > led[ranked[j].ID] })

	out := make([]string, 0, len(ranked))
	for _, p := range ranked {
		if p.UseWhen == "" {
			out = append(out, fmt.Sprintf("Use %s for %s", Title(p.ID), p.Description))
			continue
		}
		out = append(out, fmt.Sprintf("Use %s when %s", Title(p.ID), p.UseWhen))
	}
	return out
}
