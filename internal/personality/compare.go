package personality

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/rapport/pkg/types"
)

// BaseKey is the failures key used for the neutral base response.
const BaseKey = "base"

type callResult struct {
	text string
	err  error
}

// Compare asks the base profile and each requested personality to answer
// message concurrently. Empty ids means every registered personality.
//
// Unknown ids fail before any gateway call. Individual failures are recorded
// in ComparisonAnalysis.Failures; only when every call fails does Compare
// return an error. A done ctx returns ctx.Err().
func (e *Engine) Compare(ctx context.Context, message string, memory *types.UserMemory, ids []types.PersonalityID, base types.PersonalityProfile) (*types.PersonalityComparison, error) {
	profiles, err := e.resolve(ids)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, &types.InvalidInputError{Reason: "message is required"}
	}

	var baseResult callResult
	results := make([]callResult, len(profiles))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	g.Go(func() error {
		baseResult.text, baseResult.err = e.Respond(ctx, message, base, memory)
		return nil
	})
	for i, p := range profiles {
		g.Go(func() error {
			results[i].text, results[i].err = e.Respond(ctx, message, p, memory)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmp := &types.PersonalityComparison{
		UserMessage:          message,
		PersonalityResponses: make(map[types.PersonalityID]string, len(profiles)),
	}
	failures := make(map[string]string)
	var errs []error

	if baseResult.err != nil {
		failures[BaseKey] = baseResult.err.Error()
		errs = append(errs, baseResult.err)
	} else {
		cmp.BaseResponse = baseResult.text
	}

	succeeded := make([]types.PersonalityProfile, 0, len(profiles))
	for i, p := range profiles {
		if results[i].err != nil {
			failures[string(p.ID)] = results[i].err.Error()
			errs = append(errs, results[i].err)
			continue
		}
		cmp.PersonalityResponses[p.ID] = results[i].text
		succeeded = append(succeeded, p)
	}

	if baseResult.err != nil && len(succeeded) == 0 {
		cause := errors.Join(errs...)
		e.logger.Error("comparison failed", "personalities", len(profiles), "err", cause)
		return nil, &types.GenerationFailedError{Cause: cause}
	}

	cmp.ComparisonAnalysis = Analyze(succeeded, cmp.PersonalityResponses)
	if len(failures) > 0 {
		cmp.ComparisonAnalysis.Failures = failures
		e.logger.Warn("comparison partially failed", "failed", len(failures), "succeeded", len(succeeded))
	}
	cmp.Recommendations = Recommend(succeeded, cmp.ComparisonAnalysis)
	return cmp, nil
}

// resolve validates ids, drops duplicates and orders the profiles by
// registry position.
func (e *Engine) resolve(ids []types.PersonalityID) ([]types.PersonalityProfile, error) {
	if len(ids) == 0 {
		return e.registry.List(), nil
	}

	profiles := make([]types.PersonalityProfile, 0, len(ids))
	for _, id := range ids {
		p, err := e.registry.Get(id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	profiles = lo.UniqBy(profiles, func(p types.PersonalityProfile) types.PersonalityID { return p.ID })
	sort.SliceStable(profiles, func(i, j int) bool {
		return e.registry.Position(profiles[i].ID) < e.registry.Position(profiles[j].ID)
	})
	return profiles, nil
}
