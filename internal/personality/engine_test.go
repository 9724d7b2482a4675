package personality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/llm/llmtest"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/pkg/types"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testMemory() *types.UserMemory {
	m := types.NewUserMemory("u1", testNow)
	m.Preferences[types.CategoryLifestyle] = []types.Preference{
		{Value: "hiking", Confidence: 0.9},
		{Value: "cooking", Confidence: 0.4},
	}
	m.Preferences[types.CategoryContent] = []types.Preference{
		{Value: "podcasts", Confidence: 0.7},
		{Value: "sci-fi", Confidence: 0.8},
	}
	m.EmotionalPatterns = []types.EmotionalPattern{
		{Pattern: "stress", Frequency: 0.6, Intensity: types.IntensityMedium},
		{Pattern: "joy", Frequency: 0.3, Intensity: types.IntensityLow},
		{Pattern: "calm", Frequency: 0.8, Intensity: types.IntensityLow},
	}
	m.Facts = []types.Fact{{FactType: types.FactPersonal, Value: "dog named Rex", Confidence: 0.95}}
	return m
}

func newTestEngine(gw llm.Gateway) *Engine {
	return NewEngine(gw, Config{Logger: logging.Discard()})
}

func mustProfile(t *testing.T, id types.PersonalityID) types.PersonalityProfile {
	t.Helper()
	p, err := Default().Get(id)
	require.NoError(t, err)
	return p
}

func TestEngine_Generate(t *testing.T) {
	gw := llmtest.New("  Hey, sounds like a plan!  ")
	e := newTestEngine(gw)

	reply, err := e.Generate(context.Background(), Request{
		Message: "Any weekend ideas?",
		Profile: mustProfile(t, types.PersonalityFriend),
		Memory:  testMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hey, sounds like a plan!", reply.Text)
	assert.Equal(t, types.PersonalityFriend, reply.Personality)
	assert.Equal(t, "scripted", reply.Model)
	assert.Equal(t, []string{"hiking", "sci-fi", "podcasts", "dog named Rex", "calm", "stress"}, reply.MemoryReferences)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 500, calls[0].Opts.MaxTokens)
	assert.Equal(t, 0.7, calls[0].Opts.Temperature)
	assert.Contains(t, calls[0].Opts.System, "You are Witty Friend")
	assert.Contains(t, calls[0].Opts.System, "- Keep it light and fun")
	assert.Contains(t, calls[0].Opts.System, "humor 0.9")

	prompt := calls[0].Prompt
	assert.True(t, strings.HasPrefix(prompt, "User message: Any weekend ideas?"))
	assert.Contains(t, prompt, "Preferences: hiking (lifestyle); sci-fi (content); podcasts (content)")
	assert.Contains(t, prompt, "Known facts: dog named Rex")
	assert.Contains(t, prompt, "Emotional patterns: calm (low); stress (medium)")
	assert.NotContains(t, prompt, "cooking")
	assert.NotContains(t, prompt, "Recent conversation")
}

func TestEngine_GenerateWithHistoryAndContext(t *testing.T) {
	gw := llmtest.New("ok")
	e := newTestEngine(gw)

	history := []types.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
		{Role: "assistant", Content: strings.Repeat("é", 150)},
	}
	_, err := e.Generate(context.Background(), Request{
		Message: "next?",
		Profile: mustProfile(t, types.PersonalityMentor),
		History: history,
		Context: "user is preparing for an interview",
	})
	require.NoError(t, err)

	prompt := gw.Calls()[0].Prompt
	assert.Contains(t, prompt, "Additional context: user is preparing for an interview")
	assert.NotContains(t, prompt, "first")
	assert.Contains(t, prompt, "Recent conversation: assistant: second | user: third | assistant: "+strings.Repeat("é", 97)+"...")
	assert.NotContains(t, prompt, "User information")
}

// personaGateway answers in the voice named by the system prompt, so replies
// differ whenever the personality does.
func personaGateway() *llmtest.Gateway {
	return &llmtest.Gateway{Handler: func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		voice, _, _ := strings.Cut(strings.TrimPrefix(opts.System, "You are "), ",")
		return fmt.Sprintf("%s (temperature %.1f): how about a hike?", voice, opts.Temperature), nil
	}}
}

func TestEngine_RespondDiffersByPersonality(t *testing.T) {
	gw := personaGateway()
	e := newTestEngine(gw)
	mem := types.NewUserMemory("u1", testNow)
	mem.Preferences[types.CategoryLifestyle] = []types.Preference{{Value: "hiking", Confidence: 0.9}}
	ctx := context.Background()

	mentor, err := e.Respond(ctx, "What should I do this weekend?", mustProfile(t, types.PersonalityMentor), mem)
	require.NoError(t, err)
	therapist, err := e.Respond(ctx, "What should I do this weekend?", mustProfile(t, types.PersonalityTherapist), mem)
	require.NoError(t, err)

	assert.NotEmpty(t, mentor)
	assert.NotEmpty(t, therapist)
	assert.NotEqual(t, mentor, therapist)
	assert.Contains(t, mentor, "Wise Mentor")
	assert.Contains(t, therapist, "Empathetic Therapist")

	for _, c := range gw.Calls() {
		assert.Contains(t, c.Prompt, "hiking")
		assert.Contains(t, c.Prompt, "What should I do this weekend?")
	}
	assert.NotEqual(t, gw.Calls()[0].Opts.System, gw.Calls()[1].Opts.System)
}

func TestEngine_GenerateFailures(t *testing.T) {
	profile := mustProfile(t, types.PersonalityTherapist)

	t.Run("gateway error", func(t *testing.T) {
		gw := &llmtest.Gateway{Errors: []error{llmtest.Transient("503")}}
		_, err := newTestEngine(gw).Generate(context.Background(), Request{Message: "hi", Profile: profile})

		var failed *types.GenerationFailedError
		require.True(t, errors.As(err, &failed))
		assert.Equal(t, types.PersonalityTherapist, failed.Personality)
		var gwErr *llm.GatewayError
		assert.True(t, errors.As(err, &gwErr))
		assert.Equal(t, 1, gw.CallCount(), "no retry in the engine")
	})

	t.Run("empty text", func(t *testing.T) {
		gw := llmtest.New("   ")
		_, err := newTestEngine(gw).Generate(context.Background(), Request{Message: "hi", Profile: profile})
		var failed *types.GenerationFailedError
		assert.True(t, errors.As(err, &failed))
	})

	t.Run("blank message", func(t *testing.T) {
		gw := llmtest.New("unused")
		_, err := newTestEngine(gw).Respond(context.Background(), "  ", profile, nil)
		var invalid *types.InvalidInputError
		assert.True(t, errors.As(err, &invalid))
		assert.Zero(t, gw.CallCount())
	})
}

func TestSummarize(t *testing.T) {
	text, refs := Summarize(nil, SummaryLimits{})
	assert.Empty(t, text)
	assert.Nil(t, refs)

	text, _ = Summarize(types.NewUserMemory("u1", testNow), SummaryLimits{})
	assert.Empty(t, text)

	m := types.NewUserMemory("u1", testNow)
	m.Facts = []types.Fact{{Value: strings.Repeat("x", 200), Confidence: 0.9}}
	text, refs = Summarize(m, SummaryLimits{ItemRunes: 20, TotalRunes: 100})
	assert.Equal(t, "Known facts: "+strings.Repeat("x", 17)+"...", text)
	assert.Len(t, refs, 1)

	text, _ = Summarize(testMemory(), SummaryLimits{TotalRunes: 40})
	assert.Equal(t, 40, len([]rune(text)))
	assert.True(t, strings.HasSuffix(text, "..."))
}
