package personality

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/pkg/types"
)

// Prompt shaping limits for recent conversation turns.
const (
	historyTurns = 3
	historyRunes = 100
)

// Config controls an Engine. Zero fields take their defaults.
type Config struct {
	MaxTokens   int // default: 500
	Concurrency int // max in-flight gateway calls per comparison; default: 5
	Model       string
	Summary     SummaryLimits
	Registry    *Registry
	Logger      *log.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.Registry == nil {
		c.Registry = Default()
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	c.Summary = c.Summary.withDefaults()
	return c
}

// Request is a single personality-conditioned generation.
type Request struct {
	Message string
	Profile types.PersonalityProfile
	Memory  *types.UserMemory
	History []types.Message
	Context string
}

// Reply is the outcome of Generate.
type Reply struct {
	Text             string              `json:"response"`
	Personality      types.PersonalityID `json:"personality"`
	MemoryReferences []string            `json:"memory_references"`
	Model            string              `json:"model"`
}

// Engine generates replies in the voice of a personality profile.
type Engine struct {
	gateway  llm.Gateway
	registry *Registry
	cfg      Config
	logger   *log.Logger
}

// NewEngine creates an Engine on top of gateway.
func NewEngine(gateway llm.Gateway, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{gateway: gateway, registry: cfg.Registry, cfg: cfg, logger: cfg.Logger}
}

// Registry returns the profile catalog the engine resolves ids against.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Respond returns the text of Generate for a message without history or context.
func (e *Engine) Respond(ctx context.Context, message string, profile types.PersonalityProfile, memory *types.UserMemory) (string, error) {
	reply, err := e.Generate(ctx, Request{Message: message, Profile: profile, Memory: memory})
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Generate makes exactly one gateway call. Failures and empty replies are
// reported as *types.GenerationFailedError and never retried here.
func (e *Engine) Generate(ctx context.Context, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &types.InvalidInputError{Reason: "message is required"}
	}

	system, err := e.SystemPrompt(req.Profile)
	if err != nil {
		return nil, &types.GenerationFailedError{Personality: req.Profile.ID, Cause: err}
	}
	summary, refs := Summarize(req.Memory, e.cfg.Summary)
	prompt := buildPrompt(req, summary)

	text, err := e.gateway.Generate(ctx, prompt, llm.Options{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: req.Profile.Temperature,
		System:      system,
	})
	if err != nil {
		e.logger.Warn("generation failed", "personality", req.Profile.ID, "err", err)
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
	e.logger.Debug("reply generated", "personality", req.Profile.ID, "chars", len(text), "memory_refs", len(refs))
	return &Reply{Text: text, Personality: req.Profile.ID, MemoryReferences: refs, Model: model}, nil
}

// SystemPrompt renders the profile template followed by its tone, guidelines
// and characteristic phrasing.
func (e *Engine) SystemPrompt(p types.PersonalityProfile) (string, error) {
	rendered, err := e.registry.RenderSystemPrompt(p)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(rendered))

	sb.WriteString("\n\nTone (0 = low, 1 = high):")
	for _, dim := range types.AllToneDimensions {
		fmt.Fprintf(&sb, " %s %.1f", dim, p.Tone.Value(dim))
	}

	if len(p.ResponseGuidelines) > 0 {
		sb.WriteString("\n\nResponse guidelines:\n")
		for _, g := range p.ResponseGuidelines {
			sb.WriteString("- " + g + "\n")
		}
	}
	if len(p.Vocabulary) > 0 {
		sb.WriteString("\nWords that fit your voice: " + strings.Join(p.Vocabulary, ", "))
	}
	if len(p.ResponsePatterns) > 0 {
		sb.WriteString("\nTypical phrasings: " + strings.Join(p.ResponsePatterns, " | "))
	}
	return strings.TrimSpace(sb.String()), nil
}

func buildPrompt(req Request, summary string) string {
	var sb strings.Builder
	sb.WriteString("User message: " + strings.TrimSpace(req.Message))

	if c := strings.TrimSpace(req.Context); c != "" {
		sb.WriteString("\n\nAdditional context: " + c)
	}
	if summary != "" {
		sb.WriteString("\n\nUser information:\n" + summary)
	}

	if turns := formatHistory(req.History); turns != "" {
		sb.WriteString("\n\nRecent conversation: " + turns)
	}

	sb.WriteString("\n\nGenerate a response that matches your personality and uses the context above.")
	return sb.String()
}

// formatHistory keeps the last historyTurns non-blank turns, each clipped to
// historyRunes.
func formatHistory(history []types.Message) string {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	turns := make([]string, 0, len(history))
	for _, m := range history {
		if m.IsBlank() {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		turns = append(turns, role+": "+clip(m.Content, historyRunes))
	}
	return strings.Join(turns, " | ")
}
