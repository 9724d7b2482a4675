package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/pkg/types"
)

// Config controls an Extractor. Zero fields take their defaults.
type Config struct {
	MaxMessages    int     // default: 30
	RepairAttempts int     // extra attempts after the first; default: 2, negative disables
	MaxTokens      int     // default: 2000
	Temperature    float64 // default: 0.3, negative means 0
	Model          string  // overrides the gateway model when set

	Logger *log.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = types.MaxMessages
	}
	if c.RepairAttempts == 0 {
		c.RepairAttempts = 2
	}
	if c.RepairAttempts < 0 {
		c.RepairAttempts = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Request is the input to ExtractWithReport.
type Request struct {
	UserID   string
	Messages []types.Message
	Existing *types.UserMemory
}

// Result is the outcome of a successful extraction.
type Result struct {
	// Memory is Existing merged with what this call extracted.
	Memory *types.UserMemory
	// Extracted holds only what this call contributed, before merging.
	Extracted *types.UserMemory
	Stats     Stats
	Warnings  []Warning
	Attempts  int
}

// Extractor builds extraction prompts, calls the gateway and turns the reply
// into a validated memory, repairing malformed output with follow-up prompts.
type Extractor struct {
	gateway llm.Gateway
	cfg     Config
	logger  *log.Logger
}

// NewExtractor creates an Extractor on top of gateway.
func NewExtractor(gateway llm.Gateway, cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{gateway: gateway, cfg: cfg, logger: cfg.Logger}
}

// MaxMessages returns the transcript cap.
func (e *Extractor) MaxMessages() int {
	return e.cfg.MaxMessages
}

// Extract returns existing merged with the memory extracted from messages.
// existing may be nil and is never modified.
func (e *Extractor) Extract(ctx context.Context, messages []types.Message, existing *types.UserMemory) (*types.UserMemory, error) {
	userID := ""
	if existing != nil {
		userID = existing.UserID
	}
	res, err := e.ExtractWithReport(ctx, Request{UserID: userID, Messages: messages, Existing: existing})
	if err != nil {
		return nil, err
	}
	return res.Memory, nil
}

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeParseFailed
	outcomeValidationFailed
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeOK:
		return "ok"
	case outcomeParseFailed:
		return "parse_failed"
	default:
		return "validation_failed"
	}
}

// attemptOutcome is the tagged result of interpreting one raw response.
type attemptOutcome struct {
	kind   outcomeKind
	memory *types.UserMemory
	report *Report
	err    error
}

// ExtractWithReport is Extract with validation warnings and statistics.
//
// It fails with *types.InputTooLargeError or *types.InvalidInputError before
// calling the gateway, and with *types.ExtractionFailedError once every
// attempt is spent or the gateway reports a fatal error.
func (e *Extractor) ExtractWithReport(ctx context.Context, req Request) (*Result, error) {
	if err := e.checkInput(req.Messages); err != nil {
		return nil, err
	}

	base := llm.MemoryExtractionPrompt(req.Messages)
	opts := llm.Options{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		System:      llm.ExtractionSystemPrompt,
	}
	maxAttempts := 1 + e.cfg.RepairAttempts
	logger := e.logger.With("user_id", req.UserID, "messages", len(req.Messages))

	prompt := base
	var lastRaw string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := e.gateway.Generate(ctx, prompt, opts)
		if err != nil {
			if !llm.IsTransient(err) {
				logger.Error("extraction aborted by gateway", "attempt", attempt, "err", err)
				return nil, &types.ExtractionFailedError{Attempts: attempt, LastRaw: lastRaw, Cause: err}
			}
			logger.Warn("transient gateway failure during extraction", "attempt", attempt, "err", err)
			lastErr = err
			continue
		}

		now := e.cfg.Now()
		outcome := evaluate(raw, now)
		if outcome.kind != outcomeOK {
			logger.Warn("extraction attempt rejected", "attempt", attempt, "outcome", outcome.kind, "err", outcome.err)
			lastRaw, lastErr = raw, outcome.err
			prompt = llm.RepairPrompt(base, outcome.err, raw)
			continue
		}

		for _, w := range outcome.report.Warnings {
			logger.Warn("memory validation", "path", w.Path, "warning", w.Message)
		}

		extracted := outcome.memory
		extracted.UserID = req.UserID
		merged := Merge(req.Existing, extracted, len(req.Messages), now)
		if merged.UserID == "" {
			merged.UserID = req.UserID
		}

		stats := ComputeStats(merged)
		logger.Info("memory extracted",
			"attempt", attempt,
			"preferences", stats.PreferenceCount,
			"patterns", stats.EmotionalPatternCount,
			"facts", stats.FactCount,
			"warnings", len(outcome.report.Warnings))

		return &Result{
			Memory:    merged,
			Extracted: extracted,
			Stats:     stats,
			Warnings:  outcome.report.Warnings,
			Attempts:  attempt,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return nil, &types.ExtractionFailedError{Attempts: maxAttempts, LastRaw: lastRaw, Cause: lastErr}
}

func evaluate(raw string, now time.Time) attemptOutcome {
	value, err := llm.ParseJSON(raw)
	if err != nil {
		return attemptOutcome{kind: outcomeParseFailed, err: err}
	}
	mem, report, err := Validate(value, now)
	if err != nil {
		return attemptOutcome{kind: outcomeValidationFailed, report: report, err: err}
	}
	return attemptOutcome{kind: outcomeOK, memory: mem, report: report}
}

func (e *Extractor) checkInput(messages []types.Message) error {
	if len(messages) == 0 {
		return &types.InvalidInputError{Reason: "at least one message is required"}
	}
	if len(messages) > e.cfg.MaxMessages {
		return &types.InputTooLargeError{Count: len(messages), Limit: e.cfg.MaxMessages}
	}
	for i, msg := range messages {
		if msg.IsBlank() {
			return &types.InvalidInputError{Reason: fmt.Sprintf("message %d has empty content", i+1)}
		}
	}
	return nil
}
