package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/scrypster/rapport/internal/memory"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// Service is the application core behind the HTTP handlers and the CLI.
type Service struct {
	cfg           Config
	store         storage.Store
	extractor     *memory.Extractor
	personalities *personality.Engine
	locks         *keyedMutex
	activity      *activityLog
	logger        *log.Logger

	mu              sync.RWMutex
	onMemoryUpdated []func(MemoryUpdate)
}

// New creates a Service. Every dependency is required.
func New(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if deps.Personalities == nil {
		return nil, errors.New("personality engine is required")
	}

	cfg = cfg.withDefaults()
	return &Service{
		cfg:           cfg,
		store:         deps.Store,
		extractor:     deps.Extractor,
		personalities: deps.Personalities,
		locks:         newKeyedMutex(),
		activity:      newActivityLog(cfg),
		logger:        cfg.Logger,
	}, nil
}

// Start launches the background activity workers.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.activity.start()
}

// Shutdown drains pending activity writes, bounded by ShutdownTimeout.
func (s *Service) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.activity.shutdown(ctx)
}

// OnMemoryUpdated registers fn to run after every stored analysis. Callbacks
// run synchronously on the request goroutine and must not block.
func (s *Service) OnMemoryUpdated(fn func(MemoryUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMemoryUpdated = append(s.onMemoryUpdated, fn)
}

// MaxMessages returns the transcript cap enforced by Analyze.
func (s *Service) MaxMessages() int {
	return s.extractor.MaxMessages()
}

// Analyze extracts memory from messages, merges it into the user's stored
// memory and persists the result. Calls for the same user are serialized
// across the whole read-extract-write sequence; nothing is written unless
// extraction succeeds.
func (s *Service) Analyze(ctx context.Context, userID string, messages []types.Message) (*AnalyzeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &types.InvalidInputError{Reason: "user_id is required"}
	}
	if len(messages) > s.extractor.MaxMessages() {
		return nil, &types.InputTooLargeError{Count: len(messages), Limit: s.extractor.MaxMessages()}
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.loadMemory(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.extractor.ExtractWithReport(ctx, memory.Request{UserID: userID, Messages: messages, Existing: existing})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.PutMemory(ctx, userID, res.Memory); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	s.recordEvent(userID, storage.EventMemoryExtraction, map[string]any{
		"messages":           len(messages),
		"attempts":           res.Attempts,
		"preferences":        res.Stats.PreferenceCount,
		"emotional_patterns": res.Stats.EmotionalPatternCount,
		"facts":              res.Stats.FactCount,
		"overall_confidence": res.Stats.OverallConfidence,
		"warnings":           len(res.Warnings),
	})
	s.publish(MemoryUpdate{
		UserID:    userID,
		Stats:     res.Stats,
		Attempts:  res.Attempts,
		UpdatedAt: res.Memory.LastUpdated,
	})

	warnings := res.Warnings
	if warnings == nil {
		warnings = []memory.Warning{}
	}
	return &AnalyzeResult{
		UserID:   userID,
		Memory:   res.Memory,
		Stats:    res.Stats,
		Warnings: warnings,
		Attempts: res.Attempts,
		Created:  existing == nil,
	}, nil
}

// Generate answers req.Message in the voice of req.Personality, using the
// user's stored memory and, when the request has no history, the user's
// most recent stored conversations.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	profile, err := s.personalities.Registry().Get(req.Personality)
	if err != nil {
		return nil, err
	}

	mem, err := s.optionalMemory(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	history := req.History
	if len(history) == 0 && req.UserID != "" {
		history = s.recentHistory(ctx, req.UserID)
	}

	reply, err := s.personalities.Generate(ctx, personality.Request{
		Message: req.Message,
		Profile: profile,
		Memory:  mem,
		History: history,
		Context: req.Context,
	})
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{UserID: req.UserID, Reply: reply}
	if req.UserID != "" {
		rec := &storage.ConversationRecord{
			ID:               storage.NewID(),
			UserID:           req.UserID,
			Message:          req.Message,
			Response:         reply.Text,
			Personality:      reply.Personality,
			MemoryReferences: reply.MemoryReferences,
			CreatedAt:        s.cfg.Now().UTC(),
		}
		result.ConversationID = rec.ID
		s.activity.submit(activityJob{name: "save_conversation", run: func(ctx context.Context) error {
			return s.store.SaveConversation(ctx, rec)
		}})
	}
	s.recordEvent(req.UserID, storage.EventResponseGeneration, map[string]any{
		"personality":    string(reply.Personality),
		"memory_refs":    len(reply.MemoryReferences),
		"response_chars": len([]rune(reply.Text)),
	})
	return result, nil
}

// Compare runs the comparison engine for req and logs every successful entry.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	base := personality.Neutral()
	if req.Base != "" {
		p, err := s.personalities.Registry().Get(req.Base)
		if err != nil {
			return nil, err
		}
		base = p
	}

	mem, err := s.optionalMemory(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	cmp, err := s.personalities.Compare(ctx, req.Message, mem, req.Personalities, base)
	if err != nil {
		return nil, err
	}

	result := &CompareResult{UserID: req.UserID, ComparisonID: storage.NewID(), Comparison: cmp}
	if req.UserID != "" {
		now := s.cfg.Now().UTC()
		for _, id := range lo.Keys(cmp.PersonalityResponses) {
			rec := &storage.PersonalityResponseRecord{
				ComparisonID: result.ComparisonID,
				UserID:       req.UserID,
				UserMessage:  req.Message,
				BaseResponse: cmp.BaseResponse,
				Personality:  id,
				Response:     cmp.PersonalityResponses[id],
				CreatedAt:    now,
			}
			s.activity.submit(activityJob{name: "save_personality_response", run: func(ctx context.Context) error {
				return s.store.SavePersonalityResponse(ctx, rec)
			}})
		}
	}
	s.recordEvent(req.UserID, storage.EventPersonalityComparison, map[string]any{
		"comparison_id": result.ComparisonID,
		"personalities": len(cmp.PersonalityResponses),
		"failures":      len(cmp.ComparisonAnalysis.Failures),
	})
	return result, nil
}

// Transform rewrites req.Original in the voice of req.Personality, grounded
// in the user's stored memory when a user id is given.
func (s *Service) Transform(ctx context.Context, req TransformRequest) (*TransformResult, error) {
	profile, err := s.personalities.Registry().Get(req.Personality)
	if err != nil {
		return nil, err
	}
	mem, err := s.optionalMemory(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	tr, err := s.personalities.Transform(ctx, personality.TransformRequest{
		Original: req.Original,
		Message:  req.Message,
		Profile:  profile,
		Memory:   mem,
		History:  req.History,
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(req.UserID, storage.EventResponseTransformation, map[string]any{
		"personality":    string(tr.Personality),
		"original_chars": tr.ToneAnalysis.OriginalLength,
		"response_chars": tr.ToneAnalysis.TransformedLength,
		"memory_refs":    len(tr.MemoryReferences),
	})
	return &TransformResult{UserID: req.UserID, Transformation: tr}, nil
}

// Memory returns the stored memory for userID, or storage.ErrNotFound.
func (s *Service) Memory(ctx context.Context, userID string) (*types.UserMemory, error) {
	return s.store.GetMemory(ctx, userID)
}

// UserStats returns the user's aggregated activity.
func (s *Service) UserStats(ctx context.Context, userID string) (*storage.UserStats, error) {
	return s.store.UserStats(ctx, userID)
}

// History returns the user's most recent conversations, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error) {
	return s.store.History(ctx, userID, limit)
}

// Personalities lists the registered profiles.
func (s *Service) Personalities() []types.PersonalityProfile {
	return s.personalities.Registry().List()
}

// Health pings storage and reports the LLM circuit state.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: "healthy", Storage: "ok", Breaker: "none"}
	if err := s.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Storage = err.Error()
	}
	if s.cfg.Breaker != nil {
		h.Breaker = s.cfg.Breaker.BreakerState()
		if h.Breaker == "open" {
			h.Status = "degraded"
		}
	}
	return h
}

func (s *Service) loadMemory(ctx context.Context, userID string) (*types.UserMemory, error) {
	mem, err := s.store.GetMemory(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	return mem, nil
}

// optionalMemory is loadMemory that tolerates an anonymous caller.
func (s *Service) optionalMemory(ctx context.Context, userID string) (*types.UserMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	return s.loadMemory(ctx, userID)
}

// recentHistory turns stored conversations into chronological turns.
// Failures only cost context, so they are logged and ignored.
func (s *Service) recentHistory(ctx context.Context, userID string) []types.Message {
	recs, err := s.store.History(ctx, userID, s.cfg.HistoryTurns)
	if err != nil {
		s.logger.Warn("history unavailable", "user_id", userID, "err", err)
		return nil
	}
	turns := make([]types.Message, 0, 2*len(recs))
	for _, rec := range lo.Reverse(recs) {
		turns = append(turns,
			types.Message{Role: "user", Content: rec.Message},
			types.Message{Role: "assistant", Content: rec.Response})
	}
	return turns
}

func (s *Service) recordEvent(userID, eventType string, payload map[string]any) {
	event := &storage.Event{
		ID:        storage.NewID(),
		UserID:    userID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.cfg.Now().UTC(),
	}
	s.activity.submit(activityJob{name: eventType, run: func(ctx context.Context) error {
		return s.store.RecordEvent(ctx, event)
	}})
}

func (s *Service) publish(update MemoryUpdate) {
	s.mu.RLock()
	callbacks := append([]func(MemoryUpdate){}, s.onMemoryUpdated...)
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn(update)
	}
}
