package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// UserIDHeader carries the caller's user id when the body has none.
const UserIDHeader = "X-User-ID"

// Service is the application core the handlers drive.
type Service interface {
	Analyze(ctx context.Context, userID string, messages []types.Message) (*engine.AnalyzeResult, error)
	Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error)
	Compare(ctx context.Context, req engine.CompareRequest) (*engine.CompareResult, error)
	Transform(ctx context.Context, req engine.TransformRequest) (*engine.TransformResult, error)
	Memory(ctx context.Context, userID string) (*types.UserMemory, error)
	UserStats(ctx context.Context, userID string) (*storage.UserStats, error)
	History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error)
	Personalities() []types.PersonalityProfile
	Health(ctx context.Context) engine.Health
}

// APIHandlers serves the JSON API.
type APIHandlers struct {
	svc    Service
	logger *log.Logger
}

// NewAPIHandlers creates handlers backed by svc.
func NewAPIHandlers(svc Service, logger *log.Logger) *APIHandlers {
	return &APIHandlers{svc: svc, logger: logger}
}

// Analyze handles POST /api/analyze.
func (h *APIHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "messages are required", nil)
		return
	}

	res, err := h.svc.Analyze(r.Context(), resolveUserID(r, req.UserID), req.Messages)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Generate handles POST /api/generate.
func (h *APIHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "message is required", nil)
		return
	}
	if req.Personality == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "personality is required", nil)
		return
	}

	userID := resolveUserID(r, req.UserID)
	res, err := h.svc.Generate(r.Context(), engine.GenerateRequest{
		UserID:      userID,
		Message:     req.Message,
		Personality: req.Personality,
		History:     req.History,
		Context:     req.Context,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, GenerateResponse{
		UserID:           res.UserID,
		ConversationID:   res.ConversationID,
		Response:         res.Reply.Text,
		Personality:      res.Reply.Personality,
		MemoryReferences: res.Reply.MemoryReferences,
		Model:            res.Reply.Model,
	})
}

// Compare handles POST /api/compare.
func (h *APIHandlers) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "message is required", nil)
		return
	}

	res, err := h.svc.Compare(r.Context(), engine.CompareRequest{
		UserID:        resolveUserID(r, req.UserID),
		Message:       req.Message,
		Personalities: req.Personalities,
		Base:          req.Base,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CompareResponse{
		UserID:                res.UserID,
		ComparisonID:          res.ComparisonID,
		PersonalityComparison: res.Comparison,
	})
}

// Transform handles POST /api/transform.
func (h *APIHandlers) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Original) == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "original_response is required", nil)
		return
	}
	if req.Personality == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidInput, "personality is required", nil)
		return
	}

	res, err := h.svc.Transform(r.Context(), engine.TransformRequest{
		UserID:      resolveUserID(r, req.UserID),
		Original:    req.Original,
		Message:     req.Message,
		Personality: req.Personality,
		History:     req.History,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, TransformResponse{
		UserID:         res.UserID,
		Transformation: res.Transformation,
	})
}

// GetMemory handles GET /api/users/{id}/memory.
func (h *APIHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := h.svc.Memory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mem)
}

// GetStats handles GET /api/users/{id}/stats.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.UserStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetHistory handles GET /api/users/{id}/history?limit=N.
func (h *APIHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, CodeInvalidInput, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	recs, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{
		UserID:        userID,
		Limit:         storage.NormalizeLimit(limit),
		Conversations: recs,
	})
}

// ListPersonalities handles GET /api/personalities.
func (h *APIHandlers) ListPersonalities(w http.ResponseWriter, r *http.Request) {
	profiles := h.svc.Personalities()
	out := make([]PersonalityInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, PersonalityInfo{
			ID:          p.ID,
			Name:        p.DisplayName,
			Description: p.Description,
			Tone:        p.Tone,
			UseWhen:     p.UseWhen,
		})
	}
	respondJSON(w, http.StatusOK, PersonalitiesResponse{Personalities: out})
}

// Health handles GET /health. A degraded service answers 503.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func (h *APIHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, CodeInputTooLarge, "request body too large", nil)
		case errors.Is(err, io.EOF):
			respondError(w, http.StatusBadRequest, CodeInvalidInput, "request body is required", nil)
		default:
			respondError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON body", err)
		}
		return false
	}
	return true
}

func (h *APIHandlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Details: types.ErrorDetails(err)})
}

// classifyError maps service errors to an HTTP status and error code.
func classifyError(err error) (int, string) {
	var (
		tooLarge   *types.InputTooLargeError
		invalid    *types.InvalidInputError
		validation *types.ValidationError
		unknown    *types.UnknownPersonalityError
		extraction *types.ExtractionFailedError
		generation *types.GenerationFailedError
		gateway    *llm.GatewayError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusBadRequest, CodeInputTooLarge
	case errors.As(err, &unknown):
		return http.StatusBadRequest, CodeUnknownPersonality
	case errors.As(err, &invalid), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, CodeCancelled
	case errors.As(err, &extraction), errors.As(err, &generation), errors.As(err, &gateway), errors.As(err, &validation):
		return http.StatusBadGateway, CodeUpstream
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// resolveUserID picks the body user id, then the X-User-ID header, and
// otherwise mints an anonymous id.
func resolveUserID(r *http.Request, bodyID string) string {
	if id := strings.TrimSpace(bodyID); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		return id
	}
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		log.Error("failed to encode JSON response", "err", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, code, message string, err error) {
	errResp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		errResp.Details = map[string]any{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}

// NotFound answers unknown routes in the API error format.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}
