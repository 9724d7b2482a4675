package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/memory"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
	"github.com/scrypster/rapport/web/handlers"
)

// MockService is a mock implementation of handlers.Service for testing.
type MockService struct {
	mock.Mock
}

func (m *MockService) Analyze(ctx context.Context, userID string, messages []types.Message) (*engine.AnalyzeResult, error) {
	args := m.Called(ctx, userID, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.AnalyzeResult), args.Error(1)
}

func (m *MockService) Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.GenerateResult), args.Error(1)
}

func (m *MockService) Compare(ctx context.Context, req engine.CompareRequest) (*engine.CompareResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.CompareResult), args.Error(1)
}

func (m *MockService) Transform(ctx context.Context, req engine.TransformRequest) (*engine.TransformResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.TransformResult), args.Error(1)
}

func (m *MockService) Memory(ctx context.Context, userID string) (*types.UserMemory, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserMemory), args.Error(1)
}

func (m *MockService) UserStats(ctx context.Context, userID string) (*storage.UserStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UserStats), args.Error(1)
}

func (m *MockService) History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.ConversationRecord), args.Error(1)
}

func (m *MockService) Personalities() []types.PersonalityProfile {
	return m.Called().Get(0).([]types.PersonalityProfile)
}

func (m *MockService) Health(ctx context.Context) engine.Health {
	return m.Called(ctx).Get(0).(engine.Health)
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRouter(svc handlers.Service) http.Handler {
	h := handlers.NewAPIHandlers(svc, logging.Discard())
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Post("/api/analyze", h.Analyze)
	r.Post("/api/generate", h.Generate)
	r.Post("/api/compare", h.Compare)
	r.Post("/api/transform", h.Transform)
	r.Get("/api/users/{id}/memory", h.GetMemory)
	r.Get("/api/users/{id}/stats", h.GetStats)
	r.Get("/api/users/{id}/history", h.GetHistory)
	r.Get("/api/personalities", h.ListPersonalities)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAnalyze_Success(t *testing.T) {
	svc := new(MockService)
	msgs := []types.Message{{Role: "user", Content: "I love hiking"}}
	mem := types.NewUserMemory("u1", testNow)
	svc.On("Analyze", mock.Anything, "u1", msgs).Return(&engine.AnalyzeResult{
		UserID:   "u1",
		Memory:   mem,
		Stats:    memory.ComputeStats(mem),
		Warnings: []memory.Warning{},
		Attempts: 1,
		Created:  true,
	}, nil)

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{UserID: "u1", Messages: msgs})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, true, got["created"])
	svc.AssertExpectations(t)
}

func TestAnalyze_UserIDResolution(t *testing.T) {
	msgs := []types.Message{{Role: "user", Content: "hi"}}

	t.Run("header", func(t *testing.T) {
		svc := new(MockService)
		svc.On("Analyze", mock.Anything, "from-header", msgs).Return(&engine.AnalyzeResult{UserID: "from-header"}, nil)
		w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{Messages: msgs}, handlers.UserIDHeader, "from-header")
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("body wins over header", func(t *testing.T) {
		svc := new(MockService)
		svc.On("Analyze", mock.Anything, "from-body", msgs).Return(&engine.AnalyzeResult{UserID: "from-body"}, nil)
		w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{UserID: "from-body", Messages: msgs}, handlers.UserIDHeader, "from-header")
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("anonymous", func(t *testing.T) {
		svc := new(MockService)
		anon := mock.MatchedBy(func(id string) bool {
			return strings.HasPrefix(id, "anon_") && len(id) == len("anon_")+8
		})
		svc.On("Analyze", mock.Anything, anon, msgs).Return(&engine.AnalyzeResult{}, nil)
		w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{Messages: msgs})
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})
}

func TestAnalyze_BadRequests(t *testing.T) {
	svc := new(MockService)
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodPost, "/api/analyze", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, handlers.CodeInvalidInput, decodeError(t, w).Code)

	w = doRequest(t, router, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "messages are required", decodeError(t, w).Error)

	huge := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 1<<20) + `"}]}`
	w = doRequest(t, router, http.MethodPost, "/api/analyze", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	svc.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"too large", &types.InputTooLargeError{Count: 31, Limit: 30}, http.StatusBadRequest, handlers.CodeInputTooLarge},
		{"invalid input", &types.InvalidInputError{Reason: "empty message"}, http.StatusBadRequest, handlers.CodeInvalidInput},
		{"bad storage input", storage.ErrInvalidInput, http.StatusBadRequest, handlers.CodeInvalidInput},
		{"extraction failed", &types.ExtractionFailedError{Attempts: 3, Cause: errors.New("bad json")}, http.StatusBadGateway, handlers.CodeUpstream},
		{"gateway", &llm.GatewayError{Kind: llm.Fatal, Provider: "groq", Err: errors.New("401")}, http.StatusBadGateway, handlers.CodeUpstream},
		{"deadline", &types.ExtractionFailedError{Attempts: 1, Cause: context.DeadlineExceeded}, http.StatusGatewayTimeout, handlers.CodeTimeout},
		{"cancelled", context.Canceled, http.StatusRequestTimeout, handlers.CodeCancelled},
		{"other", errors.New("disk full"), http.StatusInternalServerError, handlers.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("Analyze", mock.Anything, "u1", mock.Anything).Return(nil, tt.err)

			w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{
				UserID:   "u1",
				Messages: []types.Message{{Role: "user", Content: "hi"}},
			})

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestServiceError_ExtractionDetails(t *testing.T) {
	svc := new(MockService)
	svc.On("Analyze", mock.Anything, "u1", mock.Anything).Return(nil, &types.ExtractionFailedError{
		Attempts: 3,
		LastRaw:  strings.Repeat("x", 2000),
		Cause:    errors.New("no JSON found"),
	})

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{
		UserID:   "u1",
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decodeError(t, w)
	require.NotNil(t, resp.Details)
	assert.Equal(t, float64(3), resp.Details["attempts"])
	raw, ok := resp.Details["last_raw"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, "xxxx"))
	assert.Less(t, len(raw), 600)

	svc = new(MockService)
	svc.On("Analyze", mock.Anything, "u1", mock.Anything).Return(nil, errors.New("disk full"))
	w = doRequest(t, newRouter(svc), http.MethodPost, "/api/analyze", handlers.AnalyzeRequest{
		UserID:   "u1",
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	assert.Nil(t, decodeError(t, w).Details)
}

func TestGenerate_Success(t *testing.T) {
	svc := new(MockService)
	svc.On("Generate", mock.Anything, engine.GenerateRequest{
		UserID:      "u1",
		Message:     "Any ideas?",
		Personality: types.PersonalityFriend,
		Context:     "weekend",
	}).Return(&engine.GenerateResult{
		UserID:         "u1",
		ConversationID: "c1",
		Reply: &personality.Reply{
			Text:             "Go hiking!",
			Personality:      types.PersonalityFriend,
			MemoryReferences: []string{"hiking"},
			Model:            "scripted",
		},
	}, nil)

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/generate", handlers.GenerateRequest{
		UserID:      "u1",
		Message:     "Any ideas?",
		Personality: types.PersonalityFriend,
		Context:     "weekend",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Go hiking!", resp.Response)
	assert.Equal(t, types.PersonalityFriend, resp.Personality)
	assert.Equal(t, []string{"hiking"}, resp.MemoryReferences)
	assert.Equal(t, "c1", resp.ConversationID)
	svc.AssertExpectations(t)
}

func TestGenerate_Validation(t *testing.T) {
	svc := new(MockService)
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodPost, "/api/generate", handlers.GenerateRequest{Message: "  ", Personality: types.PersonalityFriend})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/generate", handlers.GenerateRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "personality is required", decodeError(t, w).Error)

	svc.On("Generate", mock.Anything, mock.Anything).Return(nil, &types.UnknownPersonalityError{ID: "pirate"})
	w = doRequest(t, router, http.MethodPost, "/api/generate", handlers.GenerateRequest{Message: "hi", Personality: "pirate"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, handlers.CodeUnknownPersonality, decodeError(t, w).Code)

	svc.AssertNumberOfCalls(t, "Generate", 1)
}

func TestGenerate_FailureIsBadGateway(t *testing.T) {
	svc := new(MockService)
	svc.On("Generate", mock.Anything, mock.Anything).Return(nil, &types.GenerationFailedError{
		Personality: types.PersonalityMentor,
		Cause:       errors.New("empty response"),
	})

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/generate", handlers.GenerateRequest{Message: "hi", Personality: types.PersonalityMentor})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "mentor")
}

func TestCompare_Success(t *testing.T) {
	svc := new(MockService)
	ids := []types.PersonalityID{types.PersonalityFriend, types.PersonalityMentor}
	svc.On("Compare", mock.Anything, engine.CompareRequest{UserID: "u1", Message: "Help?", Personalities: ids}).Return(&engine.CompareResult{
		UserID:       "u1",
		ComparisonID: "cmp1",
		Comparison: &types.PersonalityComparison{
			UserMessage:  "Help?",
			BaseResponse: "Sure.",
			PersonalityResponses: map[types.PersonalityID]string{
				types.PersonalityFriend: "Totally!",
				types.PersonalityMentor: "Let us plan.",
			},
			Recommendations: []string{"Use Friend when the conversation is casual"},
		},
	}, nil)

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/compare", handlers.CompareRequest{UserID: "u1", Message: "Help?", Personalities: ids})

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "cmp1", got["comparison_id"])
	assert.Equal(t, "Sure.", got["base_response"])
	assert.Len(t, got["personality_responses"], 2)
	svc.AssertExpectations(t)
}

func TestTransform_Success(t *testing.T) {
	svc := new(MockService)
	history := []types.Message{{Role: "user", Content: "long week"}}
	svc.On("Transform", mock.Anything, engine.TransformRequest{
		UserID:      "u1",
		Original:    "Consider resting.",
		Message:     "Weekend plans?",
		Personality: types.PersonalityFriend,
		History:     history,
	}).Return(&engine.TransformResult{
		UserID: "u1",
		Transformation: &personality.Transformation{
			Original:    "Consider resting.",
			Transformed: "Kick back, you earned it!",
			Personality: types.PersonalityFriend,
			ToneAnalysis: personality.ToneShift{
				Raised:  []types.ToneDimension{types.ToneHumor},
				Lowered: []types.ToneDimension{types.ToneFormality},
			},
			Explanation:      "Rewritten as Witty Friend: more humor; less formality.",
			MemoryReferences: []string{},
			Model:            "scripted",
		},
	}, nil)

	w := doRequest(t, newRouter(svc), http.MethodPost, "/api/transform", handlers.TransformRequest{
		UserID:      "u1",
		Original:    "Consider resting.",
		Message:     "Weekend plans?",
		Personality: types.PersonalityFriend,
		History:     history,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "Kick back, you earned it!", got["transformed_response"])
	assert.Equal(t, "Consider resting.", got["original_response"])
	assert.Equal(t, "friend", got["personality"])
	tone, ok := got["tone_analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"humor"}, tone["raised"])
	svc.AssertExpectations(t)
}

func TestTransform_Validation(t *testing.T) {
	svc := new(MockService)
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodPost, "/api/transform", handlers.TransformRequest{Original: " ", Personality: types.PersonalityFriend})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "original_response is required", decodeError(t, w).Error)

	w = doRequest(t, router, http.MethodPost, "/api/transform", handlers.TransformRequest{Original: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "personality is required", decodeError(t, w).Error)

	svc.On("Transform", mock.Anything, mock.Anything).Return(nil, &types.UnknownPersonalityError{ID: "pirate"})
	w = doRequest(t, router, http.MethodPost, "/api/transform", handlers.TransformRequest{Original: "hi", Personality: "pirate"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, handlers.CodeUnknownPersonality, decodeError(t, w).Code)

	svc.AssertNumberOfCalls(t, "Transform", 1)
}

func TestGetMemory(t *testing.T) {
	svc := new(MockService)
	svc.On("Memory", mock.Anything, "u1").Return(types.NewUserMemory("u1", testNow), nil)
	svc.On("Memory", mock.Anything, "ghost").Return(nil, storage.ErrNotFound)
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodGet, "/api/users/u1/memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)

	w = doRequest(t, router, http.MethodGet, "/api/users/ghost/memory", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, handlers.CodeNotFound, decodeError(t, w).Code)
}

func TestGetStats(t *testing.T) {
	svc := new(MockService)
	svc.On("UserStats", mock.Anything, "u1").Return(&storage.UserStats{MemoryExtractions: 2, AverageConfidence: 0.82}, nil)

	w := doRequest(t, newRouter(svc), http.MethodGet, "/api/users/u1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats storage.UserStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.MemoryExtractions)
	assert.InDelta(t, 0.82, stats.AverageConfidence, 1e-9)
}

func TestGetHistory(t *testing.T) {
	svc := new(MockService)
	recs := []storage.ConversationRecord{{ID: "c1", UserID: "u1", Message: "hi", Response: "hello"}}
	svc.On("History", mock.Anything, "u1", 5).Return(recs, nil)
	svc.On("History", mock.Anything, "u1", 0).Return(recs, nil)
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodGet, "/api/users/u1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Limit)
	require.Len(t, resp.Conversations, 1)

	w = doRequest(t, router, http.MethodGet, "/api/users/u1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, storage.DefaultHistoryLimit, resp.Limit)

	w = doRequest(t, router, http.MethodGet, "/api/users/u1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPersonalities(t *testing.T) {
	svc := new(MockService)
	svc.On("Personalities").Return(personality.Default().List())

	w := doRequest(t, newRouter(svc), http.MethodGet, "/api/personalities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.PersonalitiesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Personalities, 4)
	assert.Equal(t, types.PersonalityMentor, resp.Personalities[0].ID)
	assert.Equal(t, "Wise Mentor", resp.Personalities[0].Name)
	assert.NotEmpty(t, resp.Personalities[0].Description)
}

func TestHealth(t *testing.T) {
	svc := new(MockService)
	svc.On("Health", mock.Anything).Return(engine.Health{Status: "healthy", Storage: "ok", Breaker: "closed"}).Once()
	svc.On("Health", mock.Anything).Return(engine.Health{Status: "degraded", Storage: "ok", Breaker: "open"}).Once()
	router := newRouter(svc)

	w := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"llm_circuit":"closed"`)

	w = doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
