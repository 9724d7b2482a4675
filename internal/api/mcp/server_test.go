package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rapport/internal/api/mcp"
	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// MockService is a testify mock of mcp.Service.
type MockService struct {
	mock.Mock
}

func (m *MockService) Analyze(ctx context.Context, userID string, messages []types.Message) (*engine.AnalyzeResult, error) {
	args := m.Called(ctx, userID, messages)
	res, _ := args.Get(0).(*engine.AnalyzeResult)
	return res, args.Error(1)
}

func (m *MockService) Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*engine.GenerateResult)
	return res, args.Error(1)
}

func (m *MockService) Compare(ctx context.Context, req engine.CompareRequest) (*engine.CompareResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*engine.CompareResult)
	return res, args.Error(1)
}

func (m *MockService) Transform(ctx context.Context, req engine.TransformRequest) (*engine.TransformResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*engine.TransformResult)
	return res, args.Error(1)
}

func (m *MockService) Memory(ctx context.Context, userID string) (*types.UserMemory, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*types.UserMemory)
	return res, args.Error(1)
}

func (m *MockService) UserStats(ctx context.Context, userID string) (*storage.UserStats, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*storage.UserStats)
	return res, args.Error(1)
}

func (m *MockService) History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error) {
	args := m.Called(ctx, userID, limit)
	res, _ := args.Get(0).([]storage.ConversationRecord)
	return res, args.Error(1)
}

func (m *MockService) Personalities() []types.PersonalityProfile {
	return personality.Default().List()
}

func newServer(svc *MockService) *mcp.Server {
	return mcp.NewServer(svc, mcp.WithLogger(logging.Discard()), mcp.WithVersion("1.2.3"))
}

type rpcResponse struct {
	Result json.RawMessage   `json:"result"`
	Error  *mcp.JSONRPCError `json:"error"`
	ID     interface{}       `json:"id"`
}

func call(t *testing.T, srv *mcp.Server, method string, params interface{}) rpcResponse {
	t.Helper()
	req, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": method, "params": params})
	require.NoError(t, err)
	raw, err := srv.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

// callTool invokes a tool through tools/call and returns the text content.
func callTool(t *testing.T, srv *mcp.Server, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	resp := call(t, srv, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	require.Nil(t, resp.Error)
	var result mcp.MCPToolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text, result.IsError
}

func TestHandleRequest_Protocol(t *testing.T) {
	srv := newServer(&MockService{})

	resp := call(t, srv, "initialize", map[string]interface{}{"protocolVersion": mcp.ProtocolVersion})
	require.Nil(t, resp.Error)
	var init mcp.MCPInitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, "rapport", init.ServerInfo.Name)
	assert.Equal(t, "1.2.3", init.ServerInfo.Version)
	assert.NotNil(t, init.Capabilities.Tools)
	assert.EqualValues(t, 7, resp.ID)

	resp = call(t, srv, "tools/list", nil)
	var list mcp.MCPToolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.Equal(t, []string{
		"analyze_conversation", "generate_response", "compare_personalities", "transform_response",
		"get_user_memory", "get_user_stats", "get_conversation_history", "list_personalities",
	}, names)

	resp = call(t, srv, "no_such_method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleRequest_Malformed(t *testing.T) {
	srv := newServer(&MockService{})

	raw, err := srv.HandleRequest(context.Background(), []byte(`{not json`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprint(mcp.ErrCodeParseError))

	raw, err = srv.HandleRequest(context.Background(), []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprint(mcp.ErrCodeInvalidRequest))
}

func TestAnalyzeConversation(t *testing.T) {
	svc := &MockService{}
	msgs := []types.Message{{Role: "user", Content: "I love hiking"}}
	svc.On("Analyze", mock.Anything, "u1", msgs).Return(&engine.AnalyzeResult{UserID: "u1", Created: true, Warnings: nil}, nil)
	srv := newServer(svc)

	text, isErr := callTool(t, srv, "analyze_conversation", map[string]interface{}{
		"user_id":  "u1",
		"messages": []map[string]string{{"role": "user", "content": "I love hiking"}},
	})
	assert.False(t, isErr, text)
	assert.Contains(t, text, `"created":true`)
	svc.AssertExpectations(t)
}

func TestAnalyzeConversation_Validation(t *testing.T) {
	svc := &MockService{}
	srv := newServer(svc)

	text, isErr := callTool(t, srv, "analyze_conversation", map[string]interface{}{"messages": []interface{}{}})
	assert.True(t, isErr)
	assert.Contains(t, text, "user_id is required")

	resp := call(t, srv, "analyze_conversation", map[string]interface{}{"user_id": "u1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "messages are required")

	resp = call(t, srv, "analyze_conversation", map[string]interface{}{"user_id": 5})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)
	svc.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateResponse_DefaultsToFriend(t *testing.T) {
	svc := &MockService{}
	svc.On("Generate", mock.Anything, engine.GenerateRequest{
		UserID:      "u1",
		Message:     "Any ideas?",
		Personality: types.PersonalityFriend,
	}).Return(&engine.GenerateResult{
		UserID: "u1",
		Reply:  &personality.Reply{Text: "Go hiking!", Personality: types.PersonalityFriend},
	}, nil)
	srv := newServer(svc)

	text, isErr := callTool(t, srv, "generate_response", map[string]interface{}{"user_id": "u1", "message": "Any ideas?"})
	assert.False(t, isErr, text)
	assert.Contains(t, text, "Go hiking!")
	svc.AssertExpectations(t)
}

func TestGenerateResponse_UpstreamError(t *testing.T) {
	svc := &MockService{}
	svc.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &types.GenerationFailedError{Personality: types.PersonalityMentor, Cause: fmt.Errorf("boom")})
	srv := newServer(svc)

	resp := call(t, srv, "generate_response", map[string]interface{}{"message": "hi", "personality": "mentor"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeServerError, resp.Error.Code)

	resp = call(t, srv, "generate_response", map[string]interface{}{"message": "  "})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)
}

func TestComparePersonalities(t *testing.T) {
	svc := &MockService{}
	svc.On("Compare", mock.Anything, engine.CompareRequest{
		Message:       "How do I start?",
		Personalities: []types.PersonalityID{types.PersonalityMentor, types.PersonalityFriend},
		Base:          types.PersonalityProfessional,
	}).Return(&engine.CompareResult{ComparisonID: "cmp-1", Comparison: &types.PersonalityComparison{BaseResponse: "Start small."}}, nil)
	srv := newServer(svc)

	text, isErr := callTool(t, srv, "compare_personalities", map[string]interface{}{
		"message":       "How do I start?",
		"personalities": []string{"mentor", "friend"},
		"base":          "professional",
	})
	assert.False(t, isErr, text)
	assert.Contains(t, text, "cmp-1")
	svc.AssertExpectations(t)
}

func TestTransformResponse(t *testing.T) {
	svc := &MockService{}
	svc.On("Transform", mock.Anything, engine.TransformRequest{
		UserID:      "u1",
		Original:    "Consider resting.",
		Personality: types.PersonalityTherapist,
	}).Return(&engine.TransformResult{
		UserID: "u1",
		Transformation: &personality.Transformation{
			Original:    "Consider resting.",
			Transformed: "It sounds like rest would really help you.",
			Personality: types.PersonalityTherapist,
		},
	}, nil)
	srv := newServer(svc)

	text, isErr := callTool(t, srv, "transform_response", map[string]interface{}{
		"user_id":           "u1",
		"original_response": "Consider resting.",
		"personality":       "therapist",
	})
	assert.False(t, isErr, text)
	assert.Contains(t, text, "It sounds like rest would really help you.")
	svc.AssertExpectations(t)

	resp := call(t, srv, "transform_response", map[string]interface{}{"personality": "therapist"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)

	resp = call(t, srv, "transform_response", map[string]interface{}{"original_response": "hi"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, resp.Error.Code)
	svc.AssertNumberOfCalls(t, "Transform", 1)
}

func TestExtractionFailure_CarriesDiagnostics(t *testing.T) {
	svc := &MockService{}
	svc.On("Analyze", mock.Anything, "u1", mock.Anything).Return(nil, &types.ExtractionFailedError{
		Attempts: 3,
		LastRaw:  "I cannot produce JSON today",
		Cause:    fmt.Errorf("no JSON found"),
	})
	srv := newServer(svc)
	args := map[string]interface{}{
		"user_id":  "u1",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}

	resp := call(t, srv, "analyze_conversation", args)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeServerError, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["attempts"])
	assert.Equal(t, "I cannot produce JSON today", data["last_raw"])

	text, isErr := callTool(t, srv, "analyze_conversation", args)
	assert.True(t, isErr)
	assert.Contains(t, text, "after 3 attempt(s)")
	assert.Contains(t, text, `"last_raw":"I cannot produce JSON today"`)
}

func TestGetUserMemory(t *testing.T) {
	svc := &MockService{}
	svc.On("Memory", mock.Anything, "u1").Return(&types.UserMemory{UserID: "u1", MessageCountAnalyzed: 4}, nil)
	svc.On("Memory", mock.Anything, "ghost").Return(nil, storage.ErrNotFound)
	srv := newServer(svc)

	text, _ := callTool(t, srv, "get_user_memory", map[string]interface{}{"user_id": "u1"})
	var found mcp.GetUserMemoryResult
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	assert.True(t, found.Found)
	assert.Equal(t, 4, found.Memory.MessageCountAnalyzed)

	text, isErr := callTool(t, srv, "get_user_memory", map[string]interface{}{"user_id": "ghost"})
	assert.False(t, isErr)
	assert.JSONEq(t, `{"found":false}`, text)
}

func TestGetUserStatsAndHistory(t *testing.T) {
	svc := &MockService{}
	svc.On("UserStats", mock.Anything, "u1").Return(&storage.UserStats{Conversations: 2}, nil)
	svc.On("History", mock.Anything, "u1", 0).Return(nil, nil)
	srv := newServer(svc)

	text, _ := callTool(t, srv, "get_user_stats", map[string]interface{}{"user_id": "u1"})
	assert.Contains(t, text, `"total_conversations":2`)

	text, _ = callTool(t, srv, "get_conversation_history", map[string]interface{}{"user_id": "u1"})
	var hist mcp.HistoryResult
	require.NoError(t, json.Unmarshal([]byte(text), &hist))
	assert.Equal(t, storage.DefaultHistoryLimit, hist.Limit)
	assert.NotNil(t, hist.Conversations)

	text, isErr := callTool(t, srv, "get_conversation_history", map[string]interface{}{"user_id": "u1", "limit": -1})
	assert.True(t, isErr)
	assert.Contains(t, text, "limit")
	svc.AssertExpectations(t)
}

func TestListPersonalities(t *testing.T) {
	srv := newServer(&MockService{})

	text, isErr := callTool(t, srv, "list_personalities", nil)
	assert.False(t, isErr)
	assert.True(t, strings.Contains(text, "Wise Mentor"))
	assert.Len(t, srv.ListPersonalities(), 4)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv := newServer(&MockService{})
	text, isErr := callTool(t, srv, "delete_everything", nil)
	assert.True(t, isErr)
	assert.Equal(t, "unknown tool: delete_everything", text)
}

func TestStdioTransport(t *testing.T) {
	srv := newServer(&MockService{})
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n"))
	var out bytes.Buffer

	tr := mcp.NewStdioTransport(srv, in, &out, logging.Discard())
	require.NoError(t, tr.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "notifications get no response")
	assert.Contains(t, lines[0], `"id":1`)
	assert.Contains(t, lines[1], `"analyze_conversation"`)
}

func TestStdioTransport_Cancelled(t *testing.T) {
	srv := newServer(&MockService{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()
	err := mcp.NewStdioTransport(srv, r, &bytes.Buffer{}, logging.Discard()).Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
