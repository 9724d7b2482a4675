// Package mcp exposes rapport as Model Context Protocol tools over JSON-RPC
// 2.0, so assistants can analyze conversations and ask for personality
// replies directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// Service is the subset of engine.Service the MCP server calls.
type Service interface {
	Analyze(ctx context.Context, userID string, messages []types.Message) (*engine.AnalyzeResult, error)
	Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error)
	Compare(ctx context.Context, req engine.CompareRequest) (*engine.CompareResult, error)
	Transform(ctx context.Context, req engine.TransformRequest) (*engine.TransformResult, error)
	Memory(ctx context.Context, userID string) (*types.UserMemory, error)
	UserStats(ctx context.Context, userID string) (*storage.UserStats, error)
	History(ctx context.Context, userID string, limit int) ([]storage.ConversationRecord, error)
	Personalities() []types.PersonalityProfile
}

// Server implements the Model Context Protocol for rapport.
type Server struct {
	svc     Service
	logger  *log.Logger
	version string
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the diagnostic logger. It must not write to stdout.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a new MCP server over svc.
func NewServer(svc Service, opts ...ServerOption) *Server {
	s := &Server{svc: svc, logger: log.Default(), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type handlerFunc func(s *Server, ctx context.Context, params interface{}) (interface{}, error)

// tools maps tool names to their handlers. Every tool is also callable as a
// native JSON-RPC method of the same name.
var tools = map[string]handlerFunc{
	"analyze_conversation":     (*Server).handleAnalyzeConversation,
	"generate_response":        (*Server).handleGenerateResponse,
	"compare_personalities":    (*Server).handleComparePersonalities,
	"transform_response":       (*Server).handleTransformResponse,
	"get_user_memory":          (*Server).handleGetUserMemory,
	"get_user_stats":           (*Server).handleGetUserStats,
	"get_conversation_history": (*Server).handleGetConversationHistory,
	"list_personalities":       (*Server).handleListPersonalities,
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// Notifications (requests without an id) still get a response frame; the
// transport decides whether to write it.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result = s.initializeResult()
	case "initialized", "notifications/initialized":
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: buildToolsList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		handler, ok := tools[req.Method]
		if !ok {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
		result, err = handler(s, ctx, req.Params)
	}

	if err != nil {
		var data interface{}
		if details := types.ErrorDetails(err); details != nil {
			data = details
		}
		return s.errorResponse(req.ID, errorCode(err), err.Error(), data)
	}
	return s.successResponse(req.ID, result)
}

// AnalyzeConversation extracts memory from messages and merges it into the
// user's stored memory.
func (s *Server) AnalyzeConversation(ctx context.Context, args AnalyzeConversationArgs) (*engine.AnalyzeResult, error) {
	if strings.TrimSpace(args.UserID) == "" {
		return nil, &types.InvalidInputError{Reason: "user_id is required"}
	}
	if len(args.Messages) == 0 {
		return nil, &types.InvalidInputError{Reason: "messages are required"}
	}
	return s.svc.Analyze(ctx, args.UserID, args.Messages)
}

// GenerateResponse answers a message in one personality's voice.
func (s *Server) GenerateResponse(ctx context.Context, args GenerateResponseArgs) (*engine.GenerateResult, error) {
	if strings.TrimSpace(args.Message) == "" {
		return nil, &types.InvalidInputError{Reason: "message is required"}
	}
	if args.Personality == "" {
		args.Personality = types.PersonalityFriend
	}
	return s.svc.Generate(ctx, engine.GenerateRequest{
		UserID:      args.UserID,
		Message:     args.Message,
		Personality: args.Personality,
		History:     args.ConversationHistory,
		Context:     args.Context,
	})
}

// ComparePersonalities answers a message in several voices plus a base.
func (s *Server) ComparePersonalities(ctx context.Context, args ComparePersonalitiesArgs) (*engine.CompareResult, error) {
	if strings.TrimSpace(args.Message) == "" {
		return nil, &types.InvalidInputError{Reason: "message is required"}
	}
	return s.svc.Compare(ctx, engine.CompareRequest{
		UserID:        args.UserID,
		Message:       args.Message,
		Personalities: args.Personalities,
		Base:          args.Base,
	})
}

// TransformResponse rewrites an existing reply in one personality's voice.
func (s *Server) TransformResponse(ctx context.Context, args TransformResponseArgs) (*engine.TransformResult, error) {
	if strings.TrimSpace(args.OriginalResponse) == "" {
		return nil, &types.InvalidInputError{Reason: "original_response is required"}
	}
	if args.Personality == "" {
		return nil, &types.InvalidInputError{Reason: "personality is required"}
	}
	return s.svc.Transform(ctx, engine.TransformRequest{
		UserID:      args.UserID,
		Original:    args.OriginalResponse,
		Message:     args.Message,
		Personality: args.Personality,
		History:     args.ConversationHistory,
	})
}

// GetUserMemory returns the stored memory, reporting Found=false instead of
// an error for unknown users.
func (s *Server) GetUserMemory(ctx context.Context, args UserArgs) (*GetUserMemoryResult, error) {
	if strings.TrimSpace(args.UserID) == "" {
		return nil, &types.InvalidInputError{Reason: "user_id is required"}
	}
	mem, err := s.svc.Memory(ctx, args.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return &GetUserMemoryResult{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &GetUserMemoryResult{Found: true, Memory: mem}, nil
}

// GetUserStats returns activity counters for a user.
func (s *Server) GetUserStats(ctx context.Context, args UserArgs) (*storage.UserStats, error) {
	if strings.TrimSpace(args.UserID) == "" {
		return nil, &types.InvalidInputError{Reason: "user_id is required"}
	}
	return s.svc.UserStats(ctx, args.UserID)
}

// GetConversationHistory returns a user's recent conversations.
func (s *Server) GetConversationHistory(ctx context.Context, args HistoryArgs) (*HistoryResult, error) {
	if strings.TrimSpace(args.UserID) == "" {
		return nil, &types.InvalidInputError{Reason: "user_id is required"}
	}
	if args.Limit < 0 {
		return nil, &types.InvalidInputError{Reason: "limit must not be negative"}
	}
	records, err := s.svc.History(ctx, args.UserID, args.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []storage.ConversationRecord{}
	}
	return &HistoryResult{
		UserID:        args.UserID,
		Limit:         storage.NormalizeLimit(args.Limit),
		Conversations: records,
	}, nil
}

// ListPersonalities returns the registry in display order.
func (s *Server) ListPersonalities() []PersonalitySummary {
	profiles := s.svc.Personalities()
	out := make([]PersonalitySummary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, PersonalitySummary{
			ID:          p.ID,
			Name:        p.DisplayName,
			Description: p.Description,
			UseWhen:     p.UseWhen,
		})
	}
	return out
}

func (s *Server) handleAnalyzeConversation(ctx context.Context, params interface{}) (interface{}, error) {
	var args AnalyzeConversationArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.AnalyzeConversation(ctx, args)
}

func (s *Server) handleGenerateResponse(ctx context.Context, params interface{}) (interface{}, error) {
	var args GenerateResponseArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GenerateResponse(ctx, args)
}

func (s *Server) handleComparePersonalities(ctx context.Context, params interface{}) (interface{}, error) {
	var args ComparePersonalitiesArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.ComparePersonalities(ctx, args)
}

func (s *Server) handleTransformResponse(ctx context.Context, params interface{}) (interface{}, error) {
	var args TransformResponseArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.TransformResponse(ctx, args)
}

func (s *Server) handleGetUserMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args UserArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetUserMemory(ctx, args)
}

func (s *Server) handleGetUserStats(ctx context.Context, params interface{}) (interface{}, error) {
	var args UserArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetUserStats(ctx, args)
}

func (s *Server) handleGetConversationHistory(ctx context.Context, params interface{}) (interface{}, error) {
	var args HistoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetConversationHistory(ctx, args)
}

func (s *Server) handleListPersonalities(ctx context.Context, params interface{}) (interface{}, error) {
	return map[string]interface{}{"personalities": s.ListPersonalities()}, nil
}

func (s *Server) initializeResult() MCPInitializeResult {
	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: "rapport", Version: s.version},
	}
}

// handleToolsCall dispatches a tools/call request and wraps the result in
// the MCP content envelope. Tool failures are reported in-band with IsError.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	handler, ok := tools[p.Name]
	if !ok {
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	var args interface{} = p.Arguments
	if p.Arguments == nil {
		args = map[string]interface{}{}
	}
	result, err := handler(s, ctx, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", p.Name, "err", err)
		return toolError(toolErrorText(err)), nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

// toolErrorText is err's message, followed by its diagnostics as JSON when
// it carries any.
func toolErrorText(err error) string {
	details := types.ErrorDetails(err)
	if details == nil {
		return err.Error()
	}
	data, mErr := json.Marshal(details)
	if mErr != nil {
		return err.Error()
	}
	return err.Error() + "\n" + string(data)
}

// errorCode maps caller mistakes to InvalidParams and everything else to
// ServerError.
func errorCode(err error) int {
	var (
		invalid  *types.InvalidInputError
		tooLarge *types.InputTooLargeError
		unknown  *types.UnknownPersonalityError
		params   *paramsError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &tooLarge), errors.As(err, &unknown), errors.As(err, &params):
		return ErrCodeInvalidParams
	default:
		return ErrCodeServerError
	}
}

// paramsError reports params that do not decode into the tool's arguments.
type paramsError struct{ err error }

func (e *paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

// unmarshalParams decodes JSON-RPC parameters into a typed struct.
func unmarshalParams(params interface{}, dest interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return &paramsError{err}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &paramsError{err}
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
