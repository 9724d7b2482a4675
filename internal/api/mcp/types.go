package mcp

import (
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/pkg/types"
)

// AnalyzeConversationArgs contains arguments for analyze_conversation.
type AnalyzeConversationArgs struct {
	UserID   string          `json:"user_id"`
	Messages []types.Message `json:"messages"`
}

// GenerateResponseArgs contains arguments for generate_response.
type GenerateResponseArgs struct {
	UserID              string              `json:"user_id,omitempty"`
	Message             string              `json:"message"`
	Personality         types.PersonalityID `json:"personality"`
	ConversationHistory []types.Message     `json:"conversation_history,omitempty"`
	Context             string              `json:"context,omitempty"`
}

// ComparePersonalitiesArgs contains arguments for compare_personalities.
type ComparePersonalitiesArgs struct {
	UserID        string                `json:"user_id,omitempty"`
	Message       string                `json:"message"`
	Personalities []types.PersonalityID `json:"personalities,omitempty"`
	Base          types.PersonalityID   `json:"base,omitempty"`
}

// TransformResponseArgs contains arguments for transform_response.
type TransformResponseArgs struct {
	UserID              string              `json:"user_id,omitempty"`
	OriginalResponse    string              `json:"original_response"`
	Message             string              `json:"message,omitempty"`
	Personality         types.PersonalityID `json:"personality"`
	ConversationHistory []types.Message     `json:"conversation_history,omitempty"`
}

// UserArgs names a user for the memory and stats tools.
type UserArgs struct {
	UserID string `json:"user_id"`
}

// HistoryArgs contains arguments for get_conversation_history.
type HistoryArgs struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// GetUserMemoryResult is the result of get_user_memory. Found is false for
// users with no stored memory.
type GetUserMemoryResult struct {
	Found  bool              `json:"found"`
	Memory *types.UserMemory `json:"memory,omitempty"`
}

// HistoryResult is the result of get_conversation_history.
type HistoryResult struct {
	UserID        string                       `json:"user_id"`
	Limit         int                          `json:"limit"`
	Conversations []storage.ConversationRecord `json:"conversations"`
}

// PersonalitySummary is one entry of list_personalities.
type PersonalitySummary struct {
	ID          types.PersonalityID `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	UseWhen     string              `json:"use_when"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"` // string, number, or null
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeServerError    = -32000
)

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
