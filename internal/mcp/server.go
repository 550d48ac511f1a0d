package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/multiclube/internal/logging"
)

// ToolHandler runs a tool call. Failures the agent should read are
// returned as ErrorResult, not as Go errors.
type ToolHandler func(ctx context.Context, args json.RawMessage) ToolResult

// Notifier delivers server-initiated messages to the client of one
// connection.
type Notifier interface {
	Notify(method string, params any) error
}

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

// Server dispatches JSON-RPC requests to tool handlers. One Server is
// shared by every connection.
type Server struct {
	info         ServerInfo
	instructions string
	log          *logging.Logger

	mu    sync.RWMutex
	tools []registeredTool
}

// NewServer creates a server announcing itself as name/version.
func NewServer(name, version, instructions string, log *logging.Logger) *Server {
	return &Server{
		info:         ServerInfo{Name: name, Version: version},
		instructions: instructions,
		log:          log.Sub("mcp"),
	}
}

// AddTool registers a tool. A later registration with the same name
// replaces the earlier one.
func (s *Server) AddTool(t Tool, h ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tools {
		if s.tools[i].tool.Name == t.Name {
			s.tools[i] = registeredTool{tool: t, handler: h}
			return
		}
	}
	s.tools = append(s.tools, registeredTool{tool: t, handler: h})
}

// Tools returns the registered tool definitions in registration order.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, len(s.tools))
	for i, rt := range s.tools {
		out[i] = rt.tool
	}
	return out
}

func (s *Server) lookup(name string) (registeredTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.tools {
		if rt.tool.Name == name {
			return rt, true
		}
	}
	return registeredTool{}, false
}

// Handle processes one message. It returns nil for notifications. n may
// be nil when the connection cannot carry server-initiated messages.
func (s *Server) Handle(ctx context.Context, req JSONRPCRequest, n Notifier) *JSONRPCResponse {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request", nil)
	}

	if req.IsNotification() {
		s.log.Debug().Str("method", req.Method).Msg("notification received")
		return nil
	}

	start := time.Now()
	var resp *JSONRPCResponse
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(req)
	case "ping":
		resp = resultResponse(req.ID, struct{}{})
	case "tools/list":
		resp = resultResponse(req.ID, ListToolsResult{Tools: s.Tools()})
	case "tools/call":
		resp = s.handleCallTool(ctx, req, n)
	default:
		resp = errorResponse(req.ID, CodeMethodNotFound, "Method not found", fmt.Sprintf("Unknown method: %s", req.Method))
	}

	s.log.Debug().
		Str("method", req.Method).
		Bool("error", resp.Error != nil).
		Dur("duration", time.Since(start)).
		Msg("request handled")
	return resp
}

// HandleBytes decodes and handles a single raw message.
func (s *Server) HandleBytes(ctx context.Context, data []byte, n Notifier) *JSONRPCResponse {
	req, rpcErr := DecodeRequest(data)
	if rpcErr != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: rpcErr}
	}
	return s.Handle(ctx, req, n)
}

// DecodeRequest parses one JSON-RPC message.
func DecodeRequest(data []byte) (JSONRPCRequest, *RPCError) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return JSONRPCRequest{}, &RPCError{Code: CodeParseError, Message: "Parse error", Data: err.Error()}
	}
	return req, nil
}

// NegotiateVersion picks the protocol version answered to a client.
func NegotiateVersion(requested string) string {
	if slices.Contains(SupportedProtocolVersions, requested) {
		return requested
	}
	return DefaultProtocolVersion
}

func (s *Server) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
		}
	}

	s.log.Info().
		Str("client", params.ClientInfo.Name).
		Str("clientVersion", params.ClientInfo.Version).
		Str("protocolVersion", params.ProtocolVersion).
		Msg("client initializing")

	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: NegotiateVersion(params.ProtocolVersion),
		Capabilities:    Capabilities{Tools: map[string]any{}},
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	})
}

func (s *Server) handleCallTool(ctx context.Context, req JSONRPCRequest, n Notifier) *JSONRPCResponse {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	rt, ok := s.lookup(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, "Unknown tool", fmt.Sprintf("Unknown tool: %s", params.Name))
	}

	if n != nil && params.Meta != nil && len(params.Meta.ProgressToken) > 0 {
		ctx = withProgress(ctx, n, params.Meta.ProgressToken)
	}

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	s.log.Info().Str("tool", params.Name).Msg("tool called")
	result := s.invoke(ctx, rt, args)
	if result.IsError {
		s.log.Warn().Str("tool", params.Name).Msg("tool returned error")
	}
	return resultResponse(req.ID, result)
}

// invoke runs a handler, turning a panic into an error result.
func (s *Server) invoke(ctx context.Context, rt registeredTool, args json.RawMessage) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("tool", rt.tool.Name).Msg("tool panicked")
			result = ErrorResult(fmt.Sprintf("internal error running %s", rt.tool.Name))
		}
	}()
	return rt.handler(ctx, args)
}

func resultResponse(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// NewErrorResponse builds a JSON-RPC error response for transports.
func NewErrorResponse(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return errorResponse(id, code, message, nil)
}
