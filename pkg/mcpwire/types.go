// Package mcpwire models the MCP JSON-RPC 2.0 wire format: a typed
// envelope around opaque params/result payloads, per the design note in
// spec.md §9 ("Dynamic-typed JSON-RPC payloads → typed envelope plus
// opaque params"). Used by pkg/health to drive the initialize/
// notifications-initialized/tools-list handshake through the gateway's
// own proxy path. pkg/gateway does not use it: proxied traffic is
// forwarded without being parsed.
package mcpwire

import "encoding/json"

// ProtocolVersion is the MCP protocol version this gateway speaks when
// probing upstream servers (spec.md §6).
const ProtocolVersion = "2024-11-05"

// SessionHeader is the HTTP header (case-insensitive) carrying the
// upstream-assigned session identifier, echoed on the initialize
// response and required on every subsequent call in the same session.
const SessionHeader = "Mcp-Session-Id"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no id, no response
// expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// Implementation identifies a client or server, per MCP's
// clientInfo/serverInfo fields.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params object of an "initialize" request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the result object of a successful "initialize"
// response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// ToolDescriptor is one entry of a tools/list result, matching the wire
// shape of an MCP tool declaration.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ListToolsResult is the result object of a "tools/list" response.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// NewInitializeRequest builds the "initialize" JSON-RPC request sent as
// probe step 1 (spec.md §4.4).
func NewInitializeRequest(id any, clientName, clientVersion string) (Request, error) {
	params, err := json.Marshal(InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return Request{}, err
	}
	return Request{JSONRPC: "2.0", ID: id, Method: "initialize", Params: params}, nil
}

// NewInitializedNotification builds the "notifications/initialized"
// notification sent as probe step 2.
func NewInitializedNotification() Notification {
	return Notification{JSONRPC: "2.0", Method: "notifications/initialized"}
}

// NewToolsListRequest builds the "tools/list" request sent as probe
// step 3.
func NewToolsListRequest(id any) Request {
	return Request{JSONRPC: "2.0", ID: id, Method: "tools/list"}
}

// NewPingRequest builds a bare "ping" request, the method of the worked
// example in spec.md §8.
func NewPingRequest(id any) Request {
	return Request{JSONRPC: "2.0", ID: id, Method: "ping"}
}
