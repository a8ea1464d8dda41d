// Package stdio serves the proxy to MCP clients over stdin/stdout. Every tool
// of every connected server is re-advertised under a qualified name and each
// call is routed through the orchestrator, so clients get the same access
// checks, deadlines and audit as the HTTP API.
package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/upstream"
	"github.com/Sentinel-Gate/toolproxy/internal/port/inbound"
	"github.com/Sentinel-Gate/toolproxy/internal/service"
)

// Separator joins a server ID and a tool name into the advertised name.
const Separator = "__"

var _ inbound.Transport = (*StdioTransport)(nil)

// ServerLister reports the configured servers.
type ServerLister interface {
	Status() []service.ServerStatus
}

// StdioTransport is the inbound adapter that exposes the proxy as an MCP
// server.
type StdioTransport struct {
	proxy     inbound.ToolProxy
	servers   ServerLister
	opts      proxy.CallOptions
	logger    *slog.Logger
	name      string
	version   string
	transport gomcp.Transport
}

// Option configures a StdioTransport.
type Option func(*StdioTransport)

// WithCallOptions sets the options applied to every forwarded call.
func WithCallOptions(opts proxy.CallOptions) Option {
	return func(t *StdioTransport) {
		t.opts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *StdioTransport) {
		t.logger = logger
	}
}

// WithImplementation sets the name and version reported during
// initialization.
func WithImplementation(name, version string) Option {
	return func(t *StdioTransport) {
		t.name = name
		t.version = version
	}
}

// WithTransport replaces stdin/stdout, mainly for tests.
func WithTransport(transport gomcp.Transport) Option {
	return func(t *StdioTransport) {
		t.transport = transport
	}
}

// NewStdioTransport creates the adapter.
func NewStdioTransport(p inbound.ToolProxy, servers ServerLister, opts ...Option) *StdioTransport {
	t := &StdioTransport{
		proxy:     p,
		servers:   servers,
		logger:    slog.Default(),
		name:      "toolproxy",
		version:   "dev",
		transport: &gomcp.StdioTransport{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start builds the MCP server from the current catalogs and serves it until
// ctx is cancelled or the client disconnects.
func (t *StdioTransport) Start(ctx context.Context) error {
	server := t.NewServer()
	err := server.Run(ctx, t.transport)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// Close is a no-op; the session ends with the Start context.
func (t *StdioTransport) Close() error {
	return nil
}

// NewServer returns an MCP server advertising every connected server's
// catalog.
func (t *StdioTransport) NewServer() *gomcp.Server {
	server := gomcp.NewServer(&gomcp.Implementation{Name: t.name, Version: t.version}, nil)

	var count int
	for _, s := range t.servers.Status() {
		if s.Status != upstream.StatusConnected {
			continue
		}
		for _, d := range t.proxy.GetServerTools(s.ID) {
			server.AddTool(t.advertise(s.ID, d), t.handler(s.ID, d.Name))
			count++
		}
	}
	t.logger.Info("stdio server ready", "tools", count)
	return server
}

// QualifiedName is the name a server's tool is advertised under.
func QualifiedName(serverID, toolName string) string {
	return serverID + Separator + toolName
}

func (t *StdioTransport) advertise(serverID string, d tool.Descriptor) *gomcp.Tool {
	description := "[" + serverID + "]"
	if d.Description != "" {
		description += " " + d.Description
	}
	return &gomcp.Tool{
		Name:        QualifiedName(serverID, d.Name),
		Description: description,
		InputSchema: inputSchema(d.InputSchema),
	}
}

// inputSchema passes the advertised schema through when it describes an
// object and falls back to an open object schema otherwise.
func inputSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &schema) == nil && schema["type"] == "object" {
		return schema
	}
	return map[string]any{"type": "object"}
}

func (t *StdioTransport) handler(serverID, toolName string) gomcp.ToolHandler {
	return func(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, err := parseArguments(req)
		if err != nil {
			return errorResult(err.Error()), nil
		}

		result := t.proxy.ExecuteWithProxy(ctx, serverID, toolName, args, t.opts)
		if !result.Success {
			t.logger.Debug("forwarded call failed",
				"server", serverID,
				"tool", toolName,
				"request_id", result.RequestID,
				"kind", result.Kind,
			)
			return errorResult(fmt.Sprintf("%s: %s", result.Kind, result.Error)), nil
		}
		return contentResult(result.Content)
	}
}

func parseArguments(req *gomcp.CallToolRequest) (map[string]any, error) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// contentResult renders string content as text and anything else as JSON
// text.
func contentResult(content any) (*gomcp.CallToolResult, error) {
	if text, ok := content.(string); ok {
		return textResult(text, false), nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode tool content: %w", err)
	}
	return textResult(string(raw), false), nil
}

func errorResult(message string) *gomcp.CallToolResult {
	return textResult(message, true)
}

func textResult(text string, isError bool) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: text}},
		IsError: isError,
	}
}
