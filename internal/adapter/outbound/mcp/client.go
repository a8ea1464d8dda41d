// Package mcp connects to external MCP servers with the official Go SDK and
// exposes each connection as an outbound.ToolSession.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/upstream"
	"github.com/Sentinel-Gate/toolproxy/internal/port/outbound"
)

// maxListPages bounds tools/list pagination against a server that never
// stops returning cursors.
const maxListPages = 100

var _ outbound.ToolSession = (*Session)(nil)

// Session is a client session with one MCP server.
type Session struct {
	serverID string
	session  *gomcp.ClientSession
}

type dialConfig struct {
	name       string
	version    string
	httpClient *http.Client
	stderr     *os.File
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

// WithClientInfo sets the implementation name and version sent during
// initialization.
func WithClientInfo(name, version string) DialOption {
	return func(c *dialConfig) {
		c.name = name
		c.version = version
	}
}

// WithHTTPClient sets the HTTP client used for http servers.
func WithHTTPClient(client *http.Client) DialOption {
	return func(c *dialConfig) {
		c.httpClient = client
	}
}

// NewHTTPClient returns a client for http servers that gives up when
// response headers take longer than headerTimeout. It sets no overall
// timeout so long-lived event streams stay open. Zero disables the limit.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// WithStderr sets where stdio servers write their stderr. Defaults to
// os.Stderr; MCP servers log there.
func WithStderr(f *os.File) DialOption {
	return func(c *dialConfig) {
		c.stderr = f
	}
}

// Dial opens a session with u over the transport its type selects.
func Dial(ctx context.Context, u *upstream.Upstream, opts ...DialOption) (*Session, error) {
	cfg := dialConfig{name: "toolproxy", version: "dev", stderr: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	transport, err := newTransport(u, &cfg)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, u.ID, transport, opts...)
}

// Factory adapts Dial to a session factory for the client manager.
func Factory(opts ...DialOption) func(ctx context.Context, u *upstream.Upstream) (outbound.ToolSession, error) {
	return func(ctx context.Context, u *upstream.Upstream) (outbound.ToolSession, error) {
		return Dial(ctx, u, opts...)
	}
}

// Connect runs the MCP handshake over an existing transport.
func Connect(ctx context.Context, serverID string, transport gomcp.Transport, opts ...DialOption) (*Session, error) {
	cfg := dialConfig{name: "toolproxy", version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := gomcp.NewClient(&gomcp.Implementation{Name: cfg.name, Version: cfg.version}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", serverID, err)
	}
	return &Session{serverID: serverID, session: cs}, nil
}

func newTransport(u *upstream.Upstream, cfg *dialConfig) (gomcp.Transport, error) {
	switch u.Type {
	case upstream.UpstreamTypeStdio:
		cmd := exec.Command(u.Command, u.Args...)
		cmd.Env = mergeEnv(os.Environ(), u.Env)
		cmd.Stderr = cfg.stderr
		return &gomcp.CommandTransport{Command: cmd}, nil
	case upstream.UpstreamTypeHTTP:
		return &gomcp.StreamableClientTransport{Endpoint: u.URL, HTTPClient: cfg.httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported upstream type %q", u.Type)
	}
}

// mergeEnv appends extra variables in a stable order; later entries win.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// ListTools pages through tools/list.
func (s *Session) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	var (
		out    []tool.Descriptor
		cursor string
	)
	for page := 0; page < maxListPages; page++ {
		res, err := s.session.ListTools(ctx, &gomcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", s.serverID, err)
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			out = append(out, toDescriptor(t))
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
	return out, fmt.Errorf("list tools on %s: more than %d pages", s.serverID, maxListPages)
}

func toDescriptor(t *gomcp.Tool) tool.Descriptor {
	d := tool.Descriptor{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			d.InputSchema = raw
		}
	}
	return d
}

// CallTool invokes a tool. A result flagged IsError is returned as an error
// wrapping outbound.ErrToolReturnedError.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.session.CallTool(ctx, &gomcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if res.IsError {
		msg := joinText(res.Content)
		if msg == "" {
			return nil, outbound.ErrToolReturnedError
		}
		return nil, fmt.Errorf("%w: %s", outbound.ErrToolReturnedError, msg)
	}
	return resultContent(res), nil
}

// resultContent prefers structured content, then a single text block as a
// string, then the content blocks as a list.
func resultContent(res *gomcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	if len(res.Content) == 1 {
		if text, ok := res.Content[0].(*gomcp.TextContent); ok {
			return text.Text
		}
	}
	blocks := make([]map[string]any, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case *gomcp.TextContent:
			blocks = append(blocks, map[string]any{"type": "text", "text": v.Text})
		case *gomcp.ImageContent:
			blocks = append(blocks, map[string]any{"type": "image", "data": v.Data, "mimeType": v.MIMEType})
		case *gomcp.AudioContent:
			blocks = append(blocks, map[string]any{"type": "audio", "data": v.Data, "mimeType": v.MIMEType})
		case *gomcp.ResourceLink:
			blocks = append(blocks, map[string]any{"type": "resource_link", "uri": v.URI, "name": v.Name})
		default:
			if raw, err := json.Marshal(c); err == nil {
				blocks = append(blocks, map[string]any{"type": "raw", "data": json.RawMessage(raw)})
			}
		}
	}
	return blocks
}

func joinText(content []gomcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*gomcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close ends the session. For stdio servers this also stops the process.
func (s *Session) Close() error {
	if err := s.session.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close %s: %w", s.serverID, err)
	}
	return nil
}
