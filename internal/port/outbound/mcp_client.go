// Package outbound defines the outbound port interfaces for talking to
// external MCP servers.
package outbound

import (
	"context"
	"errors"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// ErrToolReturnedError is wrapped by CallTool when the server answered but
// flagged the result as an error.
var ErrToolReturnedError = errors.New("tool returned an error")

// ToolSession is an open session with one external MCP server.
// Adapters implement it per transport (stdio, streamable HTTP).
type ToolSession interface {
	// ListTools returns the server's full tool catalog.
	ListTools(ctx context.Context) ([]tool.Descriptor, error)

	// CallTool invokes a tool and returns its content. Implementations must
	// honor ctx cancellation.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)

	// Close terminates the session and releases its transport.
	Close() error
}
