// Package inbound defines the inbound port interfaces for the proxy core.
// Inbound adapters (stdio, HTTP) call these interfaces.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// ToolProxy is the orchestrator surface inbound adapters serve.
// *proxy.Orchestrator implements it.
type ToolProxy interface {
	ExecuteWithProxy(ctx context.Context, serverID, toolName string, args map[string]any, opts proxy.CallOptions) proxy.ToolCallResult
	ExecuteSequence(ctx context.Context, calls []proxy.Call, opts proxy.CallOptions) []proxy.ToolCallResult
	AssessToolRisk(profile security.Profile, d tool.Descriptor) tool.Assessment
	GetAvailableTools() []tool.Descriptor
	GetServerTools(serverID string) []tool.Descriptor
}

// Transport is a front end that accepts calls from clients.
type Transport interface {
	// Start serves until ctx is cancelled or an error occurs.
	// Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close releases the transport's resources.
	Close() error
}

var _ ToolProxy = (*proxy.Orchestrator)(nil)
