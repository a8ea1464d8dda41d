package proxy

import (
	"context"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// ClientManager owns connections to external servers and their catalogs.
// The orchestrator only reads from it and delegates invocation to it.
type ClientManager interface {
	// GetConnectedServer returns the server with the given ID, if connected.
	GetConnectedServer(serverID string) (*ConnectedServer, bool)
	// GetAllTools returns the catalogs of every connected server.
	GetAllTools() []tool.Descriptor
	// GetServerTools returns one server's catalog.
	GetServerTools(serverID string) []tool.Descriptor
	// CallTool invokes the tool. Implementations should honor ctx
	// cancellation, but the orchestrator does not rely on it.
	CallTool(ctx context.Context, req ToolCallRequest) (ToolCallResult, error)
}

// AuditLogger persists call outcomes. Failures are reported but never change
// the result returned to the caller.
type AuditLogger interface {
	LogToolCall(ctx context.Context, record audit.ToolCallRecord) error
}

// Recorder observes finished calls for metrics and statistics.
// The assessment is nil when the call failed before risk assessment.
type Recorder interface {
	RecordToolCall(serverID string, result ToolCallResult, assessment *tool.Assessment)
}
