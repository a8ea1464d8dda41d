package proxy

import (
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// ToolCallRequest is one call handed to the Client Manager.
type ToolCallRequest struct {
	RequestID string
	ServerID  string
	ToolName  string
	Args      map[string]any
	// Timeout is the effective deadline for the call.
	Timeout time.Duration
}

// ToolCallResult is the single result shape every call is normalized into.
// When Success is false, Content is nil and Error is non-empty.
type ToolCallResult struct {
	Success    bool      `json:"success"`
	Content    any       `json:"content"`
	Error      string    `json:"error,omitempty"`
	Kind       ErrorKind `json:"errorKind,omitempty"`
	DurationMs int64     `json:"durationMs"`
	RequestID  string    `json:"requestId"`
}

// Err returns the failure as a *CallError, or nil on success.
func (r ToolCallResult) Err() error {
	if r.Success {
		return nil
	}
	return &CallError{Kind: r.Kind, Message: r.Error, Err: r.Kind.sentinel()}
}

// CallOptions are the per-call switches shared by every call of a sequence.
type CallOptions struct {
	// Timeout overrides the server's and the system's timeout when positive.
	Timeout time.Duration
	// AllowBlocked lets blocklisted tools through. The allowlist still applies.
	AllowBlocked bool
	// SkipAudit suppresses the audit record for the call.
	SkipAudit bool
}

// Call is one entry of a sequence.
type Call struct {
	ServerID string         `json:"serverId"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args,omitempty"`
}

// ConnectedServer is a server known to the Client Manager together with its
// security profile and tool catalog.
type ConnectedServer struct {
	ID             string
	Profile        security.Profile
	AvailableTools []tool.Descriptor
}

// FindTool looks a tool up in the server's catalog.
func (s *ConnectedServer) FindTool(name string) (tool.Descriptor, bool) {
	for _, t := range s.AvailableTools {
		if t.Name == name {
			return t, true
		}
	}
	return tool.Descriptor{}, false
}
