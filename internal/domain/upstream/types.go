// Package upstream contains domain types for the external MCP servers the
// proxy forwards tool calls to.
package upstream

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

// UpstreamType identifies the transport protocol for an upstream server.
type UpstreamType string

const (
	// UpstreamTypeStdio represents an upstream that communicates via stdin/stdout.
	UpstreamTypeStdio UpstreamType = "stdio"
	// UpstreamTypeHTTP represents an upstream that communicates via Streamable HTTP.
	UpstreamTypeHTTP UpstreamType = "http"
)

// ConnectionStatus represents the runtime connection state of an upstream.
type ConnectionStatus string

const (
	// StatusConnected indicates the upstream is connected and operational.
	StatusConnected ConnectionStatus = "connected"
	// StatusDisconnected indicates the upstream is not connected.
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusError indicates the upstream encountered a connection error.
	StatusError ConnectionStatus = "error"
)

// idPattern allows alphanumeric, hyphens, underscores and dots.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// idMaxLength is the maximum allowed length for an upstream ID.
const idMaxLength = 100

// Upstream represents a configured external MCP server.
type Upstream struct {
	// ID is the identifier callers use to address the server.
	ID string
	// Name is the human-readable display name.
	Name string
	// Type is the transport type: stdio or http.
	Type UpstreamType
	// Enabled indicates whether the server should be connected at startup.
	Enabled bool
	// Command is the executable path (stdio only).
	Command string
	// Args are the command-line arguments (stdio only).
	Args []string
	// URL is the endpoint (HTTP only).
	URL string
	// Env holds environment variables passed to stdio upstreams.
	Env map[string]string

	// Profile is the server's security posture.
	Profile security.Profile
}

// Validate checks that the upstream has valid configuration.
// Returns nil if valid, or an error describing the first validation failure.
func (u *Upstream) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(u.ID) > idMaxLength {
		return fmt.Errorf("id must be %d characters or less", idMaxLength)
	}
	if !idPattern.MatchString(u.ID) {
		return fmt.Errorf("id contains invalid characters (allowed: alphanumeric, dots, hyphens, underscores)")
	}

	switch u.Type {
	case UpstreamTypeStdio:
		if u.Command == "" {
			return fmt.Errorf("command is required for stdio upstream")
		}
	case UpstreamTypeHTTP:
		if u.URL == "" {
			return fmt.Errorf("url is required for http upstream")
		}
		parsed, err := url.Parse(u.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("url is not a valid URL")
		}
	default:
		return fmt.Errorf("type must be %q or %q", UpstreamTypeStdio, UpstreamTypeHTTP)
	}

	if !u.Profile.RiskLevel.IsValid() {
		return fmt.Errorf("risk level %q is not valid", u.Profile.RiskLevel)
	}
	for _, c := range u.Profile.Capabilities {
		if !c.IsValid() {
			return fmt.Errorf("capability %q is not valid", c)
		}
	}
	if u.Profile.MaxExecution < 0 {
		return fmt.Errorf("max execution must not be negative")
	}

	return nil
}

// DisplayName returns Name, falling back to ID.
func (u *Upstream) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
