// Package security contains the per-server security profile and the access
// decision applied before any tool call leaves the proxy.
package security

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RiskLevel is the operator-assigned trust classification of a server.
type RiskLevel string

const (
	// RiskLevelLow is a trusted, read-mostly server.
	RiskLevelLow RiskLevel = "low"
	// RiskLevelMedium is a server with limited side effects.
	RiskLevelMedium RiskLevel = "medium"
	// RiskLevelHigh is a server with broad side effects.
	RiskLevelHigh RiskLevel = "high"
	// RiskLevelCritical is a server able to damage the host or its data.
	RiskLevelCritical RiskLevel = "critical"
)

// IsValid returns true if the risk level is a known valid level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// ParseRiskLevel converts a configuration string to a RiskLevel.
// Matching is case-insensitive.
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.IsValid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return level, nil
}

// Capability is a tag describing what a server is able to do on its host.
// The set is closed; unknown tags are rejected at configuration load.
type Capability string

const (
	CapabilityCodeExecution   Capability = "code_execution"
	CapabilityProcessSpawn    Capability = "process_spawn"
	CapabilitySystemAccess    Capability = "system_access"
	CapabilityFileSystem      Capability = "file_system"
	CapabilityNetworkRequests Capability = "network_requests"
)

// AllCapabilities lists every known capability in scoring-table order.
var AllCapabilities = []Capability{
	CapabilityCodeExecution,
	CapabilityProcessSpawn,
	CapabilitySystemAccess,
	CapabilityFileSystem,
	CapabilityNetworkRequests,
}

// IsValid returns true if the capability is part of the closed set.
func (c Capability) IsValid() bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCapability converts a configuration string to a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// Profile is the security posture of one external server.
// It is owned by configuration and treated as read-only by the proxy.
type Profile struct {
	// RiskLevel is the coarse trust classification.
	RiskLevel RiskLevel
	// Capabilities is the set of things the server can do.
	Capabilities []Capability
	// ToolBlocklist names tools that may never be called (unless overridden per call).
	ToolBlocklist []string
	// ToolAllowlist, when non-empty, names the only tools that may be called.
	ToolAllowlist []string
	// MaxExecution bounds a single call. Zero means use the system default.
	MaxExecution time.Duration
}

// HasCapability reports whether the profile declares the capability.
func (p Profile) HasCapability(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// IsBlocked reports whether the tool name is on the blocklist.
func (p Profile) IsBlocked(toolName string) bool {
	return slices.Contains(p.ToolBlocklist, toolName)
}

// IsAllowlisted reports whether the tool name is on the allowlist.
func (p Profile) IsAllowlisted(toolName string) bool {
	return slices.Contains(p.ToolAllowlist, toolName)
}
