// Package audit contains domain types for tool call audit logging.
package audit

import (
	"time"
)

// Outcome constants for audit records.
const (
	// OutcomeSuccess indicates the tool call completed successfully.
	OutcomeSuccess = "success"
	// OutcomeFailure indicates the tool call was denied, timed out or failed.
	OutcomeFailure = "failure"
)

// ToolCallRecord is one auditable tool call outcome.
type ToolCallRecord struct {
	// Timestamp is when the proxy received the call.
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with logs and traces.
	RequestID string `json:"request_id"`
	// ServerID identifies the external server.
	ServerID string `json:"server_id"`
	// ToolName is the name of the tool being invoked.
	ToolName string `json:"tool_name"`
	// Success reports whether the call produced a result.
	Success bool `json:"success"`
	// DurationMs is the wall-clock time until the result was available.
	DurationMs int64 `json:"duration_ms"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// ErrorKind classifies the failure, empty on success.
	ErrorKind string `json:"error_kind,omitempty"`

	// RiskScore is the assessment score, when an assessment was made.
	RiskScore int `json:"risk_score,omitempty"`
	// RiskLevel is the overall risk, when an assessment was made.
	RiskLevel string `json:"risk_level,omitempty"`
	// RiskTable is the fingerprint of the table that produced the score.
	RiskTable string `json:"risk_table,omitempty"`
}

// Outcome returns OutcomeSuccess or OutcomeFailure.
func (r ToolCallRecord) Outcome() string {
	if r.Success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
