// Package tool contains tool descriptors and the deterministic risk
// assessment engine that scores a tool call before it is executed.
package tool

import (
	"encoding/json"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

// Descriptor describes a tool advertised by an external server's catalog.
// Descriptors are immutable once discovered.
type Descriptor struct {
	// Name is the unique identifier of the tool within its server.
	Name string `json:"name"`

	// Description is the human-readable description, possibly empty.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments, if advertised.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Assessment is the result of scoring one tool against one server profile.
type Assessment struct {
	// Factors lists the reasons that contributed to the score, in table order.
	Factors []string `json:"factors"`

	// OverallRisk is derived from Score via fixed thresholds.
	OverallRisk security.RiskLevel `json:"overallRisk"`

	// Score is the sum of all factor weights. Never negative.
	Score int `json:"score"`
}

// Score thresholds for OverallRisk.
const (
	MediumThreshold   = 3
	HighThreshold     = 5
	CriticalThreshold = 8
)

// RiskForScore maps a score to its overall risk level.
// There is no distinction above CriticalThreshold.
func RiskForScore(score int) security.RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return security.RiskLevelCritical
	case score >= HighThreshold:
		return security.RiskLevelHigh
	case score >= MediumThreshold:
		return security.RiskLevelMedium
	default:
		return security.RiskLevelLow
	}
}
