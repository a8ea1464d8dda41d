package tool

import (
	"fmt"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

// Engine scores tool calls using a RiskTable.
// Assess is pure: the same profile, descriptor and table always produce the
// same score, overall risk and factor order.
type Engine struct {
	table *RiskTable
}

// NewEngine creates an Engine. A nil table selects DefaultRiskTable.
func NewEngine(table *RiskTable) *Engine {
	if table == nil {
		table = DefaultRiskTable()
	}
	return &Engine{table: table}
}

// Table returns the table the engine scores with.
func (e *Engine) Table() *RiskTable {
	return e.table
}

// Assess scores a tool on a server.
//
// Factors are appended in a fixed order:
//   - the server's base risk level (always present)
//   - every declared capability, in capability table order
//   - every matching name/description pattern, in pattern table order
//   - every matching extension rule, in declaration order
//
// A pattern that matches both the name and the description counts once.
func (e *Engine) Assess(profile security.Profile, d Descriptor) Assessment {
	t := e.table
	var factors []string
	score := 0

	base := t.BaseWeights[profile.RiskLevel]
	level := string(profile.RiskLevel)
	if level == "" {
		level = "unspecified"
	}
	factors = append(factors, fmt.Sprintf("server risk level: %s", level))
	score += base

	for _, rule := range t.Capabilities {
		if profile.HasCapability(rule.Capability) {
			factors = append(factors, rule.Factor)
			score += rule.Weight
		}
	}

	for _, rule := range t.Patterns {
		if rule.matches(d.Name) || rule.matches(d.Description) {
			factors = append(factors, rule.Factor)
			score += rule.Weight
		}
	}

	for _, ext := range t.Extensions {
		if ext.Weight() < 0 {
			continue
		}
		if ext.Matches(profile, d) {
			factors = append(factors, ext.Factor())
			score += ext.Weight()
		}
	}

	return Assessment{
		Factors:     factors,
		OverallRisk: RiskForScore(score),
		Score:       score,
	}
}
