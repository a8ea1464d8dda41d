package tool

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

// ErrNegativeWeight is returned when a table entry carries a negative weight.
var ErrNegativeWeight = errors.New("risk weight must not be negative")

// CapabilityRule adds Weight when a server declares Capability.
type CapabilityRule struct {
	Capability security.Capability `yaml:"capability"`
	Factor     string              `yaml:"factor"`
	Weight     int                 `yaml:"weight"`
}

// PatternRule adds Weight when Pattern matches a tool's name or description.
// Patterns are compiled case-insensitively.
type PatternRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Factor  string `yaml:"factor"`
	Weight  int    `yaml:"weight"`

	re *regexp.Regexp
}

// NewPatternRule compiles a pattern rule.
func NewPatternRule(name, pattern, factor string, weight int) (PatternRule, error) {
	r := PatternRule{Name: name, Pattern: pattern, Factor: factor, Weight: weight}
	if err := r.compile(); err != nil {
		return PatternRule{}, err
	}
	return r, nil
}

func (r *PatternRule) compile() error {
	if r.Weight < 0 {
		return fmt.Errorf("pattern %q: %w", r.Name, ErrNegativeWeight)
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", r.Name, err)
	}
	r.re = re
	return nil
}

func (r PatternRule) matches(s string) bool {
	return s != "" && r.re != nil && r.re.MatchString(s)
}

// ExtensionRule is an externally evaluated rule appended after the pattern
// table. Matches must be deterministic and must not fail: implementations
// treat evaluation errors as "no match".
type ExtensionRule interface {
	Name() string
	Factor() string
	Weight() int
	Matches(profile security.Profile, d Descriptor) bool
}

// RuleSpec is the declarative form of an extension rule as read from a
// table file. The condition language is interpreted by the adapter that
// compiles it.
type RuleSpec struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Factor    string `yaml:"factor"`
	Weight    int    `yaml:"weight"`
}

// RiskTable holds every weight the engine uses. Tables are data so they can
// be tuned without a rebuild.
type RiskTable struct {
	BaseWeights  map[security.RiskLevel]int
	Capabilities []CapabilityRule
	Patterns     []PatternRule

	// Rules are uncompiled extension rules read from a table file.
	Rules []RuleSpec
	// Extensions are compiled rules, evaluated after Patterns.
	Extensions []ExtensionRule
}

// DefaultRiskTable returns the built-in scoring table.
func DefaultRiskTable() *RiskTable {
	return &RiskTable{
		BaseWeights: map[security.RiskLevel]int{
			security.RiskLevelLow:      1,
			security.RiskLevelMedium:   2,
			security.RiskLevelHigh:     3,
			security.RiskLevelCritical: 4,
		},
		Capabilities: []CapabilityRule{
			{security.CapabilityCodeExecution, "server can execute arbitrary code", 2},
			{security.CapabilityProcessSpawn, "server can spawn processes", 2},
			{security.CapabilitySystemAccess, "server has system-level access", 2},
			{security.CapabilityFileSystem, "server can access the file system", 1},
			{security.CapabilityNetworkRequests, "server can make network requests", 1},
		},
		Patterns: []PatternRule{
			mustPattern("destructive", `delete|remove|drop|truncate`, "tool may perform destructive operations", 2),
			mustPattern("command_execution", `exec|run|spawn|shell`, "tool may execute commands", 2),
			mustPattern("modification", `write|create|modify`, "tool may modify data", 1),
			mustPattern("data_transfer", `download|upload|transfer`, "tool may transfer data", 1),
		},
	}
}

func mustPattern(name, pattern, factor string, weight int) PatternRule {
	r, err := NewPatternRule(name, pattern, factor, weight)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks that every weight is non-negative and every capability is
// part of the closed set.
func (t *RiskTable) Validate() error {
	for level, w := range t.BaseWeights {
		if !level.IsValid() {
			return fmt.Errorf("base weight for unknown risk level %q", level)
		}
		if w < 0 {
			return fmt.Errorf("base weight %q: %w", level, ErrNegativeWeight)
		}
	}
	for _, c := range t.Capabilities {
		if !c.Capability.IsValid() {
			return fmt.Errorf("unknown capability %q", c.Capability)
		}
		if c.Weight < 0 {
			return fmt.Errorf("capability %q: %w", c.Capability, ErrNegativeWeight)
		}
	}
	for _, p := range t.Patterns {
		if p.Weight < 0 {
			return fmt.Errorf("pattern %q: %w", p.Name, ErrNegativeWeight)
		}
	}
	for _, r := range t.Rules {
		if r.Weight < 0 {
			return fmt.Errorf("rule %q: %w", r.Name, ErrNegativeWeight)
		}
	}
	return nil
}

// Fingerprint returns a stable hash of the table contents. Two tables with
// the same entries in the same order share a fingerprint.
func (t *RiskTable) Fingerprint() string {
	h := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.Write([]byte{0})
		}
	}
	for _, level := range []security.RiskLevel{
		security.RiskLevelLow, security.RiskLevelMedium,
		security.RiskLevelHigh, security.RiskLevelCritical,
	} {
		write("base", string(level), strconv.Itoa(t.BaseWeights[level]))
	}
	for _, c := range t.Capabilities {
		write("cap", string(c.Capability), c.Factor, strconv.Itoa(c.Weight))
	}
	for _, p := range t.Patterns {
		write("pat", p.Name, p.Pattern, p.Factor, strconv.Itoa(p.Weight))
	}
	for _, r := range t.Rules {
		write("rule", r.Name, r.Condition, r.Factor, strconv.Itoa(r.Weight))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// riskTableFile is the YAML layout of a risk table file.
// Sections that are omitted keep their built-in defaults.
type riskTableFile struct {
	BaseWeights  map[string]int   `yaml:"base_weights"`
	Capabilities []CapabilityRule `yaml:"capabilities"`
	Patterns     []PatternRule    `yaml:"patterns"`
	Rules        []RuleSpec       `yaml:"rules"`
}

// ParseRiskTable builds a table from YAML, starting from DefaultRiskTable.
func ParseRiskTable(data []byte) (*RiskTable, error) {
	var f riskTableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse risk table: %w", err)
	}

	t := DefaultRiskTable()
	if len(f.BaseWeights) > 0 {
		t.BaseWeights = make(map[security.RiskLevel]int, len(f.BaseWeights))
		for k, w := range f.BaseWeights {
			level, err := security.ParseRiskLevel(k)
			if err != nil {
				return nil, fmt.Errorf("base_weights: %w", err)
			}
			t.BaseWeights[level] = w
		}
	}
	if f.Capabilities != nil {
		t.Capabilities = f.Capabilities
	}
	if f.Patterns != nil {
		t.Patterns = make([]PatternRule, len(f.Patterns))
		for i := range f.Patterns {
			p := f.Patterns[i]
			if err := p.compile(); err != nil {
				return nil, err
			}
			t.Patterns[i] = p
		}
	}
	t.Rules = f.Rules

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadRiskTable reads a table file from disk.
func LoadRiskTable(path string) (*RiskTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk table: %w", err)
	}
	return ParseRiskTable(data)
}
