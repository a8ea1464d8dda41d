// Package cel compiles risk table extension rules written as CEL boolean
// expressions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
	evalTimeout         = 100 * time.Millisecond
)

// Compiler turns rule specs into tool.ExtensionRule values.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a Compiler over the risk environment.
func NewCompiler() (*Compiler, error) {
	env, err := NewRiskEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create risk environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Rule is a compiled extension rule.
type Rule struct {
	name   string
	factor string
	weight int
	prg    cel.Program
}

var _ tool.ExtensionRule = (*Rule)(nil)

func (r *Rule) Name() string   { return r.name }
func (r *Rule) Factor() string { return r.factor }
func (r *Rule) Weight() int    { return r.weight }

// Matches evaluates the condition. Evaluation errors and non-boolean results
// count as no match.
func (r *Rule) Matches(profile security.Profile, d tool.Descriptor) bool {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := r.prg.ContextEval(ctx, activation(profile, d))
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Compile validates and compiles one rule.
func (c *Compiler) Compile(spec tool.RuleSpec) (*Rule, error) {
	switch {
	case spec.Name == "":
		return nil, errors.New("rule name is empty")
	case spec.Factor == "":
		return nil, fmt.Errorf("rule %s: factor is empty", spec.Name)
	case spec.Weight < 0:
		return nil, fmt.Errorf("rule %s: %w", spec.Name, tool.ErrNegativeWeight)
	}
	if err := validateExpression(spec.Condition); err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.Name, err)
	}

	ast, issues := c.env.Compile(spec.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %s: compilation failed: %w", spec.Name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("rule %s: condition must be boolean, got %s", spec.Name, ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("rule %s: program creation failed: %w", spec.Name, err)
	}

	return &Rule{name: spec.Name, factor: spec.Factor, weight: spec.Weight, prg: prg}, nil
}

// CompileAll compiles specs in order. Rule names must be unique.
func (c *Compiler) CompileAll(specs []tool.RuleSpec) ([]tool.ExtensionRule, error) {
	seen := make(map[string]struct{}, len(specs))
	rules := make([]tool.ExtensionRule, 0, len(specs))
	for _, spec := range specs {
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}

		r, err := c.Compile(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// BindRules compiles table.Rules into table.Extensions.
func BindRules(table *tool.RiskTable) error {
	if len(table.Rules) == 0 {
		return nil
	}
	c, err := NewCompiler()
	if err != nil {
		return err
	}
	rules, err := c.CompileAll(table.Rules)
	if err != nil {
		return err
	}
	table.Extensions = rules
	return nil
}

func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("condition is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("condition too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("condition nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
