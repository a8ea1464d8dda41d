package cel

import (
	"errors"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler() error: %v", err)
	}
	return c
}

func TestRule_Matches(t *testing.T) {
	c := newTestCompiler(t)

	shell := security.Profile{
		RiskLevel:    security.RiskLevelHigh,
		Capabilities: []security.Capability{security.CapabilityProcessSpawn, security.CapabilityFileSystem},
	}
	plain := security.Profile{RiskLevel: security.RiskLevelLow}

	tests := []struct {
		name      string
		condition string
		profile   security.Profile
		tool      tool.Descriptor
		want      bool
	}{
		{"name prefix", `tool.name.startsWith("admin_")`, plain, tool.Descriptor{Name: "admin_reset"}, true},
		{"name prefix miss", `tool.name.startsWith("admin_")`, plain, tool.Descriptor{Name: "read"}, false},
		{"glob", `glob("*_secret*", tool.name)`, plain, tool.Descriptor{Name: "get_secret_key"}, true},
		{"description", `tool.description.lowerAscii().contains("password")`, plain, tool.Descriptor{Name: "x", Description: "Resets a PASSWORD"}, true},
		{"risk level", `server.risk_level == "high"`, shell, tool.Descriptor{Name: "x"}, true},
		{"capability membership", `"process_spawn" in server.capabilities`, shell, tool.Descriptor{Name: "x"}, true},
		{"capability absent", `"process_spawn" in server.capabilities`, plain, tool.Descriptor{Name: "x"}, false},
		{"has_capability", `has_capability(server, "file_system")`, shell, tool.Descriptor{Name: "x"}, true},
		{"has_capability absent", `has_capability(server, "file_system")`, plain, tool.Descriptor{Name: "x"}, false},
		{"has_capability unknown name", `has_capability(server, "teleport")`, shell, tool.Descriptor{Name: "x"}, false},
		{"has_capability literal map", `has_capability({"capabilities": ["network"]}, "network")`, plain, tool.Descriptor{Name: "x"}, true},
		{"combined", `server.risk_level == "high" && tool.name.contains("sql")`, shell, tool.Descriptor{Name: "run_sql"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := c.Compile(tool.RuleSpec{Name: "r", Condition: tt.condition, Factor: "f", Weight: 1})
			if err != nil {
				t.Fatalf("Compile() error: %v", err)
			}
			if got := r.Matches(tt.profile, tt.tool); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRule_RuntimeErrorIsNoMatch(t *testing.T) {
	c := newTestCompiler(t)
	// tool has no "owner" key; map lookup fails at runtime.
	r, err := c.Compile(tool.RuleSpec{Name: "r", Condition: `tool.owner == "root"`, Factor: "f", Weight: 1})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if r.Matches(security.Profile{}, tool.Descriptor{Name: "x"}) {
		t.Error("Matches() = true for failing evaluation")
	}
}

func TestCompile_Errors(t *testing.T) {
	c := newTestCompiler(t)

	tests := []struct {
		name    string
		spec    tool.RuleSpec
		wantErr string
	}{
		{"empty name", tool.RuleSpec{Condition: "true", Factor: "f"}, "name is empty"},
		{"empty factor", tool.RuleSpec{Name: "r", Condition: "true"}, "factor is empty"},
		{"empty condition", tool.RuleSpec{Name: "r", Factor: "f"}, "condition is empty"},
		{"syntax error", tool.RuleSpec{Name: "r", Condition: "tool.name ==", Factor: "f"}, "compilation failed"},
		{"non boolean", tool.RuleSpec{Name: "r", Condition: `"text"`, Factor: "f"}, "must be boolean"},
		{"undeclared variable", tool.RuleSpec{Name: "r", Condition: "user.admin", Factor: "f"}, "compilation failed"},
		{"too long", tool.RuleSpec{Name: "r", Condition: strings.Repeat("a", maxExpressionLength+1), Factor: "f"}, "too long"},
		{"too deep", tool.RuleSpec{Name: "r", Condition: strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60), Factor: "f"}, "nesting too deep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(tt.spec)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Compile() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCompile_NegativeWeight(t *testing.T) {
	c := newTestCompiler(t)
	_, err := c.Compile(tool.RuleSpec{Name: "r", Condition: "true", Factor: "f", Weight: -1})
	if !errors.Is(err, tool.ErrNegativeWeight) {
		t.Errorf("Compile() error = %v, want ErrNegativeWeight", err)
	}
}

func TestCompileAll_DuplicateName(t *testing.T) {
	c := newTestCompiler(t)
	_, err := c.CompileAll([]tool.RuleSpec{
		{Name: "r", Condition: "true", Factor: "f", Weight: 1},
		{Name: "r", Condition: "false", Factor: "g", Weight: 1},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("CompileAll() error = %v, want duplicate", err)
	}
}

func TestBindRules_ScoresThroughEngine(t *testing.T) {
	table := tool.DefaultRiskTable()
	table.Rules = []tool.RuleSpec{
		{Name: "admin", Condition: `tool.name.startsWith("admin_")`, Factor: "tool is administrative", Weight: 3},
	}
	if err := BindRules(table); err != nil {
		t.Fatalf("BindRules() error: %v", err)
	}
	if len(table.Extensions) != 1 {
		t.Fatalf("Extensions = %d, want 1", len(table.Extensions))
	}

	a := tool.NewEngine(table).Assess(security.Profile{RiskLevel: security.RiskLevelLow}, tool.Descriptor{Name: "admin_users"})
	// low (1) + admin (3)
	if a.Score != 4 {
		t.Errorf("Score = %d, want 4", a.Score)
	}
	if last := a.Factors[len(a.Factors)-1]; last != "tool is administrative" {
		t.Errorf("last factor = %q", last)
	}
}

func TestBindRules_NoRules(t *testing.T) {
	table := tool.DefaultRiskTable()
	if err := BindRules(table); err != nil {
		t.Fatalf("BindRules() error: %v", err)
	}
	if table.Extensions != nil {
		t.Errorf("Extensions = %v, want nil", table.Extensions)
	}
}
