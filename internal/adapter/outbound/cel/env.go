package cel

import (
	"path/filepath"
	"slices"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// NewRiskEnvironment creates the CEL environment risk rule conditions are
// compiled in. Variables:
//   - tool: map with name, description
//   - server: map with risk_level, capabilities (list of strings)
//
// Functions: glob(pattern, s), has_capability(server, name) and the
// strings and sets extensions.
func NewRiskEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("server", cel.MapType(cel.StringType, cel.DynType)),

		// glob: shell-style match, e.g. glob("admin_*", tool.name)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// has_capability: has_capability(server, "file_system")
		cel.Function("has_capability",
			cel.Overload("has_capability_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasCapability),
			),
		),
	)
}

// hasCapability reports whether server.capabilities contains name. A server
// map without a capabilities list has none.
func hasCapability(server, name ref.Val) ref.Val {
	m, ok := server.(traits.Mapper)
	if !ok {
		return types.Bool(false)
	}
	caps, found := m.Find(types.String("capabilities"))
	if !found {
		return types.Bool(false)
	}
	list, ok := caps.(traits.Lister)
	if !ok {
		return types.Bool(false)
	}
	if contains, ok := list.Contains(name).(types.Bool); ok {
		return contains
	}
	return types.Bool(false)
}

// activation exposes a profile and descriptor to a condition.
func activation(profile security.Profile, d tool.Descriptor) map[string]any {
	caps := make([]string, 0, len(profile.Capabilities))
	for _, c := range profile.Capabilities {
		caps = append(caps, string(c))
	}
	slices.Sort(caps)

	return map[string]any{
		"tool": map[string]any{
			"name":        d.Name,
			"description": d.Description,
		},
		"server": map[string]any{
			"risk_level":   string(profile.RiskLevel),
			"capabilities": caps,
		},
	}
}
