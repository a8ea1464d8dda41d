package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

var (
	assessRiskLevel    string
	assessCapabilities []string
	assessDescription  string
)

var assessCmd = &cobra.Command{
	Use:   "assess (<server-id> <tool-name> | <tool-name> --risk-level <level>)",
	Short: "Score a tool's risk without calling it",
	Long: `Print the risk assessment of a tool as JSON.

With a server ID and tool name the configured servers are connected and the
tool is scored against its server's profile. With only a tool name and
--risk-level, the profile is taken from the flags and nothing is connected.

Examples:
  toolproxy assess fs delete_file
  toolproxy assess run_shell --risk-level high --capability code_execution`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAssess,
}

func init() {
	assessCmd.Flags().StringVar(&assessRiskLevel, "risk-level", "", "server risk level for an offline assessment")
	assessCmd.Flags().StringSliceVar(&assessCapabilities, "capability", nil, "server capability for an offline assessment (repeatable)")
	assessCmd.Flags().StringVar(&assessDescription, "description", "", "tool description for an offline assessment")
	rootCmd.AddCommand(assessCmd)
}

func runAssess(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return runOfflineAssess(cmd, args[0])
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		server, ok := a.clients.GetConnectedServer(args[0])
		if !ok {
			return fmt.Errorf("%s: %w", args[0], proxy.ErrServerNotConnected)
		}
		d, ok := server.FindTool(args[1])
		if !ok {
			return fmt.Errorf("%s/%s: %w", args[0], args[1], proxy.ErrToolNotFound)
		}
		return printJSON(cmd.OutOrStdout(), a.orchestrator.AssessToolRisk(server.Profile, d))
	})
}

// runOfflineAssess scores a tool against a profile built from flags, using
// the configured risk table.
func runOfflineAssess(cmd *cobra.Command, toolName string) error {
	if assessRiskLevel == "" {
		return fmt.Errorf("--risk-level is required when no server is given")
	}
	profile, err := offlineProfile(assessRiskLevel, assessCapabilities)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := buildRiskEngine(cfg.RiskTable)
	if err != nil {
		return err
	}

	assessment := engine.Assess(profile, tool.Descriptor{Name: toolName, Description: assessDescription})
	return printJSON(cmd.OutOrStdout(), assessment)
}

func offlineProfile(level string, capabilities []string) (security.Profile, error) {
	var profile security.Profile
	riskLevel, err := security.ParseRiskLevel(level)
	if err != nil {
		return profile, err
	}
	profile.RiskLevel = riskLevel
	for _, raw := range capabilities {
		c, err := security.ParseCapability(raw)
		if err != nil {
			return profile, err
		}
		profile.Capabilities = append(profile.Capabilities, c)
	}
	return profile, nil
}
