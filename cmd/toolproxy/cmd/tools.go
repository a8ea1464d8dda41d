package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/service"
)

var toolsCmd = &cobra.Command{
	Use:   "tools [server-id]",
	Short: "List the tools of connected servers",
	Long: `Connect to the configured servers and print their connection state and
tool catalogs as JSON. With a server ID only that server's tools are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

type toolsOutput struct {
	Servers []service.ServerStatus `json:"servers,omitempty"`
	Tools   []tool.Descriptor      `json:"tools"`
}

func runTools(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if len(args) == 1 {
			tools := a.orchestrator.GetServerTools(args[0])
			if tools == nil {
				return fmt.Errorf("%s: %w", args[0], proxy.ErrServerNotConnected)
			}
			return printJSON(cmd.OutOrStdout(), toolsOutput{Tools: tools})
		}

		tools := a.orchestrator.GetAvailableTools()
		if tools == nil {
			tools = []tool.Descriptor{}
		}
		return printJSON(cmd.OutOrStdout(), toolsOutput{
			Servers: a.clients.Status(),
			Tools:   tools,
		})
	})
}
