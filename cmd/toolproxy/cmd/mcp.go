package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/adapter/inbound/stdio"
)

var mcpOpts callFlags

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the proxy to an MCP client over stdin/stdout",
	Long: `Connect to every enabled server and act as a single MCP server on
stdin/stdout. Each tool is advertised as <server-id>__<tool-name> and every
call goes through the same access checks, deadlines and audit as the API.

Logs and stdout audit records go to stderr.

Examples:
  toolproxy mcp
  toolproxy mcp --timeout 10s --skip-audit`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpOpts.register(mcpCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		transport := stdio.NewStdioTransport(a.orchestrator, a.clients,
			stdio.WithCallOptions(mcpOpts.options()),
			stdio.WithLogger(a.logger),
			stdio.WithImplementation("toolproxy", Version),
		)
		defer transport.Close()
		return transport.Start(ctx)
	})
}
