package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
)

// callFlags are the per-call switches shared by call and sequence.
type callFlags struct {
	timeout      time.Duration
	allowBlocked bool
	skipAudit    bool
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-call timeout (overrides server and default timeouts)")
	cmd.Flags().BoolVar(&f.allowBlocked, "allow-blocked", false, "let blocklisted tools through (the allowlist still applies)")
	cmd.Flags().BoolVar(&f.skipAudit, "skip-audit", false, "do not write audit records")
}

func (f *callFlags) options() proxy.CallOptions {
	return proxy.CallOptions{
		Timeout:      f.timeout,
		AllowBlocked: f.allowBlocked,
		SkipAudit:    f.skipAudit,
	}
}

var (
	callOpts callFlags
	callArgs string
)

var callCmd = &cobra.Command{
	Use:   "call <server-id> <tool-name>",
	Short: "Execute one tool call",
	Long: `Connect to the configured servers, execute one tool call through the
proxy and print the result as JSON. Exits non-zero when the call fails.

Examples:
  toolproxy call fs read_file --args '{"path":"/tmp/notes.txt"}'
  toolproxy call shell run --args '{"cmd":"ls"}' --timeout 5s`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callOpts.register(callCmd)
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	toolArgs, err := parseToolArgs(callArgs)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		result := a.orchestrator.ExecuteWithProxy(ctx, args[0], args[1], toolArgs, callOpts.options())
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		return result.Err()
	})
}

// withApp builds the app for a one-shot command, runs fn and releases it.
// Audit records sent to stdout go to stderr so they do not mix with the
// command's JSON output.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{stdout: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// parseToolArgs decodes a JSON object. Empty input means no arguments.
func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
