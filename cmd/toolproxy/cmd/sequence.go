package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
)

var (
	sequenceOpts callFlags
	sequenceFile string
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence --file <calls.json>",
	Short: "Execute a list of tool calls, stopping at the first failure",
	Long: `Execute tool calls one after another with shared options. The file holds
a JSON array of {"serverId", "toolName", "args"} objects; "-" reads stdin.
Execution stops after the first failed call, whose result is included.

Example:
  echo '[{"serverId":"fs","toolName":"read_file","args":{"path":"/a"}}]' | toolproxy sequence --file -`,
	Args: cobra.NoArgs,
	RunE: runSequence,
}

func init() {
	sequenceOpts.register(sequenceCmd)
	sequenceCmd.Flags().StringVarP(&sequenceFile, "file", "f", "-", `JSON file of calls, "-" for stdin`)
	rootCmd.AddCommand(sequenceCmd)
}

// sequenceOutput is the printed result of a sequence.
type sequenceOutput struct {
	Results   []proxy.ToolCallResult `json:"results"`
	Completed bool                   `json:"completed"`
}

func runSequence(cmd *cobra.Command, args []string) error {
	calls, err := readCalls(cmd.InOrStdin(), sequenceFile)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		results := a.orchestrator.ExecuteSequence(ctx, calls, sequenceOpts.options())
		out := sequenceOutput{Results: results, Completed: sequenceCompleted(calls, results)}
		if out.Results == nil {
			out.Results = []proxy.ToolCallResult{}
		}
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if !out.Completed {
			return fmt.Errorf("sequence stopped at call %d: %w", len(results), results[len(results)-1].Err())
		}
		return nil
	})
}

func sequenceCompleted(calls []proxy.Call, results []proxy.ToolCallResult) bool {
	if len(results) != len(calls) {
		return false
	}
	return len(results) == 0 || results[len(results)-1].Success
}

// readCalls decodes the call list from path, or from stdin when path is "-".
func readCalls(stdin io.Reader, path string) ([]proxy.Call, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open calls file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var calls []proxy.Call
	if err := json.NewDecoder(r).Decode(&calls); err != nil {
		return nil, fmt.Errorf("failed to decode calls: %w", err)
	}
	for i, c := range calls {
		if c.ServerID == "" || c.ToolName == "" {
			return nil, fmt.Errorf("calls[%d]: serverId and toolName are required", i)
		}
	}
	if calls == nil {
		return nil, errors.New("no calls given")
	}
	return calls, nil
}
