// Package cmd provides the CLI commands for toolproxy.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/config"
)

var (
	cfgFile string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "toolproxy",
	Short: "toolproxy - safety-enforcing proxy for MCP tool calls",
	Long: `toolproxy sits between an agent and its MCP servers.

Every tool call is checked against the server's security profile, scored
for risk, bounded by a deadline and audited before its result is returned.

Configuration:
  Config is loaded from toolproxy.yaml in the current directory,
  $HOME/.toolproxy/, or /etc/toolproxy/.

  Environment variables override config values with the TOOLPROXY_ prefix.
  Example: TOOLPROXY_HTTP_ADDR=:9090

Commands:
  serve       Serve the HTTP API
  mcp         Serve the proxy as an MCP server over stdin/stdout
  call        Execute one tool call
  sequence    Execute a list of tool calls, stopping at the first failure
  tools       List the tools of connected servers
  assess      Score a tool's risk without calling it
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolproxy.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable development mode (debug logging, fast audit flush)")
}

// loadConfig reads the configuration, applies CLI overrides and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw(config.InitViper(cfgFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes text logs to stderr; stdout carries command output.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
