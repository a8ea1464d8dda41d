package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolproxy/internal/adapter/inbound/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Connect to every enabled server and serve the tool call API.

Endpoints:
  POST /v1/calls, POST /v1/sequences, GET /v1/tools, GET /v1/servers,
  GET /v1/servers/{id}/tools, POST /v1/assess, GET /v1/stats,
  GET /v1/audit, GET /health, GET /metrics

Examples:
  toolproxy serve
  toolproxy serve --addr :9090
  toolproxy --config /etc/toolproxy/toolproxy.yaml serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	logger := newLogger(cfg)

	// stop() restores default signal handling so a second Ctrl+C kills.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if len(cfg.Servers) > 0 && !a.clients.AnyConnected() {
		logger.Warn("no server connected; every call will fail with server not connected")
	}

	api := http.NewAPI(a.orchestrator, a.clients, a.stats, a.store)
	opts := []http.Option{
		http.WithAddr(cfg.HTTP.Addr),
		http.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		http.WithLogger(logger),
		http.WithMetrics(a.metrics, a.registry),
		http.WithHealthChecker(http.NewHealthChecker(a.clients, a.auditSvc, Version)),
	}
	if cfg.HTTP.TLSCert != "" {
		opts = append(opts, http.WithTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey))
	}

	if err := http.NewServer(api, opts...).Start(ctx); err != nil {
		return err
	}
	logger.Info("toolproxy stopped")
	return nil
}
