package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Sentinel-Gate/toolproxy/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/toolproxy/internal/adapter/outbound/cel"
	mcpclient "github.com/Sentinel-Gate/toolproxy/internal/adapter/outbound/mcp"
	"github.com/Sentinel-Gate/toolproxy/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/toolproxy/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/toolproxy/internal/config"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/service"
	"github.com/Sentinel-Gate/toolproxy/internal/telemetry"
)

// auditStore is what every audit output provides.
type auditStore interface {
	audit.AuditStore
	audit.RecentReader
}

// app is the composition root shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	clients      *service.ClientManager
	store        auditStore
	auditSvc     *service.AuditService
	stats        *service.StatsService
	metrics      *http.Metrics
	registry     *prometheus.Registry
	orchestrator *proxy.Orchestrator

	shutdownTracing telemetry.ShutdownFunc
}

// appOptions adjust the composition for one-shot commands.
type appOptions struct {
	// stdout receives audit records when audit.output is "stdout".
	stdout io.Writer
}

// newApp wires every component and connects the configured servers.
// On error everything already built is released.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts appOptions) error {
	cfg, logger := a.cfg, a.logger

	engine, err := buildRiskEngine(cfg.RiskTable)
	if err != nil {
		return err
	}
	table := engine.Table()
	logger.Info("risk table loaded",
		"source", riskTableSource(cfg.RiskTable),
		"fingerprint", table.Fingerprint(),
		"rules", len(table.Extensions),
	)

	stdout := opts.stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	store, err := openAuditStore(ctx, cfg.Audit, stdout)
	if err != nil {
		return err
	}
	a.store = store
	a.auditSvc = service.NewAuditService(a.store, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushIntervalDuration()),
		service.WithSendTimeout(cfg.Audit.SendTimeoutDuration()),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	// The worker outlives ctx so records of calls cut short by shutdown are
	// still written; close stops it.
	a.auditSvc.Start(context.WithoutCancel(ctx))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = http.NewMetrics(a.registry)
	http.RegisterAuditDrops(a.registry, a.auditSvc.DroppedRecords)
	a.stats = service.NewStatsService()

	tracer, shutdownTracing, err := telemetry.Setup(telemetry.Config{
		Enabled:    cfg.Tracing.Enabled,
		Version:    Version,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdownTracing

	upstreams, err := cfg.Upstreams()
	if err != nil {
		return err
	}
	factory := mcpclient.Factory(
		mcpclient.WithClientInfo("toolproxy", Version),
		mcpclient.WithStderr(os.Stderr),
		mcpclient.WithHTTPClient(mcpclient.NewHTTPClient(cfg.Connect.ResponseHeaderTimeoutDuration())),
	)
	a.clients = service.NewClientManager(factory, logger,
		service.WithConnectAttempts(cfg.Connect.Attempts),
		service.WithConnectConcurrency(cfg.Connect.Concurrency),
	)
	if err := a.clients.ConnectAll(ctx, upstreams); err != nil {
		return err
	}

	a.orchestrator = proxy.NewOrchestrator(a.clients, a.auditSvc,
		proxy.WithLogger(logger),
		proxy.WithDefaultTimeout(cfg.DefaultTimeoutDuration()),
		proxy.WithRiskEngine(engine),
		proxy.WithRecorder(a.metrics),
		proxy.WithRecorder(a.stats),
		proxy.WithTracer(tracer),
	)
	return nil
}

// close releases components in reverse dependency order: sessions first,
// then the audit pipeline so queued records reach the store.
func (a *app) close() {
	if a.clients != nil {
		if err := a.clients.Close(); err != nil {
			a.logger.Warn("error closing server sessions", "error", err)
		}
	}
	if a.auditSvc != nil {
		a.auditSvc.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing audit store", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("error flushing traces", "error", err)
		}
	}
}

// buildRiskEngine loads the table file, if any, and compiles its CEL rules.
func buildRiskEngine(path string) (*tool.Engine, error) {
	if path == "" {
		return tool.NewEngine(tool.DefaultRiskTable()), nil
	}
	table, err := tool.LoadRiskTable(path)
	if err != nil {
		return nil, err
	}
	if err := cel.BindRules(table); err != nil {
		return nil, fmt.Errorf("risk table %s: %w", path, err)
	}
	return tool.NewEngine(table), nil
}

func riskTableSource(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// openAuditStore opens the store selected by cfg.Output.
func openAuditStore(ctx context.Context, cfg config.AuditConfig, stdout io.Writer) (auditStore, error) {
	switch {
	case cfg.Output == "stdout":
		return memory.NewAuditStore(stdout, cfg.RecentSize), nil
	case strings.HasPrefix(cfg.Output, "file://"):
		store, err := memory.OpenFileAuditStore(strings.TrimPrefix(cfg.Output, "file://"), cfg.RecentSize)
		if err != nil {
			return nil, err
		}
		return store, nil
	case strings.HasPrefix(cfg.Output, "sqlite://"):
		store, err := sqlite.Open(ctx, strings.TrimPrefix(cfg.Output, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("unsupported audit output: " + cfg.Output)
	}
}
