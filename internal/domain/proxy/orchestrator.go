// Package proxy contains the core domain logic for the tool call proxy:
// access validation, risk assessment, deadline enforcement and fail-fast
// sequencing of calls to external MCP servers.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

const tracerName = "github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"

// Orchestrator runs tool calls through validation, risk assessment, the
// deadline executor and the audit logger.
//
// Every call is an independent pipeline; the orchestrator keeps no per-call
// state and takes no locks, so it is safe for concurrent use.
type Orchestrator struct {
	clients    ClientManager
	auditor    AuditLogger // optional, may be nil
	executor   *DeadlineExecutor
	engine     *tool.Engine
	correlator *Correlator
	recorders  []Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
	tableID    string

	defaultTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithDefaultTimeout sets the system default timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.defaultTimeout = d
	}
}

// WithRiskEngine sets the risk engine. Defaults to the built-in table.
func WithRiskEngine(engine *tool.Engine) Option {
	return func(o *Orchestrator) {
		o.engine = engine
	}
}

// WithRecorder adds a recorder notified after every call.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithTracer sets the tracer. Defaults to the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithCorrelator sets the request ID generator.
func WithCorrelator(c *Correlator) Option {
	return func(o *Orchestrator) {
		o.correlator = c
	}
}

// NewOrchestrator creates an Orchestrator. auditor may be nil, in which case
// no audit records are written.
func NewOrchestrator(clients ClientManager, auditor AuditLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clients:        clients,
		auditor:        auditor,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.engine == nil {
		o.engine = tool.NewEngine(nil)
	}
	if o.correlator == nil {
		o.correlator = NewCorrelator()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	o.executor = NewDeadlineExecutor(clients, o.defaultTimeout)
	o.tableID = o.engine.Table().Fingerprint()
	return o
}

// ExecuteWithProxy validates, assesses and executes one tool call.
// It never returns an error: every outcome is a ToolCallResult.
func (o *Orchestrator) ExecuteWithProxy(ctx context.Context, serverID, toolName string, args map[string]any, opts CallOptions) ToolCallResult {
	start := time.Now()
	requestID := o.correlator.Next()

	ctx, span := o.tracer.Start(ctx, "toolproxy.execute", trace.WithAttributes(
		attribute.String("toolproxy.request_id", requestID),
		attribute.String("toolproxy.server", serverID),
		attribute.String("toolproxy.tool", toolName),
	))
	defer span.End()

	logger := o.logger.With("request_id", requestID, "server", serverID, "tool", toolName)

	result, assessment := o.execute(ctx, logger, requestID, serverID, toolName, args, opts)
	result.DurationMs = time.Since(start).Milliseconds()

	if assessment != nil {
		span.SetAttributes(
			attribute.Int("toolproxy.risk_score", assessment.Score),
			attribute.String("toolproxy.risk_level", string(assessment.OverallRisk)),
		)
	}
	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("toolproxy.error_kind", string(result.Kind)))
		span.SetStatus(codes.Error, result.Error)
	}

	for _, r := range o.recorders {
		o.record(logger, r, serverID, result, assessment)
	}

	if !opts.SkipAudit {
		o.audit(ctx, logger, start, serverID, toolName, result, assessment)
	}

	if result.Success {
		logger.Debug("tool call completed", "duration_ms", result.DurationMs)
	} else {
		logger.Info("tool call failed",
			"error", result.Error,
			"kind", result.Kind,
			"duration_ms", result.DurationMs,
		)
	}
	return result
}

// execute runs the pipeline. Panics are converted into failed results.
func (o *Orchestrator) execute(
	ctx context.Context,
	logger *slog.Logger,
	requestID, serverID, toolName string,
	args map[string]any,
	opts CallOptions,
) (result ToolCallResult, assessment *tool.Assessment) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool call pipeline panicked", "panic", r)
			result = failure(KindUnexpected, fmt.Sprintf("unexpected error: %v", r), requestID)
		}
	}()

	server, ok := o.clients.GetConnectedServer(serverID)
	if !ok || server == nil {
		return failure(KindServerUnavailable, ErrServerNotConnected.Error(), requestID), nil
	}

	descriptor, ok := server.FindTool(toolName)
	if !ok {
		return failure(KindToolNotFound, ErrToolNotFound.Error(), requestID), nil
	}

	decision := security.Validate(server.Profile, toolName, security.AccessOptions{
		AllowBlocked: opts.AllowBlocked,
	})
	if !decision.Allowed {
		logger.Warn("tool call denied", "reason", decision.Reason)
		return failure(KindAccessDenied, decision.Reason, requestID), nil
	}

	a := o.engine.Assess(server.Profile, descriptor)
	assessment = &a
	logger.Debug("risk assessed",
		"risk_score", a.Score,
		"risk_level", a.OverallRisk,
		"factors", a.Factors,
	)

	timeout := o.executor.EffectiveTimeout(opts.Timeout, server.Profile)
	result = o.executor.Run(ctx, ToolCallRequest{
		RequestID: requestID,
		ServerID:  serverID,
		ToolName:  toolName,
		Args:      args,
		Timeout:   timeout,
	})
	return result, assessment
}

// record hands the outcome to one recorder. A panicking recorder is logged
// and does not affect the result or the other recorders.
func (o *Orchestrator) record(logger *slog.Logger, r Recorder, serverID string, result ToolCallResult, assessment *tool.Assessment) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("recorder panicked", "panic", p)
		}
	}()
	r.RecordToolCall(serverID, result, assessment)
}

// audit reports the outcome. Failures are logged and otherwise ignored.
func (o *Orchestrator) audit(
	ctx context.Context,
	logger *slog.Logger,
	start time.Time,
	serverID, toolName string,
	result ToolCallResult,
	assessment *tool.Assessment,
) {
	if o.auditor == nil {
		return
	}

	record := audit.ToolCallRecord{
		Timestamp:  start,
		RequestID:  result.RequestID,
		ServerID:   serverID,
		ToolName:   toolName,
		Success:    result.Success,
		DurationMs: result.DurationMs,
		Error:      result.Error,
		ErrorKind:  string(result.Kind),
	}
	if assessment != nil {
		record.RiskScore = assessment.Score
		record.RiskLevel = string(assessment.OverallRisk)
		record.RiskTable = o.tableID
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("audit logger panicked", "panic", r)
		}
	}()
	if err := o.auditor.LogToolCall(ctx, record); err != nil {
		logger.Warn("failed to record audit entry", "error", err)
	}
}

// ExecuteSequence runs calls one at a time, in order, sharing opts. It stops
// after the first failed result and returns every result produced so far,
// the failing one included. Later calls are never invoked.
func (o *Orchestrator) ExecuteSequence(ctx context.Context, calls []Call, opts CallOptions) []ToolCallResult {
	ctx, span := o.tracer.Start(ctx, "toolproxy.sequence", trace.WithAttributes(
		attribute.Int("toolproxy.sequence_length", len(calls)),
	))
	defer span.End()

	results := make([]ToolCallResult, 0, len(calls))
	for i, call := range calls {
		result := o.ExecuteWithProxy(ctx, call.ServerID, call.ToolName, call.Args, opts)
		results = append(results, result)
		if !result.Success {
			o.logger.Info("sequence stopped at failed call",
				"index", i,
				"server", call.ServerID,
				"tool", call.ToolName,
				"remaining", len(calls)-i-1,
			)
			span.SetStatus(codes.Error, result.Error)
			break
		}
	}
	span.SetAttributes(attribute.Int("toolproxy.sequence_completed", len(results)))
	return results
}

// AssessToolRisk scores a tool against a profile without executing anything.
func (o *Orchestrator) AssessToolRisk(profile security.Profile, d tool.Descriptor) tool.Assessment {
	return o.engine.Assess(profile, d)
}

// GetAvailableTools returns the catalogs of all connected servers.
func (o *Orchestrator) GetAvailableTools() []tool.Descriptor {
	return o.clients.GetAllTools()
}

// GetServerTools returns one server's catalog.
func (o *Orchestrator) GetServerTools(serverID string) []tool.Descriptor {
	return o.clients.GetServerTools(serverID)
}

// RiskTableFingerprint identifies the table used to score calls.
func (o *Orchestrator) RiskTableFingerprint() string {
	return o.tableID
}
