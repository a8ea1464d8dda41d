package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

func TestMetrics_RecordToolCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assessment := &tool.Assessment{Score: 4, OverallRisk: security.RiskLevelMedium}
	m.RecordToolCall("fs", proxy.ToolCallResult{Success: true, DurationMs: 20}, assessment)
	m.RecordToolCall("fs", proxy.ToolCallResult{Kind: proxy.KindTimeout, DurationMs: 5000}, assessment)
	m.RecordToolCall("fs", proxy.ToolCallResult{Kind: proxy.KindServerUnavailable}, nil)

	tests := []struct {
		outcome string
		want    float64
	}{
		{"success", 1},
		{"timeout", 1},
		{"server_unavailable", 1},
		{"access_denied", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("fs", tt.outcome)); got != tt.want {
			t.Errorf("tool_calls_total{outcome=%q} = %v, want %v", tt.outcome, got, tt.want)
		}
	}

	// Only assessed calls observe a risk score.
	if got := testutil.CollectAndCount(m.RiskScore); got != 1 {
		t.Errorf("risk_score series = %d, want 1", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "toolproxy_risk_score" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 2 || h.GetSampleSum() != 8 {
			t.Errorf("risk_score count/sum = %d/%v, want 2/8", h.GetSampleCount(), h.GetSampleSum())
		}
	}
}

func TestRegisterAuditDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	var drops int64 = 7
	counter := RegisterAuditDrops(reg, func() int64 { return drops })

	if got := testutil.ToFloat64(counter); got != 7 {
		t.Errorf("audit_drops_total = %v, want 7", got)
	}
	drops = 9
	if got := testutil.ToFloat64(counter); got != 9 {
		t.Errorf("audit_drops_total = %v, want 9", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/v1/calls", "/v1/calls", "/v1/fail", "/health", "/metrics"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "ok")); got != 2 {
		t.Errorf("requests ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "error")); got != 1 {
		t.Errorf("requests error = %v, want 1", got)
	}
}

func TestStatusToLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "ok"},
		{302, "ok"},
		{400, "error"},
		{503, "error"},
	}
	for _, tt := range tests {
		if got := statusToLabel(tt.code); got != tt.want {
			t.Errorf("statusToLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
