package proxy

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

func descriptors(names ...string) []tool.Descriptor {
	out := make([]tool.Descriptor, len(names))
	for i, n := range names {
		out[i] = tool.Descriptor{Name: n}
	}
	return out
}

// newTestOrchestrator wires an orchestrator over one low-risk server "fs"
// exposing read_file, write_file and delete_file.
func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *fakeClients, *fakeAuditor) {
	t.Helper()
	clients := newFakeClients()
	clients.addServer(&ConnectedServer{
		ID: "fs",
		Profile: security.Profile{
			RiskLevel:     security.RiskLevelLow,
			Capabilities:  []security.Capability{security.CapabilityFileSystem},
			ToolBlocklist: []string{"delete_file"},
		},
		AvailableTools: descriptors("read_file", "write_file", "delete_file"),
	})
	auditor := &fakeAuditor{}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewOrchestrator(clients, auditor, opts...), clients, auditor
}

func assertFailureShape(t *testing.T, res ToolCallResult) {
	t.Helper()
	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if res.Content != nil {
		t.Errorf("Content = %v, want nil on failure", res.Content)
	}
	if res.Error == "" {
		t.Error("Error is empty on failure")
	}
	if !requestIDPattern.MatchString(res.RequestID) {
		t.Errorf("RequestID = %q, want mcp-<ts>-<suffix>", res.RequestID)
	}
}

func TestExecuteWithProxy_Success(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, auditor := newTestOrchestrator(t)
	clients.on("fs", "read_file", okCall("contents"))

	args := map[string]any{"path": "/tmp/a"}
	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", args, CallOptions{})

	if !res.Success {
		t.Fatalf("ExecuteWithProxy() failed: %s", res.Error)
	}
	if res.Content != "contents" {
		t.Errorf("Content = %v, want contents", res.Content)
	}
	if !requestIDPattern.MatchString(res.RequestID) {
		t.Errorf("RequestID = %q", res.RequestID)
	}

	if len(clients.invoked) != 1 {
		t.Fatalf("CallTool invoked %d times, want 1", len(clients.invoked))
	}
	got := clients.invoked[0]
	if !reflect.DeepEqual(got.Args, args) {
		t.Errorf("Args = %v, want %v", got.Args, args)
	}
	if got.RequestID != res.RequestID {
		t.Errorf("downstream RequestID = %q, want %q", got.RequestID, res.RequestID)
	}
	if got.Timeout != DefaultTimeout {
		t.Errorf("downstream Timeout = %v, want %v", got.Timeout, DefaultTimeout)
	}

	records := auditor.all()
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ServerID != "fs" || rec.ToolName != "read_file" || !rec.Success {
		t.Errorf("audit record = %+v", rec)
	}
	if rec.RequestID != res.RequestID {
		t.Errorf("audit RequestID = %q, want %q", rec.RequestID, res.RequestID)
	}
	// low (1) + file system (1)
	if rec.RiskScore != 2 || rec.RiskLevel != string(security.RiskLevelLow) {
		t.Errorf("audit risk = %d/%s, want 2/low", rec.RiskScore, rec.RiskLevel)
	}
	if rec.RiskTable != o.RiskTableFingerprint() {
		t.Errorf("audit RiskTable = %q, want %q", rec.RiskTable, o.RiskTableFingerprint())
	}
}

func TestExecuteWithProxy_Failures(t *testing.T) {
	tests := []struct {
		name     string
		server   string
		tool     string
		opts     CallOptions
		wantKind ErrorKind
		wantErr  string
	}{
		{"unknown server", "nope", "read_file", CallOptions{}, KindServerUnavailable, "server not connected"},
		{"unknown tool", "fs", "format_disk", CallOptions{}, KindToolNotFound, "tool not found"},
		{"blocklisted tool", "fs", "delete_file", CallOptions{}, KindAccessDenied, security.ReasonBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			o, clients, auditor := newTestOrchestrator(t)
			res := o.ExecuteWithProxy(context.Background(), tt.server, tt.tool, nil, tt.opts)

			assertFailureShape(t, res)
			if res.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", res.Kind, tt.wantKind)
			}
			if res.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantErr)
			}
			if n := clients.numCalls.Load(); n != 0 {
				t.Errorf("CallTool invoked %d times, want 0", n)
			}
			if records := auditor.all(); len(records) != 1 || records[0].Success {
				t.Errorf("audit records = %+v, want one failure", records)
			}
		})
	}
}

func TestExecuteWithProxy_AllowBlocked(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.on("fs", "delete_file", okCall("deleted"))

	res := o.ExecuteWithProxy(context.Background(), "fs", "delete_file", nil, CallOptions{AllowBlocked: true})
	if !res.Success {
		t.Fatalf("ExecuteWithProxy() failed: %s", res.Error)
	}
	if n := clients.numCalls.Load(); n != 1 {
		t.Errorf("CallTool invoked %d times, want 1", n)
	}
}

func TestExecuteWithProxy_Allowlist(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.servers["fs"].Profile.ToolAllowlist = []string{"read_file"}

	res := o.ExecuteWithProxy(context.Background(), "fs", "write_file", nil, CallOptions{AllowBlocked: true})
	assertFailureShape(t, res)
	if res.Kind != KindAccessDenied || res.Error != security.ReasonNotInAllowlist {
		t.Errorf("result = %+v, want access denied / not in allowlist", res)
	}

	res = o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	if !res.Success {
		t.Errorf("allowlisted call failed: %s", res.Error)
	}
}

func TestExecuteWithProxy_DownstreamFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, auditor := newTestOrchestrator(t)
	clients.on("fs", "read_file", failCall("permission denied"))

	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})

	assertFailureShape(t, res)
	if res.Kind != KindExecutionFailure || res.Error != "permission denied" {
		t.Errorf("result = %+v", res)
	}
	if !errors.Is(res.Err(), ErrExecutionFailed) {
		t.Errorf("Err() = %v, want ErrExecutionFailed", res.Err())
	}
	if rec := auditor.all(); len(rec) != 1 || rec[0].Error != "permission denied" {
		t.Errorf("audit records = %+v", rec)
	}
}

func TestExecuteWithProxy_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.on("fs", "read_file", hangCall())

	const timeout = 100 * time.Millisecond
	start := time.Now()
	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{Timeout: timeout})
	elapsed := time.Since(start)

	assertFailureShape(t, res)
	if res.Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", res.Kind, KindTimeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("call took %v, want about %v", elapsed, timeout)
	}
	if res.DurationMs < timeout.Milliseconds() {
		t.Errorf("DurationMs = %d, want >= %d", res.DurationMs, timeout.Milliseconds())
	}
}

func TestExecuteWithProxy_ProfileTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.servers["fs"].Profile.MaxExecution = 7 * time.Second

	o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	if got := clients.invoked[0].Timeout; got != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", got)
	}

	o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{Timeout: time.Second})
	if got := clients.invoked[1].Timeout; got != time.Second {
		t.Errorf("Timeout = %v, want 1s", got)
	}
}

func TestExecuteWithProxy_DefaultTimeoutOption(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t, WithDefaultTimeout(3*time.Second))
	o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	if got := clients.invoked[0].Timeout; got != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", got)
	}
}

func TestExecuteWithProxy_SkipAudit(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, _, auditor := newTestOrchestrator(t)
	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{SkipAudit: true})
	if !res.Success {
		t.Fatalf("ExecuteWithProxy() failed: %s", res.Error)
	}
	if n := len(auditor.all()); n != 0 {
		t.Errorf("audit records = %d, want 0", n)
	}
}

func TestExecuteWithProxy_AuditFailureDoesNotChangeResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, auditor := newTestOrchestrator(t)
	clients.on("fs", "read_file", okCall("ok"))
	auditor.err = errors.New("disk full")

	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	if !res.Success || res.Content != "ok" {
		t.Errorf("result = %+v, want success with content ok", res)
	}
}

func TestExecuteWithProxy_AuditPanicDoesNotChangeResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, auditor := newTestOrchestrator(t)
	clients.on("fs", "read_file", okCall("ok"))
	auditor.panics = true

	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	if !res.Success {
		t.Errorf("result = %+v, want success", res)
	}
}

type panicRecorder struct{}

func (panicRecorder) RecordToolCall(string, ToolCallResult, *tool.Assessment) {
	panic("metrics broke")
}

func TestExecuteWithProxy_RecorderPanicDoesNotEscape(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	o, clients, auditor := newTestOrchestrator(t, WithRecorder(panicRecorder{}), WithRecorder(rec))
	clients.on("fs", "read_file", okCall("ok"))

	tests := []struct {
		name        string
		server      string
		wantSuccess bool
	}{
		{"success", "fs", true},
		{"unknown server", "nope", false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := o.ExecuteWithProxy(context.Background(), tt.server, "read_file", nil, CallOptions{})
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v (%+v)", res.Success, tt.wantSuccess, res)
			}
			if got := len(auditor.all()); got != i+1 {
				t.Errorf("audit records = %d, want %d", got, i+1)
			}
			rec.mu.Lock()
			recorded := len(rec.results)
			rec.mu.Unlock()
			if recorded != i+1 {
				t.Errorf("later recorder saw %d calls, want %d", recorded, i+1)
			}
		})
	}
}

func TestExecuteWithProxy_NilAuditor(t *testing.T) {
	defer goleak.VerifyNone(t)

	clients := newFakeClients()
	clients.addServer(&ConnectedServer{ID: "fs", AvailableTools: descriptors("read_file")})
	o := NewOrchestrator(clients, nil, WithLogger(discardLogger()))

	if res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{}); !res.Success {
		t.Errorf("result = %+v, want success", res)
	}
}

type panickingClients struct{ *fakeClients }

func (panickingClients) GetConnectedServer(string) (*ConnectedServer, bool) {
	panic("registry corrupted")
}

func TestExecuteWithProxy_PanicBecomesUnexpectedError(t *testing.T) {
	defer goleak.VerifyNone(t)

	auditor := &fakeAuditor{}
	o := NewOrchestrator(panickingClients{newFakeClients()}, auditor, WithLogger(discardLogger()))

	res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	assertFailureShape(t, res)
	if res.Kind != KindUnexpected {
		t.Errorf("Kind = %q, want %q", res.Kind, KindUnexpected)
	}
	if !errors.Is(res.Err(), ErrUnexpected) {
		t.Errorf("Err() = %v, want ErrUnexpected", res.Err())
	}
	if len(auditor.all()) != 1 {
		t.Error("panicked call was not audited")
	}
}

func TestExecuteWithProxy_Recorder(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &fakeRecorder{}
	o, _, _ := newTestOrchestrator(t, WithRecorder(rec), WithRecorder(nil))

	o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{})
	o.ExecuteWithProxy(context.Background(), "nope", "read_file", nil, CallOptions{})

	if len(rec.results) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(rec.results))
	}
	if rec.assessments[0] == nil || rec.assessments[0].Score != 2 {
		t.Errorf("first assessment = %+v, want score 2", rec.assessments[0])
	}
	if rec.assessments[1] != nil {
		t.Errorf("second assessment = %+v, want nil for unknown server", rec.assessments[1])
	}
}

func TestExecuteWithProxy_UniqueRequestIDs(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, _, _ := newTestOrchestrator(t)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		res := o.ExecuteWithProxy(context.Background(), "fs", "read_file", nil, CallOptions{SkipAudit: true})
		if _, dup := seen[res.RequestID]; dup {
			t.Fatalf("duplicate request ID %q", res.RequestID)
		}
		seen[res.RequestID] = struct{}{}
	}
}

func TestExecuteSequence_StopsAtFirstFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.on("fs", "read_file", okCall("a"))
	clients.on("fs", "write_file", failCall("read-only"))

	calls := []Call{
		{ServerID: "fs", ToolName: "read_file"},
		{ServerID: "fs", ToolName: "write_file"},
		{ServerID: "fs", ToolName: "read_file"},
	}
	results := o.ExecuteSequence(context.Background(), calls, CallOptions{})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].Success || results[1].Success {
		t.Errorf("results = %+v, want [success, failure]", results)
	}
	if got := clients.invokedTools(); !reflect.DeepEqual(got, []string{"read_file", "write_file"}) {
		t.Errorf("invoked = %v, third call must not run", got)
	}
}

func TestExecuteSequence_AllSucceed(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	clients.on("fs", "read_file", okCall("a"))
	clients.on("fs", "write_file", okCall("b"))

	calls := []Call{
		{ServerID: "fs", ToolName: "read_file"},
		{ServerID: "fs", ToolName: "write_file"},
	}
	results := o.ExecuteSequence(context.Background(), calls, CallOptions{})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Content != "a" || results[1].Content != "b" {
		t.Errorf("results out of order: %+v", results)
	}
}

func TestExecuteSequence_DeniedCallStopsSequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, clients, _ := newTestOrchestrator(t)
	calls := []Call{
		{ServerID: "fs", ToolName: "delete_file"},
		{ServerID: "fs", ToolName: "read_file"},
	}
	results := o.ExecuteSequence(context.Background(), calls, CallOptions{})

	if len(results) != 1 || results[0].Kind != KindAccessDenied {
		t.Errorf("results = %+v, want one access denied", results)
	}
	if n := clients.numCalls.Load(); n != 0 {
		t.Errorf("CallTool invoked %d times, want 0", n)
	}
}

func TestExecuteSequence_Empty(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, _, _ := newTestOrchestrator(t)
	results := o.ExecuteSequence(context.Background(), nil, CallOptions{})
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

func TestCatalogQueries(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if got := len(o.GetAvailableTools()); got != 3 {
		t.Errorf("GetAvailableTools() = %d tools, want 3", got)
	}
	if got := len(o.GetServerTools("fs")); got != 3 {
		t.Errorf("GetServerTools(fs) = %d tools, want 3", got)
	}
	if got := o.GetServerTools("nope"); got != nil {
		t.Errorf("GetServerTools(nope) = %v, want nil", got)
	}
}

func TestAssessToolRisk(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	profile := security.Profile{
		RiskLevel:    security.RiskLevelCritical,
		Capabilities: []security.Capability{security.CapabilityCodeExecution},
	}
	a := o.AssessToolRisk(profile, tool.Descriptor{Name: "delete_records"})

	// critical (4) + code execution (2) + destructive (2)
	if a.Score != 8 || a.OverallRisk != security.RiskLevelCritical {
		t.Errorf("AssessToolRisk() = %d/%s, want 8/critical", a.Score, a.OverallRisk)
	}
	if len(a.Factors) != 3 {
		t.Errorf("Factors = %v, want 3 entries", a.Factors)
	}
}
