package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// callFunc is the behavior of one tool on the fake client manager.
type callFunc func(ctx context.Context, req ToolCallRequest) (ToolCallResult, error)

func okCall(content any) callFunc {
	return func(ctx context.Context, req ToolCallRequest) (ToolCallResult, error) {
		return ToolCallResult{Success: true, Content: content}, nil
	}
}

func failCall(msg string) callFunc {
	return func(ctx context.Context, req ToolCallRequest) (ToolCallResult, error) {
		return ToolCallResult{}, errors.New(msg)
	}
}

// hangCall never returns until its context is cancelled.
func hangCall() callFunc {
	return func(ctx context.Context, req ToolCallRequest) (ToolCallResult, error) {
		<-ctx.Done()
		return ToolCallResult{}, ctx.Err()
	}
}

// fakeClients is an in-memory ClientManager that also spies on CallTool.
type fakeClients struct {
	servers map[string]*ConnectedServer
	calls   map[string]callFunc // key: server/tool

	mu       sync.Mutex
	invoked  []ToolCallRequest
	numCalls atomic.Int64
}

func newFakeClients() *fakeClients {
	return &fakeClients{
		servers: make(map[string]*ConnectedServer),
		calls:   make(map[string]callFunc),
	}
}

func (f *fakeClients) addServer(s *ConnectedServer) {
	f.servers[s.ID] = s
}

func (f *fakeClients) on(serverID, toolName string, fn callFunc) {
	f.calls[serverID+"/"+toolName] = fn
}

func (f *fakeClients) GetConnectedServer(serverID string) (*ConnectedServer, bool) {
	s, ok := f.servers[serverID]
	return s, ok
}

func (f *fakeClients) GetAllTools() []tool.Descriptor {
	var all []tool.Descriptor
	for _, s := range f.servers {
		all = append(all, s.AvailableTools...)
	}
	return all
}

func (f *fakeClients) GetServerTools(serverID string) []tool.Descriptor {
	if s, ok := f.servers[serverID]; ok {
		return s.AvailableTools
	}
	return nil
}

func (f *fakeClients) CallTool(ctx context.Context, req ToolCallRequest) (ToolCallResult, error) {
	f.numCalls.Add(1)
	f.mu.Lock()
	f.invoked = append(f.invoked, req)
	f.mu.Unlock()

	fn, ok := f.calls[req.ServerID+"/"+req.ToolName]
	if !ok {
		return ToolCallResult{Success: true, Content: "default"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeClients) invokedTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.invoked))
	for i, r := range f.invoked {
		names[i] = r.ToolName
	}
	return names
}

// fakeAuditor records audit entries and optionally fails.
type fakeAuditor struct {
	mu      sync.Mutex
	records []audit.ToolCallRecord
	err     error
	panics  bool
}

func (a *fakeAuditor) LogToolCall(ctx context.Context, record audit.ToolCallRecord) error {
	if a.panics {
		panic("audit backend exploded")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return a.err
}

func (a *fakeAuditor) all() []audit.ToolCallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.ToolCallRecord, len(a.records))
	copy(out, a.records)
	return out
}

// fakeRecorder counts recorded calls.
type fakeRecorder struct {
	mu          sync.Mutex
	results     []ToolCallResult
	assessments []*tool.Assessment
}

func (r *fakeRecorder) RecordToolCall(serverID string, result ToolCallResult, assessment *tool.Assessment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.assessments = append(r.assessments, assessment)
}
