package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/port/inbound"
	"github.com/Sentinel-Gate/toolproxy/internal/service"
)

const (
	maxRequestBody  = 1 << 20
	maxSequenceLen  = 100
	defaultRecentN  = 50
	maxRecentRecord = 1000
)

// ServerDirectory resolves connected servers, reports their state and
// re-lists their catalogs.
type ServerDirectory interface {
	GetConnectedServer(serverID string) (*proxy.ConnectedServer, bool)
	Status() []service.ServerStatus
	Refresh(ctx context.Context, serverID string) (int, error)
}

// API serves the JSON endpoints under /v1.
type API struct {
	proxy   inbound.ToolProxy
	servers ServerDirectory
	stats   *service.StatsService // optional
	recent  audit.RecentReader    // optional
}

// NewAPI creates the API. stats and recent may be nil.
func NewAPI(p inbound.ToolProxy, servers ServerDirectory, stats *service.StatsService, recent audit.RecentReader) *API {
	return &API{proxy: p, servers: servers, stats: stats, recent: recent}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/calls", a.handleCall)
	mux.HandleFunc("POST /v1/sequences", a.handleSequence)
	mux.HandleFunc("GET /v1/tools", a.handleTools)
	mux.HandleFunc("GET /v1/servers", a.handleServers)
	mux.HandleFunc("GET /v1/servers/{id}/tools", a.handleServerTools)
	mux.HandleFunc("POST /v1/servers/{id}/refresh", a.handleRefresh)
	mux.HandleFunc("POST /v1/assess", a.handleAssess)
	if a.stats != nil {
		mux.HandleFunc("GET /v1/stats", a.handleStats)
	}
	if a.recent != nil {
		mux.HandleFunc("GET /v1/audit", a.handleAudit)
	}
}

// callOptions is the wire form of proxy.CallOptions.
type callOptions struct {
	TimeoutMs    int64 `json:"timeoutMs,omitempty"`
	AllowBlocked bool  `json:"allowBlocked,omitempty"`
	SkipAudit    bool  `json:"skipAudit,omitempty"`
}

// maxTimeoutMs is the largest timeout that fits in a time.Duration.
const maxTimeoutMs = math.MaxInt64 / int64(time.Millisecond)

func (o callOptions) toProxy() (proxy.CallOptions, error) {
	if o.TimeoutMs < 0 {
		return proxy.CallOptions{}, errors.New("timeoutMs must not be negative")
	}
	if o.TimeoutMs > maxTimeoutMs {
		return proxy.CallOptions{}, fmt.Errorf("timeoutMs must not exceed %d", maxTimeoutMs)
	}
	return proxy.CallOptions{
		Timeout:      time.Duration(o.TimeoutMs) * time.Millisecond,
		AllowBlocked: o.AllowBlocked,
		SkipAudit:    o.SkipAudit,
	}, nil
}

type callRequest struct {
	ServerID string         `json:"serverId"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args,omitempty"`
	Options  callOptions    `json:"options"`
}

type sequenceRequest struct {
	Calls   []proxy.Call `json:"calls"`
	Options callOptions  `json:"options"`
}

type sequenceResponse struct {
	Results   []proxy.ToolCallResult `json:"results"`
	Completed bool                   `json:"completed"`
}

// profileBody is the wire form of a security profile.
type profileBody struct {
	RiskLevel     string   `json:"riskLevel"`
	Capabilities  []string `json:"capabilities,omitempty"`
	ToolBlocklist []string `json:"toolBlocklist,omitempty"`
	ToolAllowlist []string `json:"toolAllowlist,omitempty"`
}

func (p profileBody) toProfile() (security.Profile, error) {
	var profile security.Profile
	if p.RiskLevel != "" {
		level, err := security.ParseRiskLevel(p.RiskLevel)
		if err != nil {
			return profile, err
		}
		profile.RiskLevel = level
	}
	for _, c := range p.Capabilities {
		capability, err := security.ParseCapability(c)
		if err != nil {
			return profile, err
		}
		profile.Capabilities = append(profile.Capabilities, capability)
	}
	profile.ToolBlocklist = p.ToolBlocklist
	profile.ToolAllowlist = p.ToolAllowlist
	return profile, nil
}

// assessRequest names either a connected server and one of its tools, or
// an explicit profile and descriptor.
type assessRequest struct {
	ServerID string           `json:"serverId,omitempty"`
	ToolName string           `json:"toolName,omitempty"`
	Profile  *profileBody     `json:"profile,omitempty"`
	Tool     *tool.Descriptor `json:"tool,omitempty"`
}

type assessResponse struct {
	Factors     []string           `json:"factors"`
	OverallRisk security.RiskLevel `json:"overallRisk"`
	Score       int                `json:"score"`
}

func (a *API) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "serverId and toolName are required")
		return
	}
	opts, err := req.Options.toProxy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := a.proxy.ExecuteWithProxy(r.Context(), req.ServerID, req.ToolName, req.Args, opts)
	LoggerFromContext(r.Context()).Debug("tool call handled",
		"request_id", result.RequestID,
		"success", result.Success,
	)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSequence(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Calls) > maxSequenceLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("sequence longer than %d calls", maxSequenceLen))
		return
	}
	for i, c := range req.Calls {
		if c.ServerID == "" || c.ToolName == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("calls[%d]: serverId and toolName are required", i))
			return
		}
	}
	opts, err := req.Options.toProxy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := a.proxy.ExecuteSequence(r.Context(), req.Calls, opts)
	writeJSON(w, http.StatusOK, sequenceResponse{
		Results:   results,
		Completed: len(results) == len(req.Calls) && (len(results) == 0 || results[len(results)-1].Success),
	})
}

func (a *API) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := a.proxy.GetAvailableTools()
	if tools == nil {
		tools = []tool.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (a *API) handleServers(w http.ResponseWriter, r *http.Request) {
	servers := a.servers.Status()
	if servers == nil {
		servers = []service.ServerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (a *API) handleServerTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tools := a.proxy.GetServerTools(id)
	if tools == nil {
		writeError(w, http.StatusNotFound, proxy.ErrServerNotConnected.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serverId": id, "tools": tools})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := a.servers.Refresh(r.Context(), id)
	switch {
	case errors.Is(err, proxy.ErrServerNotConnected):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		LoggerFromContext(r.Context()).Warn("catalog refresh failed", "server", id, "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serverId": id, "tools": n})
}

func (a *API) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		profile    security.Profile
		descriptor tool.Descriptor
	)
	switch {
	case req.ServerID != "":
		server, ok := a.servers.GetConnectedServer(req.ServerID)
		if !ok {
			writeError(w, http.StatusNotFound, proxy.ErrServerNotConnected.Error())
			return
		}
		d, found := server.FindTool(req.ToolName)
		if !found {
			writeError(w, http.StatusNotFound, proxy.ErrToolNotFound.Error())
			return
		}
		profile, descriptor = server.Profile, d
	case req.Profile != nil && req.Tool != nil:
		p, err := req.Profile.toProfile()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		profile, descriptor = p, *req.Tool
	default:
		writeError(w, http.StatusBadRequest, "either serverId and toolName, or profile and tool, are required")
		return
	}

	a.writeAssessment(w, a.proxy.AssessToolRisk(profile, descriptor))
}

func (a *API) writeAssessment(w http.ResponseWriter, assessment tool.Assessment) {
	factors := assessment.Factors
	if factors == nil {
		factors = []string{}
	}
	writeJSON(w, http.StatusOK, assessResponse{
		Factors:     factors,
		OverallRisk: assessment.OverallRisk,
		Score:       assessment.Score,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stats.GetStats())
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := defaultRecentN
	if s := r.URL.Query().Get("limit"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		n = min(n, maxRecentRecord)
	}
	outcome := r.URL.Query().Get("outcome")
	if outcome != "" && outcome != audit.OutcomeSuccess && outcome != audit.OutcomeFailure {
		writeError(w, http.StatusBadRequest, "outcome must be success or failure")
		return
	}

	records, err := a.recent.Recent(r.Context(), n)
	if err != nil {
		LoggerFromContext(r.Context()).Error("failed to read audit records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit records")
		return
	}
	if outcome != "" {
		records = slices.DeleteFunc(records, func(rec audit.ToolCallRecord) bool {
			return rec.Outcome() != outcome
		})
	}
	if records == nil {
		records = []audit.ToolCallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
