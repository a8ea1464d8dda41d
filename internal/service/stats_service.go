// Package service contains application services: the client manager over
// external MCP servers, the asynchronous audit logger and runtime stats.
package service

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// StatsService counts tool call outcomes. It implements proxy.Recorder and
// is safe for concurrent use.
type StatsService struct {
	succeeded atomic.Int64
	failed    atomic.Int64

	mu          sync.Mutex
	byKind      map[proxy.ErrorKind]int64
	byServer    map[string]int64
	byRiskLevel map[string]int64
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		byKind:      make(map[proxy.ErrorKind]int64),
		byServer:    make(map[string]int64),
		byRiskLevel: make(map[string]int64),
	}
}

// RecordToolCall counts one finished call.
func (s *StatsService) RecordToolCall(serverID string, result proxy.ToolCallResult, assessment *tool.Assessment) {
	if result.Success {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !result.Success {
		s.byKind[result.Kind]++
	}
	if serverID != "" {
		s.byServer[serverID]++
	}
	if assessment != nil {
		s.byRiskLevel[string(assessment.OverallRisk)]++
	}
}

// Stats is a point-in-time snapshot of the counters.
type Stats struct {
	Succeeded   int64                     `json:"succeeded"`
	Failed      int64                     `json:"failed"`
	ByKind      map[proxy.ErrorKind]int64 `json:"by_error_kind"`
	ByServer    map[string]int64          `json:"by_server"`
	ByRiskLevel map[string]int64          `json:"by_risk_level"`
}

// GetStats returns a snapshot. Each counter is consistent on its own but the
// snapshot is not atomic across counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	byKind := maps.Clone(s.byKind)
	byServer := maps.Clone(s.byServer)
	byRisk := maps.Clone(s.byRiskLevel)
	s.mu.Unlock()

	return Stats{
		Succeeded:   s.succeeded.Load(),
		Failed:      s.failed.Load(),
		ByKind:      byKind,
		ByServer:    byServer,
		ByRiskLevel: byRisk,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.succeeded.Store(0)
	s.failed.Store(0)

	s.mu.Lock()
	s.byKind = make(map[proxy.ErrorKind]int64)
	s.byServer = make(map[string]int64)
	s.byRiskLevel = make(map[string]int64)
	s.mu.Unlock()
}
