package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/upstream"
	"github.com/Sentinel-Gate/toolproxy/internal/port/outbound"
)

// SessionFactory opens a session with an upstream server.
type SessionFactory func(ctx context.Context, u *upstream.Upstream) (outbound.ToolSession, error)

// serverConn is the runtime state of one configured server.
type serverConn struct {
	upstream  upstream.Upstream
	session   outbound.ToolSession
	status    upstream.ConnectionStatus
	lastError string
	since     time.Time
}

// ServerStatus is a snapshot of one server's connection.
type ServerStatus struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Status    upstream.ConnectionStatus `json:"status"`
	LastError string                    `json:"last_error,omitempty"`
	Tools     int                       `json:"tools"`
}

// ClientManager owns the sessions with external MCP servers and their tool
// catalogs. It implements proxy.ClientManager.
type ClientManager struct {
	factory SessionFactory
	cache   *upstream.ToolCache
	logger  *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*serverConn
	closed bool

	connectAttempts int
	backoffBase     time.Duration
	backoffCap      time.Duration
	concurrency     int
}

// ClientManagerOption configures a ClientManager.
type ClientManagerOption func(*ClientManager)

// WithConnectAttempts sets how many times Connect tries a server before
// giving up. Values below 1 mean a single attempt.
func WithConnectAttempts(n int) ClientManagerOption {
	return func(m *ClientManager) {
		m.connectAttempts = max(n, 1)
	}
}

// WithBackoff sets the base and cap of the delay between connect attempts.
func WithBackoff(base, limit time.Duration) ClientManagerOption {
	return func(m *ClientManager) {
		m.backoffBase = base
		m.backoffCap = limit
	}
}

// WithConnectConcurrency bounds how many servers ConnectAll dials at once.
func WithConnectConcurrency(n int) ClientManagerOption {
	return func(m *ClientManager) {
		m.concurrency = n
	}
}

// NewClientManager creates a ClientManager that opens sessions with factory.
func NewClientManager(factory SessionFactory, logger *slog.Logger, opts ...ClientManagerOption) *ClientManager {
	m := &ClientManager{
		factory:         factory,
		cache:           upstream.NewToolCache(),
		logger:          logger,
		conns:           make(map[string]*serverConn),
		connectAttempts: 3,
		backoffBase:     500 * time.Millisecond,
		backoffCap:      10 * time.Second,
		concurrency:     8,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnectAll connects every enabled server concurrently. A server that cannot
// be reached is logged and left unconnected; calls to it then fail with
// "server not connected". The returned error is only ever ctx's.
func (m *ClientManager) ConnectAll(ctx context.Context, upstreams []upstream.Upstream) error {
	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}

	for i := range upstreams {
		u := upstreams[i]
		if !u.Enabled {
			m.register(u, upstream.StatusDisconnected, "disabled")
			continue
		}
		g.Go(func() error {
			if err := m.Connect(gctx, u); err != nil {
				m.logger.Error("failed to connect server",
					"server", u.ID,
					"name", u.DisplayName(),
					"error", err,
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Info("servers connected", "tools", m.cache.Count())
	return ctx.Err()
}

// Connect opens a session with u, lists its tools and registers it. Failed
// attempts are retried with exponential backoff.
func (m *ClientManager) Connect(ctx context.Context, u upstream.Upstream) error {
	if err := u.Validate(); err != nil {
		m.register(u, upstream.StatusError, err.Error())
		return err
	}

	var lastErr error
	for attempt := 0; attempt < m.connectAttempts; attempt++ {
		if attempt > 0 {
			delay := m.backoffDelay(attempt - 1)
			m.logger.Info("retrying server connection", "server", u.ID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				m.register(u, upstream.StatusError, lastErr.Error())
				return lastErr
			}
		}

		lastErr = m.connectOnce(ctx, u)
		if lastErr == nil {
			return nil
		}
	}
	m.register(u, upstream.StatusError, lastErr.Error())
	return fmt.Errorf("connect %s after %d attempts: %w", u.ID, m.connectAttempts, lastErr)
}

func (m *ClientManager) connectOnce(ctx context.Context, u upstream.Upstream) error {
	session, err := m.factory(ctx, &u)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = session.Close()
		return errors.New("client manager closed")
	}
	old := m.conns[u.ID]
	m.conns[u.ID] = &serverConn{
		upstream: u,
		session:  session,
		status:   upstream.StatusConnected,
		since:    time.Now(),
	}
	kept := m.cache.SetToolsForUpstream(u.ID, tools)
	m.mu.Unlock()

	if old != nil && old.session != nil {
		_ = old.session.Close()
	}
	if kept < len(tools) {
		m.logger.Warn("tool catalog truncated", "server", u.ID, "listed", len(tools), "kept", kept)
	}
	m.logger.Info("server connected", "server", u.ID, "name", u.DisplayName(), "tools", kept)
	return nil
}

// register records a server that is not connected so it shows up in Status.
func (m *ClientManager) register(u upstream.Upstream, status upstream.ConnectionStatus, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[u.ID]; ok && c.session != nil {
		return
	}
	m.conns[u.ID] = &serverConn{upstream: u, status: status, lastError: lastError}
}

// backoffDelay returns min(base * 2^retry, cap).
func (m *ClientManager) backoffDelay(retry int) time.Duration {
	delay := m.backoffBase
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= m.backoffCap {
			return m.backoffCap
		}
	}
	return min(delay, m.backoffCap)
}

// Refresh re-lists the tools of a connected server.
func (m *ClientManager) Refresh(ctx context.Context, serverID string) (int, error) {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || c.session == nil {
		return 0, proxy.ErrServerNotConnected
	}

	tools, err := c.session.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools: %w", err)
	}
	return m.cache.SetToolsForUpstream(serverID, tools), nil
}

// Close closes every session. The manager cannot be reused.
func (m *ClientManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]*serverConn)
	m.mu.Unlock()

	var errs []error
	for id, c := range conns {
		m.cache.RemoveUpstream(id)
		if c.session == nil {
			continue
		}
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of every known server, sorted by ID.
func (m *ClientManager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.conns))
	for id, c := range m.conns {
		out = append(out, ServerStatus{
			ID:        id,
			Name:      c.upstream.DisplayName(),
			Status:    c.status,
			LastError: c.lastError,
			Tools:     len(m.cache.GetToolsByUpstream(id)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AnyConnected reports whether at least one server is connected.
func (m *ClientManager) AnyConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		if c.status == upstream.StatusConnected {
			return true
		}
	}
	return false
}

// GetConnectedServer returns a connected server with its profile and catalog.
func (m *ClientManager) GetConnectedServer(serverID string) (*proxy.ConnectedServer, bool) {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || c.status != upstream.StatusConnected {
		return nil, false
	}
	return &proxy.ConnectedServer{
		ID:             serverID,
		Profile:        c.upstream.Profile,
		AvailableTools: m.cache.GetToolsByUpstream(serverID),
	}, true
}

// GetAllTools returns the tools of every connected server.
func (m *ClientManager) GetAllTools() []tool.Descriptor {
	return m.cache.GetAllTools()
}

// GetServerTools returns one server's tools, nil when unknown.
func (m *ClientManager) GetServerTools(serverID string) []tool.Descriptor {
	return m.cache.GetToolsByUpstream(serverID)
}

// CallTool forwards a call to the server's session.
func (m *ClientManager) CallTool(ctx context.Context, req proxy.ToolCallRequest) (proxy.ToolCallResult, error) {
	m.mu.RLock()
	c, ok := m.conns[req.ServerID]
	m.mu.RUnlock()
	if !ok || c.session == nil {
		return proxy.ToolCallResult{}, proxy.ErrServerNotConnected
	}

	content, err := c.session.CallTool(ctx, req.ToolName, req.Args)
	if err != nil {
		return proxy.ToolCallResult{}, err
	}
	return proxy.ToolCallResult{Success: true, Content: content}, nil
}
