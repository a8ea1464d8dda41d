// Package config provides configuration types and loading for toolproxy.
//
// Configuration comes from a YAML file (toolproxy.yaml) with environment
// overrides prefixed TOOLPROXY_. Servers are listed in the file only; their
// security profiles are validated against the closed risk level and
// capability sets before anything connects.
package config

import (
	"fmt"
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/upstream"
)

// Config is the top-level configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// DevMode forces debug logging and relaxes the audit defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// DefaultTimeout bounds a call when neither the call nor the server sets
	// one (e.g. "30s"). Default: 30s.
	DefaultTimeout string `yaml:"default_timeout" mapstructure:"default_timeout" validate:"omitempty,duration"`

	// RiskTable is the path of a YAML risk table. Empty uses the built-in table.
	RiskTable string `yaml:"risk_table" mapstructure:"risk_table"`

	// Servers are the external MCP servers calls are forwarded to.
	Servers []ServerConfig `yaml:"servers" mapstructure:"servers" validate:"omitempty,dive"`

	// Connect configures how sessions with servers are established.
	Connect ConnectConfig `yaml:"connect" mapstructure:"connect"`

	// Audit configures where and how call records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// HTTP configures the API listener used by the serve command.
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ServerConfig describes one external MCP server and its security profile.
type ServerConfig struct {
	// ID addresses the server in tool calls.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`
	// Name is a display name. Defaults to ID.
	Name string `yaml:"name" mapstructure:"name"`
	// Type is "stdio" or "http".
	Type string `yaml:"type" mapstructure:"type" validate:"required,oneof=stdio http"`
	// Enabled controls whether the server is connected at startup. Default: true.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// Command and Args launch a stdio server.
	Command string            `yaml:"command" mapstructure:"command"`
	Args    []string          `yaml:"args" mapstructure:"args"`
	Env     map[string]string `yaml:"env" mapstructure:"env"`

	// URL is the Streamable HTTP endpoint of an http server.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	RiskLevel     string   `yaml:"risk_level" mapstructure:"risk_level" validate:"required,risk_level"`
	Capabilities  []string `yaml:"capabilities" mapstructure:"capabilities" validate:"omitempty,dive,capability"`
	ToolBlocklist []string `yaml:"tool_blocklist" mapstructure:"tool_blocklist"`
	ToolAllowlist []string `yaml:"tool_allowlist" mapstructure:"tool_allowlist"`
	// MaxExecution bounds every call to this server (e.g. "10s").
	MaxExecution string `yaml:"max_execution" mapstructure:"max_execution" validate:"omitempty,duration"`
}

// ConnectConfig configures session establishment at startup. Tool calls are
// never retried.
type ConnectConfig struct {
	// Attempts is how many times a server is dialed before it is left
	// unconnected. Default: 3.
	Attempts int `yaml:"attempts" mapstructure:"attempts" validate:"gte=0,lte=10"`
	// Concurrency bounds how many servers are dialed at once. Default: 8.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=0"`
	// ResponseHeaderTimeout bounds the wait for response headers from http
	// servers. Streams are not cut. Default: 30s.
	ResponseHeaderTimeout string `yaml:"response_header_timeout" mapstructure:"response_header_timeout" validate:"omitempty,duration"`
}

// ResponseHeaderTimeoutDuration returns ResponseHeaderTimeout parsed. Call
// after Validate.
func (c ConnectConfig) ResponseHeaderTimeoutDuration() time.Duration {
	return durationOrZero(c.ResponseHeaderTimeout)
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	// Output is "stdout", "file:///abs/path" or "sqlite:///abs/path".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`
	// ChannelSize is the async buffer capacity. Default: 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"gte=0"`
	// BatchSize is the number of records written per store call. Default: 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=0"`
	// FlushInterval is how often a partial batch is written. Default: 1s.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`
	// SendTimeout is how long a call waits on a full buffer before the
	// record is dropped. Default: 100ms.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`
	// WarningThreshold is the buffer fill percentage that logs a warning. Default: 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"gte=0,lte=100"`
	// RecentSize is the number of records the stdout and file outputs keep
	// in memory for /v1/audit. Default: 1000.
	RecentSize int `yaml:"recent_size" mapstructure:"recent_size" validate:"gte=0"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:8080.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	// AllowedOrigins lists Origin header values accepted by the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// SetDefaults applies default values for unset optional fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DefaultTimeout == "" {
		c.DefaultTimeout = "30s"
	}

	if c.Connect.Attempts == 0 {
		c.Connect.Attempts = 3
	}
	if c.Connect.Concurrency == 0 {
		c.Connect.Concurrency = 8
	}
	if c.Connect.ResponseHeaderTimeout == "" {
		c.Connect.ResponseHeaderTimeout = "30s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.RecentSize == 0 {
		c.Audit.RecentSize = 1000
	}

	// localhost only unless configured otherwise
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
}

// SetDevDefaults applies development overrides. Does nothing unless DevMode.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.LogLevel = "debug"
	if c.Audit.FlushInterval == "" || c.Audit.FlushInterval == "1s" {
		c.Audit.FlushInterval = "100ms"
	}
}

// DefaultTimeoutDuration returns DefaultTimeout parsed. Call after Validate.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	return durationOrZero(c.DefaultTimeout)
}

// FlushIntervalDuration returns FlushInterval parsed. Call after Validate.
func (a AuditConfig) FlushIntervalDuration() time.Duration {
	return durationOrZero(a.FlushInterval)
}

// SendTimeoutDuration returns SendTimeout parsed. Call after Validate.
func (a AuditConfig) SendTimeoutDuration() time.Duration {
	return durationOrZero(a.SendTimeout)
}

// IsEnabled reports whether the server is connected at startup.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ToUpstream converts the configuration entry into the domain type.
func (s ServerConfig) ToUpstream() (upstream.Upstream, error) {
	u := upstream.Upstream{
		ID:      s.ID,
		Name:    s.Name,
		Type:    upstream.UpstreamType(s.Type),
		Enabled: s.IsEnabled(),
		Command: s.Command,
		Args:    s.Args,
		URL:     s.URL,
		Env:     s.Env,
	}

	level, err := security.ParseRiskLevel(s.RiskLevel)
	if err != nil {
		return u, fmt.Errorf("server %s: %w", s.ID, err)
	}
	u.Profile.RiskLevel = level

	for _, raw := range s.Capabilities {
		c, err := security.ParseCapability(raw)
		if err != nil {
			return u, fmt.Errorf("server %s: %w", s.ID, err)
		}
		u.Profile.Capabilities = append(u.Profile.Capabilities, c)
	}
	u.Profile.ToolBlocklist = s.ToolBlocklist
	u.Profile.ToolAllowlist = s.ToolAllowlist

	if s.MaxExecution != "" {
		d, err := time.ParseDuration(s.MaxExecution)
		if err != nil {
			return u, fmt.Errorf("server %s: max_execution: %w", s.ID, err)
		}
		u.Profile.MaxExecution = d
	}

	if err := u.Validate(); err != nil {
		return u, fmt.Errorf("server %s: %w", s.ID, err)
	}
	return u, nil
}

// Upstreams converts every configured server.
func (c *Config) Upstreams() ([]upstream.Upstream, error) {
	out := make([]upstream.Upstream, 0, len(c.Servers))
	for _, s := range c.Servers {
		u, err := s.ToUpstream()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
