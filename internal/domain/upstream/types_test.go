package upstream

import (
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/security"
)

func validStdio() Upstream {
	return Upstream{
		ID:      "filesystem",
		Type:    UpstreamTypeStdio,
		Command: "mcp-server-filesystem",
		Profile: security.Profile{RiskLevel: security.RiskLevelLow},
	}
}

func TestUpstream_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(u *Upstream)
		wantErr string
	}{
		{"valid stdio", func(u *Upstream) {}, ""},
		{"valid http", func(u *Upstream) {
			u.Type = UpstreamTypeHTTP
			u.Command = ""
			u.URL = "http://localhost:3000/mcp"
		}, ""},
		{"missing id", func(u *Upstream) { u.ID = "" }, "id is required"},
		{"long id", func(u *Upstream) { u.ID = strings.Repeat("a", 101) }, "characters or less"},
		{"bad id chars", func(u *Upstream) { u.ID = "has space" }, "invalid characters"},
		{"stdio without command", func(u *Upstream) { u.Command = "" }, "command is required"},
		{"http without url", func(u *Upstream) { u.Type = UpstreamTypeHTTP }, "url is required"},
		{"http bad url", func(u *Upstream) {
			u.Type = UpstreamTypeHTTP
			u.URL = "not a url"
		}, "not a valid URL"},
		{"unknown type", func(u *Upstream) { u.Type = "grpc" }, "type must be"},
		{"bad risk level", func(u *Upstream) { u.Profile.RiskLevel = "extreme" }, "risk level"},
		{"bad capability", func(u *Upstream) {
			u.Profile.Capabilities = []security.Capability{"telepathy"}
		}, "capability"},
		{"negative max execution", func(u *Upstream) { u.Profile.MaxExecution = -time.Second }, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validStdio()
			tt.mutate(&u)
			err := u.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestUpstream_DisplayName(t *testing.T) {
	u := validStdio()
	if got := u.DisplayName(); got != "filesystem" {
		t.Errorf("DisplayName() = %q, want id fallback", got)
	}
	u.Name = "Local Files"
	if got := u.DisplayName(); got != "Local Files" {
		t.Errorf("DisplayName() = %q", got)
	}
}
