package teams

import (
	"errors"
	"testing"
	"time"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"missing tenant", Config{ClientID: "c", ClientSecret: "s", ChatIDs: []string{"x"}}, false},
		{"missing client", Config{TenantID: "t", ClientSecret: "s", ChatIDs: []string{"x"}}, false},
		{"missing secret", Config{TenantID: "t", ClientID: "c", ChatIDs: []string{"x"}}, false},
		{"no chats", Config{TenantID: "t", ClientID: "c", ClientSecret: "s"}, false},
		{"complete", Config{TenantID: "t", ClientID: "c", ClientSecret: "s", ChatIDs: []string{"x"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				if err != nil {
					t.Fatal(err)
				}
				if tt.cfg.PollInterval != 15*time.Second {
					t.Errorf("default poll interval not applied: %v", tt.cfg.PollInterval)
				}
				return
			}
			var ce *errdefs.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Setenv("TEST_TEAMS_SECRET", "shh")
	cc := config.ChannelConfig{Settings: map[string]any{
		"tenantId":           "tenant",
		"clientId":           "client",
		"clientSecretEnvVar": "TEST_TEAMS_SECRET",
		"chats":              []any{"19:chat-a", "19:chat-b"},
	}}
	cfg, err := configFromSettings(cc)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientSecret != "shh" || len(cfg.ChatIDs) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<p>hello <b>there</b></p>", "hello there"},
		{"plain", "plain"},
		{"a&nbsp;&amp;&nbsp;b", "a & b"},
		{"<div>x&lt;y&gt;z</div>", "x<y>z"},
	}
	for _, tt := range tests {
		if got := stripHTML(tt.in); got != tt.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
