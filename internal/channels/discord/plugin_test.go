package discord

import (
	"errors"
	"testing"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
)

func TestConfigValidate(t *testing.T) {
	var ce *errdefs.ConfigError
	cfg := Config{}
	if err := cfg.Validate(); !errors.As(err, &ce) {
		t.Errorf("missing token err = %v", err)
	}
	cfg = Config{Token: "tok"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Setenv("TEST_DISCORD_TOKEN", "tok")
	cc := config.ChannelConfig{Settings: map[string]any{
		"botTokenEnvVar": "TEST_DISCORD_TOKEN",
		"guilds":         []any{"g1", "g2"},
	}}
	cfg, err := configFromSettings(cc)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "tok" || len(cfg.GuildAllowlist) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
}
