package slack

import (
	"errors"
	"testing"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
)

func TestConfigValidate(t *testing.T) {
	var ce *errdefs.ConfigError
	for _, cfg := range []Config{
		{},
		{BotToken: "xoxb-1"},
		{AppToken: "xapp-1"},
	} {
		if err := cfg.Validate(); !errors.As(err, &ce) {
			t.Errorf("Validate(%+v) = %v", cfg, err)
		}
	}
	ok := Config{BotToken: "xoxb-1", AppToken: "xapp-1"}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Setenv("TEST_SLACK_BOT", "xoxb-1")
	t.Setenv("TEST_SLACK_APP", "xapp-1")
	cc := config.ChannelConfig{Settings: map[string]any{
		"botTokenEnvVar": "TEST_SLACK_BOT",
		"appTokenEnvVar": "TEST_SLACK_APP",
	}}
	cfg, err := configFromSettings(cc)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotToken != "xoxb-1" || cfg.AppToken != "xapp-1" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestSlackTimestampMillis(t *testing.T) {
	if got := slackTimestampMillis("1700000000.123456"); got != 1700000000123 {
		t.Errorf("millis = %d", got)
	}
	// Garbage falls back to now, never zero.
	if got := slackTimestampMillis("nope"); got == 0 {
		t.Error("fallback returned zero")
	}
}
