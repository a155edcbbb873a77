package whatsapp

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
		t.Errorf("missing store path err = %v", err)
	}
	cfg = Config{StorePath: "/tmp/wa.db"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigFromSettings(t *testing.T) {
	cc := config.ChannelConfig{Settings: map[string]any{"storePath": "/data/wa.db"}}
	if cfg := configFromSettings(cc); cfg.StorePath != "/data/wa.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}
