// Package config loads, validates, and watches the haya.json configuration
// file. Sensitive values never live in the file itself: config fields carry
// environment variable names and the resolver reads them at use time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// GatewayTokenEnvVar is reserved for the gateway's own auth token. When set
// it takes precedence over gateway.auth.token from the file.
const GatewayTokenEnvVar = "ASSISTANT_GATEWAY_TOKEN"

// DefaultFileName is the config file created by `haya init`.
const DefaultFileName = "haya.json"

// Config is the root of haya.json.
type Config struct {
	Gateway       GatewayConfig             `json:"gateway,omitempty"`
	Agent         AgentConfig               `json:"agent,omitempty"`
	Sessions      SessionsConfig            `json:"sessions,omitempty"`
	SenderAuth    SenderAuthConfig          `json:"senderAuth,omitempty"`
	Cron          []models.CronJob          `json:"cron,omitempty"`
	Observability ObservabilityConfig       `json:"observability,omitempty"`
	Channels      map[string]ChannelConfig  `json:"channels,omitempty"`

	// path is where the file was loaded from; it anchors all derived paths.
	path string
}

// SessionsConfig groups session-store settings.
type SessionsConfig struct {
	Pruning PruningConfig `json:"pruning,omitempty"`
}

// PruningConfig drives the prune_sessions cron action.
type PruningConfig struct {
	Enabled    bool `json:"enabled,omitempty"`
	MaxAgeDays int  `json:"maxAgeDays,omitempty"`
	MaxSizeMB  int  `json:"maxSizeMB,omitempty"`
}

// SenderAuthConfig selects how inbound senders are authorized.
type SenderAuthConfig struct {
	Mode    string `json:"mode,omitempty" jsonschema:"enum=open,enum=allowlist,enum=pairing"`
	DataDir string `json:"dataDir,omitempty"`
}

// Sender auth modes.
const (
	SenderAuthOpen      = "open"
	SenderAuthAllowlist = "allowlist"
	SenderAuthPairing   = "pairing"
)

// ObservabilityConfig enables OTLP tracing. All-or-nothing: when enabled,
// the endpoint is required.
type ObservabilityConfig struct {
	Enabled     bool    `json:"enabled,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	ServiceName string  `json:"serviceName,omitempty"`
	SampleRatio float64 `json:"sampleRatio,omitempty"`
}

// ChannelConfig is the per-channel settings blob handed to the plugin. Keys
// holding credentials name environment variables (e.g. botTokenEnvVar).
type ChannelConfig struct {
	Settings map[string]any `json:"settings,omitempty"`
}

// Load reads, schema-validates, defaults, and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, &errdefs.ConfigError{Msg: "config does not match schema", Err: err}
	}
	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, &errdefs.ConfigError{Msg: "parse config", Err: err}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &errdefs.ConfigError{Msg: "resolve config path", Err: err}
	}
	cfg.path = abs
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is ~/.haya/haya.json, or ./haya.json when the home directory
// cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, ".haya", DefaultFileName)
}

// Path returns where this config was loaded from (or will be saved to).
func (c *Config) Path() string { return c.path }

// SetPath anchors a constructed config (e.g. from `haya init`) to a file.
func (c *Config) SetPath(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	c.path = path
}

// BaseDir is the directory holding the config file; all state lives under it.
func (c *Config) BaseDir() string { return filepath.Dir(c.path) }

// SessionsDir holds one JSONL transcript per session.
func (c *Config) SessionsDir() string { return filepath.Join(c.BaseDir(), "sessions") }

// DataDir holds sender-auth and usage state.
func (c *Config) DataDir() string {
	if c.SenderAuth.DataDir != "" {
		return c.SenderAuth.DataDir
	}
	return filepath.Join(c.BaseDir(), "data")
}

// UsageDir holds day-partitioned usage ledgers.
func (c *Config) UsageDir() string { return filepath.Join(c.BaseDir(), "data", "usage") }

// CertDir holds generated TLS material.
func (c *Config) CertDir() string { return filepath.Join(c.BaseDir(), "certs") }

// CronStorePath is the scheduler store next to the config file: haya.json
// owns haya.cron.json.
func (c *Config) CronStorePath() string {
	base := c.path
	for _, ext := range []string{".json5", ".json", ".yaml", ".yml"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return base + ".cron.json"
}

func (c *Config) applyDefaults() {
	c.Gateway.applyDefaults()
	c.Agent.applyDefaults()
	if c.SenderAuth.Mode == "" {
		c.SenderAuth.Mode = SenderAuthOpen
	}
	if c.Observability.Enabled {
		if c.Observability.ServiceName == "" {
			c.Observability.ServiceName = "haya"
		}
		if c.Observability.SampleRatio == 0 {
			c.Observability.SampleRatio = 1.0
		}
	}
	if c.Gateway.TLS.Enabled {
		if c.Gateway.TLS.CertPath == "" {
			c.Gateway.TLS.CertPath = filepath.Join(c.CertDir(), "haya.crt")
		}
		if c.Gateway.TLS.KeyPath == "" {
			c.Gateway.TLS.KeyPath = filepath.Join(c.CertDir(), "haya.key")
		}
	}
}

// Validate applies the cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Agent.validate(); err != nil {
		return err
	}
	switch c.SenderAuth.Mode {
	case SenderAuthOpen, SenderAuthAllowlist, SenderAuthPairing:
	default:
		return errdefs.Configf("senderAuth.mode %q: must be open, allowlist, or pairing", c.SenderAuth.Mode)
	}
	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return errdefs.Configf("observability.enabled requires observability.endpoint")
	}
	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return errdefs.Configf("observability.sampleRatio %v: must be within [0,1]", c.Observability.SampleRatio)
	}
	for i, job := range c.Cron {
		if strings.TrimSpace(job.Name) == "" {
			return errdefs.Configf("cron[%d]: name is required", i)
		}
		if strings.TrimSpace(job.Schedule) == "" {
			return errdefs.Configf("cron[%d] %q: schedule is required", i, job.Name)
		}
		if strings.TrimSpace(job.Action) == "" {
			return errdefs.Configf("cron[%d] %q: action is required", i, job.Name)
		}
	}
	return nil
}

// Save writes the config as indented JSON, 0600.
func (c *Config) Save() error {
	if c.path == "" {
		return errdefs.Configf("config has no path")
	}
	data, err := marshalIndented(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(c.path, data, 0o600)
}
