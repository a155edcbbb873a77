package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/hayahq/haya/internal/errdefs"
)

// loadRaw reads the file into a raw map. JSON5 covers .json and .json5;
// YAML covers .yaml and .yml.
func loadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errdefs.Configf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Configf("config file %s not found (run `haya init`)", path)
		}
		return nil, &errdefs.ConfigError{Msg: "read config", Err: err}
	}
	return parseRawBytes(data, path)
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &errdefs.ConfigError{Msg: "parse yaml config", Err: err}
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	default:
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, &errdefs.ConfigError{Msg: "parse json config", Err: err}
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}
}

// decodeRaw binds the raw map to Config strictly: unknown keys are errors so
// typos surface at startup instead of silently doing nothing.
func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single config document")
	}
	return &cfg, nil
}

func marshalIndented(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
