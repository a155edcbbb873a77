package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

const mask = "***"

// secretSettingKey reports whether a channel setting key looks like it holds
// a credential value directly. Keys naming env vars stay visible.
func secretSettingKey(key string) bool {
	if strings.HasSuffix(key, "EnvVar") {
		return false
	}
	lower := strings.ToLower(key)
	for _, marker := range []string{"token", "secret", "password", "apikey", "api_key", "credential"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Redacted renders the config as indented JSON with secret fields masked.
func (c *Config) Redacted() (string, error) {
	data, err := marshalIndented(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("reparse config: %w", err)
	}

	if gw, ok := raw["gateway"].(map[string]any); ok {
		if auth, ok := gw["auth"].(map[string]any); ok {
			if token, ok := auth["token"].(string); ok && token != "" {
				auth["token"] = mask
			}
		}
	}
	if channels, ok := raw["channels"].(map[string]any); ok {
		for _, entry := range channels {
			ch, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			settings, ok := ch["settings"].(map[string]any)
			if !ok {
				continue
			}
			for key := range settings {
				if secretSettingKey(key) {
					settings[key] = mask
				}
			}
		}
	}

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal redacted config: %w", err)
	}
	return string(out) + "\n", nil
}
