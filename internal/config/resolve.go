package config

import (
	"os"
	"strings"

	"github.com/hayahq/haya/internal/errdefs"
)

// ResolveEnv reads the environment variable named by a config field. The
// config stores variable names, never the values themselves.
func ResolveEnv(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errdefs.Configf("environment variable name is empty")
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", errdefs.Configf("required environment variable %s is not set", name)
	}
	return value, nil
}

// ProviderAPIKey resolves the default provider's API key. Bedrock resolves
// credentials through the AWS SDK chain instead and returns "".
func (a *AgentConfig) ProviderAPIKey() (string, error) {
	if a.DefaultProvider == ProviderBedrock {
		return "", nil
	}
	return ResolveEnv(a.DefaultProviderAPIKeyEnvVar)
}

// SettingString reads a plain string setting from a channel blob.
func (c ChannelConfig) SettingString(key string) string {
	v, ok := c.Settings[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SettingStrings reads a string-list setting from a channel blob.
func (c ChannelConfig) SettingStrings(key string) []string {
	v, ok := c.Settings[key]
	if !ok {
		return nil
	}
	switch typed := v.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, entry := range typed {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SettingBool reads a boolean setting from a channel blob.
func (c ChannelConfig) SettingBool(key string) bool {
	v, ok := c.Settings[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SecretSetting resolves a setting whose value names an environment
// variable (keys conventionally end in EnvVar).
func (c ChannelConfig) SecretSetting(key string) (string, error) {
	name := c.SettingString(key)
	if name == "" {
		return "", errdefs.Configf("channel setting %s is not configured", key)
	}
	return ResolveEnv(name)
}
