package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/hayahq/haya/pkg/models"
)

// GenerateToken returns a fresh 64-hex-char gateway token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// InitOptions parameterize Scaffold.
type InitOptions struct {
	Path              string
	ProviderKeyEnvVar string
	Provider          string
	Model             string
}

// Scaffold builds a first config with a generated auth token and writes it
// to opts.Path. It fails if the file already exists.
func Scaffold(opts InitOptions) (*Config, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config already exists at %s", path)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	model := opts.Model
	if model == "" {
		model = defaultModelFor(provider)
	}
	keyEnv := opts.ProviderKeyEnvVar
	if keyEnv == "" && provider != ProviderBedrock {
		keyEnv = defaultKeyEnvFor(provider)
	}

	cfg := &Config{
		Gateway: GatewayConfig{
			Port: 3000,
			Bind: BindLoopback,
			Auth: AuthConfig{Mode: "token", Token: token},
		},
		Agent: AgentConfig{
			DefaultProvider:             provider,
			DefaultModel:                model,
			DefaultProviderAPIKeyEnvVar: keyEnv,
			MaxHistoryMessages:          100,
		},
		SenderAuth: SenderAuthConfig{Mode: SenderAuthPairing},
		Cron:       []models.CronJob{},
	}
	cfg.SetPath(path)
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderBedrock:
		return "anthropic.claude-3-5-sonnet-20241022-v2:0"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return "gpt-4o"
	}
}

func defaultKeyEnvFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}
