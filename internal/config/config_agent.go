package config

import (
	"os"
	"strings"

	"github.com/hayahq/haya/internal/compaction"
	"github.com/hayahq/haya/internal/errdefs"
)

// Provider names accepted by agent.defaultProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
)

// Tool policy decisions.
const (
	PolicyAllow   = "allow"
	PolicyConfirm = "confirm"
	PolicyDeny    = "deny"
)

// AgentConfig selects the model backend and shapes per-turn context.
type AgentConfig struct {
	DefaultProvider             string               `json:"defaultProvider,omitempty" jsonschema:"enum=openai,enum=anthropic,enum=bedrock,enum=gemini"`
	DefaultModel                string               `json:"defaultModel,omitempty"`
	DefaultProviderAPIKeyEnvVar string               `json:"defaultProviderApiKeyEnvVar,omitempty"`
	AWSRegion                   string               `json:"awsRegion,omitempty"`
	SystemPrompt                string               `json:"systemPrompt,omitempty"`
	MaxHistoryMessages          int                  `json:"maxHistoryMessages,omitempty"`
	ToolPolicies                []ToolPolicy         `json:"toolPolicies,omitempty"`
	ContextPruning              ContextPruningConfig `json:"contextPruning,omitempty"`
	Compaction                  CompactionConfig     `json:"compaction,omitempty"`
	BotNames                    []string             `json:"botNames,omitempty"`
}

// ToolPolicy binds one tool name (or "*") to a decision.
type ToolPolicy struct {
	Tool   string `json:"tool" jsonschema:"required"`
	Policy string `json:"policy" jsonschema:"required,enum=allow,enum=confirm,enum=deny"`
}

// CompactionConfig bounds history size in tokens.
type CompactionConfig struct {
	Enabled       bool `json:"enabled,omitempty"`
	MaxTokens     int  `json:"maxTokens,omitempty"`
	ReserveTokens int  `json:"reserveTokens,omitempty"`
}

// ContextPruningConfig trims old tool results before compaction.
type ContextPruningConfig struct {
	Enabled              bool     `json:"enabled,omitempty"`
	SoftTrimRatio        *float64 `json:"softTrimRatio,omitempty"`
	HardClearRatio       *float64 `json:"hardClearRatio,omitempty"`
	MinPrunableToolChars *int     `json:"minPrunableToolChars,omitempty"`
	KeepLastAssistants   *int     `json:"keepLastAssistants,omitempty"`
}

func (a *AgentConfig) applyDefaults() {
	if a.DefaultProvider == "" {
		a.DefaultProvider = ProviderOpenAI
	}
	if a.MaxHistoryMessages == 0 {
		a.MaxHistoryMessages = 100
	}
	if a.Compaction.Enabled {
		if a.Compaction.MaxTokens == 0 {
			a.Compaction.MaxTokens = 100000
		}
		if a.Compaction.ReserveTokens == 0 {
			a.Compaction.ReserveTokens = 4000
		}
	}
}

func (a *AgentConfig) validate() error {
	switch a.DefaultProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderGemini:
	default:
		return errdefs.Configf("agent.defaultProvider %q: must be openai, anthropic, bedrock, or gemini", a.DefaultProvider)
	}
	if strings.TrimSpace(a.DefaultModel) == "" {
		return errdefs.Configf("agent.defaultModel is required")
	}
	if a.DefaultProvider != ProviderBedrock && a.DefaultProviderAPIKeyEnvVar == "" {
		return errdefs.Configf("agent.defaultProviderApiKeyEnvVar is required for provider %q", a.DefaultProvider)
	}
	if a.DefaultProvider == ProviderBedrock && a.AWSRegion == "" {
		if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
			return errdefs.Configf("agent.awsRegion is required for bedrock unless AWS_REGION or AWS_DEFAULT_REGION is set")
		}
	}
	for i, tp := range a.ToolPolicies {
		if strings.TrimSpace(tp.Tool) == "" {
			return errdefs.Configf("agent.toolPolicies[%d]: tool is required", i)
		}
		switch tp.Policy {
		case PolicyAllow, PolicyConfirm, PolicyDeny:
		default:
			return errdefs.Configf("agent.toolPolicies[%d] %q: policy must be allow, confirm, or deny", i, tp.Tool)
		}
	}
	if a.Compaction.Enabled && a.Compaction.MaxTokens <= a.Compaction.ReserveTokens {
		return errdefs.Configf("agent.compaction.maxTokens must exceed reserveTokens")
	}
	return nil
}

// CompactionSettings converts the section to runtime settings, nil when
// disabled.
func (a *AgentConfig) CompactionSettings() *compaction.Config {
	if !a.Compaction.Enabled {
		return nil
	}
	return &compaction.Config{
		MaxTokens:     a.Compaction.MaxTokens,
		ReserveTokens: a.Compaction.ReserveTokens,
	}
}

// ContextPruningSettings converts the section to runtime settings, nil when
// disabled. Unset fields fall back to the package defaults.
func (a *AgentConfig) ContextPruningSettings() *compaction.PruneConfig {
	if !a.ContextPruning.Enabled {
		return nil
	}
	cfg := compaction.PruneConfig{MaxTokens: a.Compaction.MaxTokens}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 100000
	}
	if v := a.ContextPruning.SoftTrimRatio; v != nil {
		cfg.SoftTrimRatio = clampFloat(*v, 0, 1)
	}
	if v := a.ContextPruning.HardClearRatio; v != nil {
		cfg.HardClearRatio = clampFloat(*v, 0, 1)
	}
	if v := a.ContextPruning.MinPrunableToolChars; v != nil {
		cfg.MinPrunableToolChars = clampInt(*v, 0)
	}
	if v := a.ContextPruning.KeepLastAssistants; v != nil {
		cfg.KeepLastAssistants = clampInt(*v, 0)
	}
	return &cfg
}

func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampInt(value, min int) int {
	if value < min {
		return min
	}
	return value
}
