// Package providers contains the model backend drivers. Each driver
// translates the runtime's unified request into its SDK's native shape,
// streams partial output through the chunk callback, and classifies
// failures so the retry layer can tell transient from permanent.
package providers

import (
	"strings"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/retry"
	"github.com/hayahq/haya/pkg/models"
)

// defaultMaxTokens bounds generation when the request leaves MaxTokens zero.
// Prevents runaway generations while allowing substantial responses.
const defaultMaxTokens = 4096

// Settings carries the per-backend connection parameters resolved from
// configuration at startup. Secrets arrive already resolved; nothing here
// is persisted.
type Settings struct {
	// APIKey is the resolved provider secret. Unused by bedrock, which
	// authenticates through the AWS credential chain.
	APIKey string

	// BaseURL overrides the SDK's default endpoint when set.
	BaseURL string

	// AWSRegion selects the Bedrock region.
	AWSRegion string
}

// splitSystem peels leading system-role messages off the transcript and
// joins them into one instruction string, for backends that take the system
// prompt as a separate field. Non-leading system messages (compaction
// summaries) stay in the transcript and are sent as user text by drivers
// whose APIs have no mid-conversation system role.
func splitSystem(msgs []models.Message) (string, []models.Message) {
	var parts []string
	rest := msgs
	for len(rest) > 0 && rest[0].Role == models.RoleSystem {
		if rest[0].Content != "" {
			parts = append(parts, rest[0].Content)
		}
		rest = rest[1:]
	}
	return strings.Join(parts, "\n\n"), rest
}

func maxTokensOr(requested int) int {
	if requested <= 0 {
		return defaultMaxTokens
	}
	return requested
}

// httpStatusError classifies an HTTP-level provider failure: 429 and 5xx are
// transient and carry any Retry-After hint; everything else is permanent.
func httpStatusError(provider string, status int, body, retryAfter string) error {
	if status == 429 || status >= 500 {
		transient := &retry.TransientError{Status: status, Body: body}
		if d, ok := retry.ParseRetryAfter(retryAfter); ok {
			transient.RetryAfter = d
		}
		return transient
	}
	return &errdefs.ProviderHTTPError{Provider: provider, Status: status, Body: body}
}

// networkError wraps connection-level failures so the retry layer sees them
// as transient even when the SDK flattened the cause into message text.
func networkError(err error) error {
	if err == nil {
		return nil
	}
	if retry.IsTransient(err) {
		return &retry.TransientError{Err: err}
	}
	return err
}

// usageOf builds a token usage record, dropping all-zero reports so partial
// streams do not register phantom zero-cost turns.
func usageOf(input, output int) *models.TokenUsage {
	if input == 0 && output == 0 {
		return nil
	}
	return &models.TokenUsage{InputTokens: input, OutputTokens: output}
}
