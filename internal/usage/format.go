package usage

import (
	"fmt"
	"math"

	"github.com/hayahq/haya/pkg/models"
)

// FormatTokenCount renders a token count for terminal display.
func FormatTokenCount(count int) string {
	if count <= 0 {
		return "0"
	}
	switch {
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	case count >= 10_000:
		return fmt.Sprintf("%dk", count/1_000)
	case count >= 1_000:
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}

// FormatUSD renders a dollar amount, empty for zero or junk values.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatUsage renders a one-line in/out breakdown.
func FormatUsage(u models.TokenUsage) string {
	return fmt.Sprintf("%s tokens (in: %s, out: %s)",
		FormatTokenCount(u.Total()),
		FormatTokenCount(u.InputTokens),
		FormatTokenCount(u.OutputTokens))
}
