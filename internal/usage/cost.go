package usage

import (
	"strings"

	"github.com/hayahq/haya/pkg/models"
)

// Cost is USD per million tokens.
type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Estimate prices one request.
func (c Cost) Estimate(u models.TokenUsage) float64 {
	return (float64(u.InputTokens)*c.Input + float64(u.OutputTokens)*c.Output) / 1_000_000
}

// CostTable maps model-name prefixes to pricing. Lookup picks the longest
// matching prefix so families ("gpt-4o") price their dated variants.
type CostTable map[string]Cost

// DefaultCosts covers the models the built-in providers target. Unknown
// models price at zero; the ledger still records the tokens.
func DefaultCosts() CostTable {
	return CostTable{
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4.1":                    {Input: 2.00, Output: 8.00},
		"gpt-4.1-mini":               {Input: 0.40, Output: 1.60},
		"o3-mini":                    {Input: 1.10, Output: 4.40},
		"claude-opus-4":              {Input: 15.00, Output: 75.00},
		"claude-sonnet-4":            {Input: 3.00, Output: 15.00},
		"claude-3-5-haiku":           {Input: 0.80, Output: 4.00},
		"anthropic.claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
		"anthropic.claude-3-5-haiku": {Input: 0.80, Output: 4.00},
		"gemini-2.0-flash":           {Input: 0.10, Output: 0.40},
		"gemini-1.5-pro":             {Input: 1.25, Output: 5.00},
	}
}

// Estimate prices usage for model via longest-prefix match.
func (t CostTable) Estimate(model string, u models.TokenUsage) float64 {
	var best string
	for prefix := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	return t[best].Estimate(u)
}
