// Package extcontent wraps untrusted inbound text with boundary markers and
// scans it for prompt-injection patterns before it reaches the model.
package extcontent

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Boundary markers around untrusted text. The model's system prompt tells it
// to treat everything between them as data, not instructions.
const (
	BeginMarker = "<<<EXTERNAL_CONTENT>>>"
	EndMarker   = "<<<END_EXTERNAL_CONTENT>>>"
)

// MetadataWarningsKey is where the processor attaches scan warnings on the
// inbound message metadata.
const MetadataWarningsKey = "contentWarnings"

// suspiciousPatterns flag text that tries to break out of the data framing.
// Matching is advisory: flagged content is still delivered, with warnings.
var suspiciousPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"instruction-override", regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`)},
	{"role-reassignment", regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s`)},
	{"system-prompt-probe", regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|initial\s+instructions)`)},
	{"fake-role-tag", regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant)\s*>|\[\s*(system|assistant)\s*\]`)},
	{"marker-spoof", regexp.MustCompile(regexp.QuoteMeta(BeginMarker) + `|` + regexp.QuoteMeta(EndMarker))},
	{"jailbreak-preamble", regexp.MustCompile(`(?i)\b(DAN|developer)\s+mode\b`)},
}

// Result is the wrapped text plus any scan warnings.
type Result struct {
	Content  string
	Warnings []string
}

// Wrap normalizes the text to NFC (so homoglyph-composed sequences compare
// predictably), neutralizes embedded boundary markers, scans for suspicious
// patterns, and fences the result between the markers.
func Wrap(source, text string) Result {
	normalized := norm.NFC.String(text)
	warnings := Scan(normalized)

	// Inbound text must not be able to close the fence early.
	neutralized := strings.ReplaceAll(normalized, BeginMarker, "<external-content>")
	neutralized = strings.ReplaceAll(neutralized, EndMarker, "</external-content>")

	var b strings.Builder
	b.WriteString(BeginMarker)
	if source != "" {
		b.WriteString(" source=")
		b.WriteString(source)
	}
	b.WriteString("\n")
	b.WriteString(neutralized)
	b.WriteString("\n")
	b.WriteString(EndMarker)
	return Result{Content: b.String(), Warnings: warnings}
}

// Scan reports which suspicious patterns the text matches.
func Scan(text string) []string {
	var warnings []string
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(text) {
			warnings = append(warnings, fmt.Sprintf("suspicious pattern: %s", p.label))
		}
	}
	return warnings
}
