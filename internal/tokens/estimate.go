// Package tokens provides a cheap deterministic token estimate used for
// context budgeting. Approximation: ~4 characters per token.
package tokens

import (
	"github.com/hayahq/haya/pkg/models"
)

const (
	// CharsPerToken is the approximate character-to-token ratio.
	CharsPerToken = 4

	// MessageOverhead accounts for role/framing tokens per message.
	MessageOverhead = 4
)

// EstimateText estimates tokens for a raw string.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken // ceiling division
}

// EstimateMessage estimates tokens for one message, including serialized
// tool calls.
func EstimateMessage(msg models.Message) int {
	chars := len(msg.Content)
	for _, call := range msg.ToolCalls {
		chars += len(call.Name) + len(call.Arguments)
	}
	if chars == 0 {
		return MessageOverhead
	}
	return MessageOverhead + (chars+CharsPerToken-1)/CharsPerToken
}

// EstimateMessages estimates total tokens across a message list.
func EstimateMessages(msgs []models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += EstimateMessage(msg)
	}
	return total
}
