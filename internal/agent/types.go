// Package agent runs the tool-calling conversation loop against a pluggable
// model provider, applying retry, circuit breaking, and per-tool policy.
package agent

import (
	"context"
	"encoding/json"

	"github.com/hayahq/haya/pkg/models"
)

// Provider is one model backend. Implementations must be safe for
// concurrent use; the runtime may run several sessions at once.
type Provider interface {
	// Name identifies the backend ("openai", "anthropic", "bedrock",
	// "gemini") for breaker keys and usage records.
	Name() string

	// Complete sends the request and blocks for the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CompleteStream sends the request, invoking onChunk for each partial
	// event, and returns the final response. Providers without native
	// streaming may call onChunk once with the whole text.
	CompleteStream(ctx context.Context, req *Request, onChunk func(Chunk)) (*Response, error)
}

// Request is the unified completion request. The message list carries any
// system prompt as a leading system-role message; drivers translate it to
// their native shape.
type Request struct {
	Model     string
	Messages  []models.Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec advertises one callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response is the unified completion result.
type Response struct {
	Message      models.Message
	FinishReason models.FinishReason
	Usage        *models.TokenUsage
}

// Chunk is one streaming event: a text fragment or a tool-call fragment,
// never both.
type Chunk struct {
	Delta     string
	ToolDelta *ToolDelta
}

// ToolDelta is a partial tool call. ID and Name arrive on the first
// fragment for a call; Arguments accumulates across fragments.
type ToolDelta struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDispatcher executes tool calls for the runtime. The registry behind it
// owns policy resolution; a denied call comes back as an error tool-result,
// never an error return.
type ToolDispatcher interface {
	// Specs lists the tools the model may see (policy deny already
	// filtered out).
	Specs() []ToolSpec

	// Dispatch runs one call and always produces a result for the
	// transcript.
	Dispatch(ctx context.Context, sessionID string, call models.ToolCall) models.ToolResult
}
