package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/pkg/models"
)

// maxEmptyStreamEvents caps consecutive no-op SSE events before the stream
// is treated as malformed, protecting against event floods.
const maxEmptyStreamEvents = 300

// Anthropic drives Claude models over the Messages API. The API is
// streaming-first here: Complete consumes the same SSE stream without a
// chunk callback. System prompts travel in a separate field and tool input
// arrives as partial JSON across content_block_delta events.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds the driver. BaseURL supports proxies and self-hosted
// compatible endpoints.
func NewAnthropic(st Settings) (*Anthropic, error) {
	if st.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(st.APIKey)}
	if strings.TrimSpace(st.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(st.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	return p.CompleteStream(ctx, req, nil)
}

func (p *Anthropic) CompleteStream(ctx context.Context, req *agent.Request, onChunk func(agent.Chunk)) (*agent.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	var (
		text        strings.Builder
		toolCalls   []models.ToolCall
		currentCall *models.ToolCall
		currentArgs strings.Builder
		stopReason  string
		inTokens    int
		outTokens   int
		emptyEvents int
	)

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentArgs.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					if onChunk != nil {
						onChunk(agent.Chunk{Delta: delta.Text})
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentArgs.WriteString(delta.PartialJSON)
					if onChunk != nil && currentCall != nil {
						onChunk(agent.Chunk{ToolDelta: &agent.ToolDelta{
							ID:        currentCall.ID,
							Name:      currentCall.Name,
							Arguments: delta.PartialJSON,
						}})
					}
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Arguments = currentArgs.String()
				if currentCall.Arguments == "" {
					currentCall.Arguments = "{}"
				}
				toolCalls = append(toolCalls, *currentCall)
				currentCall = nil
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outTokens = int(messageDelta.Usage.OutputTokens)
			}
			if reason := string(messageDelta.Delta.StopReason); reason != "" {
				stopReason = reason
			}
			processed = true

		case "message_stop":
			return &agent.Response{
				Message: models.Message{
					Role:      models.RoleAssistant,
					Content:   text.String(),
					ToolCalls: toolCalls,
				},
				FinishReason: anthropicFinishReason(stopReason, len(toolCalls)),
				Usage:        usageOf(inTokens, outTokens),
			}, nil
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return nil, fmt.Errorf("anthropic: stream malformed: %d consecutive empty events", emptyEvents)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err)
	}
	return nil, errors.New("anthropic: stream ended without message_stop")
}

func (p *Anthropic) buildParams(req *agent.Request) (anthropic.MessageNewParams, error) {
	system, rest := splitSystem(req.Messages)

	messages, err := anthropicMessages(rest)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOr(req.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	for _, spec := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: invalid schema for tool %s: %w", spec.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool == nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: invalid schema for tool %s", spec.Name)
		}
		tool.OfTool.Description = anthropic.String(spec.Description)
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// anthropicMessages converts the transcript. Consecutive tool-result
// messages coalesce into one user message, which the API requires after an
// assistant tool_use turn. Mid-conversation system messages (compaction
// summaries) are sent as user text.
func anthropicMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		if msg.Role == models.RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			continue
		}
		flushResults()

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	flushResults()
	return result, nil
}

func anthropicFinishReason(stopReason string, toolCalls int) models.FinishReason {
	switch stopReason {
	case "tool_use":
		return models.FinishToolCalls
	case "max_tokens":
		return models.FinishLength
	case "end_turn", "stop_sequence":
		return models.FinishStop
	}
	if toolCalls > 0 {
		return models.FinishToolCalls
	}
	return models.FinishStop
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Error()
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				body = payload.Error.Message
			}
		}
		retryAfter := ""
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		return httpStatusError("anthropic", apiErr.StatusCode, body, retryAfter)
	}
	return networkError(err)
}
