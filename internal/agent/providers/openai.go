package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI drives GPT models through the chat completions API. The system
// prompt rides in the messages array and tool calls stream incrementally,
// so streaming accumulates fragments by index until the finish chunk.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds the driver. BaseURL supports OpenAI-compatible gateways.
func NewOpenAI(st Settings) (*OpenAI, error) {
	if st.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg := openai.DefaultConfig(st.APIKey)
	if st.BaseURL != "" {
		cfg.BaseURL = st.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Complete blocks for the full response.
func (p *OpenAI) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	msg := models.Message{
		Role:    models.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &agent.Response{
		Message:      msg,
		FinishReason: openaiFinishReason(choice.FinishReason),
		Usage:        usageOf(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

// CompleteStream streams deltas through onChunk and returns the assembled
// response. Tool calls arrive fragmented; ID and name land on the first
// fragment for an index and arguments accumulate across the rest.
func (p *OpenAI) CompleteStream(ctx context.Context, req *agent.Request, onChunk func(agent.Chunk)) (*agent.Response, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrapError(err)
	}
	defer stream.Close()

	var (
		text     []byte
		calls    []*models.ToolCall
		byIndex  = map[int]*models.ToolCall{}
		finish   = models.FinishStop
		inTokens int
		outTok   int
	)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, p.wrapError(err)
		}
		if chunk.Usage != nil {
			inTokens = chunk.Usage.PromptTokens
			outTok = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = openaiFinishReason(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			text = append(text, choice.Delta.Content...)
			if onChunk != nil {
				onChunk(agent.Chunk{Delta: choice.Delta.Content})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := byIndex[index]
			if call == nil {
				call = &models.ToolCall{}
				byIndex[index] = call
				calls = append(calls, call)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments += tc.Function.Arguments
				if onChunk != nil {
					onChunk(agent.Chunk{ToolDelta: &agent.ToolDelta{
						ID:        call.ID,
						Name:      call.Name,
						Arguments: tc.Function.Arguments,
					}})
				}
			}
		}
	}

	msg := models.Message{Role: models.RoleAssistant, Content: string(text)}
	for _, call := range calls {
		if call.ID != "" && call.Name != "" {
			msg.ToolCalls = append(msg.ToolCalls, *call)
		}
	}
	if len(msg.ToolCalls) > 0 && finish == models.FinishStop {
		finish = models.FinishToolCalls
	}

	return &agent.Response{
		Message:      msg,
		FinishReason: finish,
		Usage:        usageOf(inTokens, outTok),
	}, nil
}

func (p *OpenAI) buildRequest(req *agent.Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  openaiMessages(req.Messages),
		MaxTokens: maxTokensOr(req.MaxTokens),
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	for _, spec := range req.Tools {
		var params map[string]any
		if err := json.Unmarshal(spec.Parameters, &params); err != nil {
			// One bad schema must not break the rest of the tool set.
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func openaiMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, m)
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return out
}

func openaiFinishReason(reason openai.FinishReason) models.FinishReason {
	switch reason {
	case openai.FinishReasonLength:
		return models.FinishLength
	case openai.FinishReasonToolCalls:
		return models.FinishToolCalls
	default:
		return models.FinishStop
	}
}

// wrapError classifies SDK failures. openai.APIError and RequestError do
// not expose response headers, so a 429's Retry-After hint is lost here
// and retry falls back to its own backoff schedule.
func (p *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return httpStatusError("openai", apiErr.HTTPStatusCode, apiErr.Message, "")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return httpStatusError("openai", reqErr.HTTPStatusCode, reqErr.Error(), "")
	}
	return networkError(err)
}
