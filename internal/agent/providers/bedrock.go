package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/retry"
	"github.com/hayahq/haya/pkg/models"
)

// Bedrock drives foundation models hosted on AWS through the Converse
// streaming API. Authentication runs through the standard AWS credential
// chain; no API key is involved.
type Bedrock struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrock loads the AWS credential chain. An empty region defers to
// AWS_REGION / AWS_DEFAULT_REGION from the environment.
func NewBedrock(ctx context.Context, st Settings) (*Bedrock, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if st.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(st.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Bedrock{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: awsCfg.Region,
	}, nil
}

func (p *Bedrock) Name() string { return "bedrock" }

func (p *Bedrock) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	return p.CompleteStream(ctx, req, nil)
}

func (p *Bedrock) CompleteStream(ctx context.Context, req *agent.Request, onChunk func(agent.Chunk)) (*agent.Response, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var (
		text        strings.Builder
		toolCalls   []models.ToolCall
		currentCall *models.ToolCall
		currentArgs strings.Builder
		stopReason  types.StopReason
		inTokens    int
		outTokens   int
	)

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					return nil, p.wrapError(err)
				}
				if currentCall != nil {
					currentCall.Arguments = orEmptyObject(currentArgs.String())
					toolCalls = append(toolCalls, *currentCall)
				}
				return &agent.Response{
					Message: models.Message{
						Role:      models.RoleAssistant,
						Content:   text.String(),
						ToolCalls: toolCalls,
					},
					FinishReason: bedrockFinishReason(stopReason, len(toolCalls)),
					Usage:        usageOf(inTokens, outTokens),
				}, nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					currentArgs.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						text.WriteString(delta.Value)
						if onChunk != nil {
							onChunk(agent.Chunk{Delta: delta.Value})
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						currentArgs.WriteString(*delta.Value.Input)
						if onChunk != nil && currentCall != nil {
							onChunk(agent.Chunk{ToolDelta: &agent.ToolDelta{
								ID:        currentCall.ID,
								Name:      currentCall.Name,
								Arguments: *delta.Value.Input,
							}})
						}
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentCall != nil {
					currentCall.Arguments = orEmptyObject(currentArgs.String())
					toolCalls = append(toolCalls, *currentCall)
					currentCall = nil
					currentArgs.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				// Usage metadata trails message_stop; keep draining until
				// the channel closes.
				stopReason = ev.Value.StopReason

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					inTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					outTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			}
		}
	}
}

func (p *Bedrock) buildInput(req *agent.Request) (*bedrockruntime.ConverseStreamInput, error) {
	system, rest := splitSystem(req.Messages)

	messages, err := bedrockMessages(rest)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOr(req.MaxTokens))),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]types.Tool, 0, len(req.Tools))
		for _, spec := range req.Tools {
			var schema any
			if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(spec.Name),
					Description: aws.String(spec.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}
	return input, nil
}

// bedrockMessages converts the transcript; consecutive tool results join
// into one user message as the Converse API requires.
func bedrockMessages(msgs []models.Message) ([]types.Message, error) {
	var result []types.Message
	var pendingResults []types.ContentBlock

	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: pendingResults,
			})
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		if msg.Role == models.RoleTool {
			pendingResults = append(pendingResults, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			})
			continue
		}
		flushResults()

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal([]byte(tc.Arguments), &inputDoc); err != nil {
				return nil, fmt.Errorf("bedrock: invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	flushResults()
	return result, nil
}

func bedrockFinishReason(reason types.StopReason, toolCalls int) models.FinishReason {
	switch reason {
	case types.StopReasonToolUse:
		return models.FinishToolCalls
	case types.StopReasonMaxTokens:
		return models.FinishLength
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return models.FinishStop
	}
	if toolCalls > 0 {
		return models.FinishToolCalls
	}
	return models.FinishStop
}

func orEmptyObject(args string) string {
	if args == "" {
		return "{}"
	}
	return args
}

func (p *Bedrock) wrapError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := apiErr.ErrorMessage()
		switch code {
		case "ThrottlingException", "TooManyRequestsException":
			return &retry.TransientError{Status: 429, Body: msg}
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException", "ModelNotReadyException":
			return &retry.TransientError{Status: 503, Body: msg}
		case "AccessDeniedException", "UnauthorizedException":
			return &errdefs.ProviderHTTPError{Provider: "bedrock", Status: 403, Body: code + ": " + msg}
		case "ResourceNotFoundException":
			return &errdefs.ProviderHTTPError{Provider: "bedrock", Status: 404, Body: code + ": " + msg}
		default:
			return &errdefs.ProviderHTTPError{Provider: "bedrock", Status: 400, Body: code + ": " + msg}
		}
	}
	return networkError(err)
}
