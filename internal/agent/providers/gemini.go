package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/pkg/models"
)

// Gemini drives Google's models through the Gen AI SDK. The API has no tool
// call IDs, so the driver mints them, and tool results are matched back to
// function names through the transcript.
type Gemini struct {
	client *genai.Client
}

// NewGemini builds the driver against the Gemini API backend.
func NewGemini(ctx context.Context, st Settings) (*Gemini, error) {
	if st.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  st.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	return p.CompleteStream(ctx, req, nil)
}

func (p *Gemini) CompleteStream(ctx context.Context, req *agent.Request, onChunk func(agent.Chunk)) (*agent.Response, error) {
	contents, config := p.buildRequest(req)

	var (
		text      strings.Builder
		toolCalls []models.ToolCall
		finish    = models.FinishStop
		inTokens  int
		outTokens int
	)

	for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return nil, p.wrapError(err)
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			inTokens = int(resp.UsageMetadata.PromptTokenCount)
			outTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			if candidate.FinishReason == genai.FinishReasonMaxTokens {
				finish = models.FinishLength
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					text.WriteString(part.Text)
					if onChunk != nil {
						onChunk(agent.Chunk{Delta: part.Text})
					}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						args = []byte("{}")
					}
					call := models.ToolCall{
						ID:        geminiToolCallID(part.FunctionCall.Name),
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					}
					toolCalls = append(toolCalls, call)
					if onChunk != nil {
						onChunk(agent.Chunk{ToolDelta: &agent.ToolDelta{
							ID:        call.ID,
							Name:      call.Name,
							Arguments: call.Arguments,
						}})
					}
				}
			}
		}
	}

	if len(toolCalls) > 0 {
		finish = models.FinishToolCalls
	}
	return &agent.Response{
		Message: models.Message{
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
		},
		FinishReason: finish,
		Usage:        usageOf(inTokens, outTokens),
	}, nil
}

func (p *Gemini) buildRequest(req *agent.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(req.Messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if n := maxTokensOr(req.MaxTokens); n > 0 {
		config.MaxOutputTokens = int32(n)
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}

	return geminiContents(rest), config
}

func geminiContents(msgs []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range msgs {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Role == models.RoleTool {
			// Function responses are keyed by name on this API; recover it
			// from the originating call.
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCallID(msg.ToolCallID, msgs),
					Response: response,
				},
			})
		} else {
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func geminiTools(specs []agent.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Parameters, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema maps a JSON Schema object onto the SDK's typed schema. Only
// the subset tool schemas actually use is carried over.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func geminiToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

func toolNameForCallID(toolCallID string, msgs []models.Message) string {
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	// IDs are minted as call_<name>_<nanos>.
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// wrapError classifies SDK failures. genai.APIError carries only code,
// status, and message, so a 429's Retry-After hint is lost here and retry
// falls back to its own backoff schedule.
func (p *Gemini) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return httpStatusError("gemini", apiErr.Code, apiErr.Message, "")
	}
	return networkError(err)
}
