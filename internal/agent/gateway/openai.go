package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ensembleai/ensemble/internal/agent"
	"github.com/ensembleai/ensemble/pkg/models"
)

// OpenAIConfig configures the OpenAI gateway. Only APIKey is required.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key.
	APIKey string

	// BaseURL overrides the default API base URL, for proxies and
	// API-compatible backends.
	BaseURL string

	// Model selects the model for every invocation. Default: gpt-4o.
	Model string

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff delay, doubled on each retry.
	// Default: 1s.
	RetryDelay time.Duration
}

// OpenAIGateway invokes OpenAI chat models. It is safe for concurrent use.
type OpenAIGateway struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIGateway creates an OpenAI-backed gateway.
func NewOpenAIGateway(config OpenAIConfig) (*OpenAIGateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4o
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIGateway{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      config.Model,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}, nil
}

// Name implements agent.ModelGateway.
func (g *OpenAIGateway) Name() string {
	return "openai"
}

// Invoke implements agent.ModelGateway.
func (g *OpenAIGateway) Invoke(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: convertOpenAIMessages(req),
		Tools:    convertOpenAITools(req.Tools),
	}
	if len(req.OutputSchema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.retryDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return convertOpenAIResponse(&resp)
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("openai: %w", err)
		}
	}
	return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
}

// convertOpenAIMessages maps the conversation to OpenAI chat messages. Tool
// results split into one tool-role message per result, as the API requires.
func convertOpenAIMessages(req *agent.ModelRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	system := req.Instructions
	if len(req.OutputSchema) > 0 {
		system += "\n\nRespond with a single JSON document conforming to this JSON Schema:\n" + string(req.OutputSchema)
	}
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

// convertOpenAITools maps engine tool schemas to function definitions.
func convertOpenAITools(tools []agent.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params any
		if len(tool.InputSchema) > 0 {
			params = tool.InputSchema
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

// convertOpenAIResponse maps the chat completion to engine terms.
func convertOpenAIResponse(resp *openai.ChatCompletionResponse) (*agent.ModelResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0].Message

	out := &agent.ModelResponse{
		Text: choice.Content,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}
