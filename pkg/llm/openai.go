package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// Settings selects the model and endpoint for one tenant's LLM
// configuration. Built from the llm_configs table by the orchestrator.
type Settings struct {
	Provider  string // "openai", "openrouter", or any compatible gateway
	Model     string
	APIKeyEnv string // environment variable holding the key
	BaseURL   string // optional override; provider default when empty
}

// Provider base URLs for OpenAI-compatible gateways seen in production.
var providerBaseURLs = map[string]string{
	"openai":     "", // go-openai default
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

// OpenAIClient implements Client over any OpenAI-compatible chat API.
type OpenAIClient struct {
	chat  *openai.Client
	model string
}

// NewOpenAIClient builds a client from settings, resolving the API key
// from the configured environment variable.
func NewOpenAIClient(settings Settings) (*OpenAIClient, error) {
	if settings.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	apiKey := os.Getenv(settings.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: api key env %s is empty", settings.APIKeyEnv)
	}

	cfg := openai.DefaultConfig(apiKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	} else if base, ok := providerBaseURLs[settings.Provider]; ok && base != "" {
		cfg.BaseURL = base
	}

	return &OpenAIClient{
		chat:  openai.NewClientWithConfig(cfg),
		model: settings.Model,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	tools, err := encodeTools(req.Tools)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: empty choices in completion response")
	}

	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

func encodeTools(defs []ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("llm: marshal tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}
