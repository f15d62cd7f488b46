package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veramoney/assistant/internal/agent"
	"github.com/veramoney/assistant/internal/domain"
)

// ChatClient implements agent.ChatModel over the chat completions API.
type ChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// ChatConfig holds the chat model settings.
type ChatConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// NewChatClient creates a chat completions client.
func NewChatClient(cfg *ChatConfig) *ChatClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &ChatClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete implements agent.ChatModel.
func (c *ChatClient) Complete(ctx context.Context, messages []agent.Message, tools []agent.ToolSpec) (agent.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toAPIMessages(messages),
		Temperature: c.temperature,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return agent.Message{}, parseChatError(err)
	}
	if len(resp.Choices) == 0 {
		return agent.Message{}, fmt.Errorf("chat completion returned no choices: %w", domain.ErrTransport)
	}

	return fromAPIMessage(resp.Choices[0].Message), nil
}

func toAPIMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMsg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, apiMsg)
	}
	return out
}

func fromAPIMessage(m openai.ChatCompletionMessage) agent.Message {
	msg := agent.Message{
		Role:    m.Role,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return msg
}

func parseChatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("chat API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, domain.ErrTransport)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("chat API error %d: %w", reqErr.HTTPStatusCode, domain.ErrTransport)
	}
	return fmt.Errorf("chat request failed: %w", domain.ErrTransport)
}
