package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/tether/pkg/thread"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

func openAIMessages(systemPrompt string, history []thread.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range history {
		switch m := msg.(type) {
		case thread.HumanMessage:
			messages = append(messages, openai.UserMessage(m.Content))
		case thread.AssistantMessage:
			if !m.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				argsJSON, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case thread.ToolMessage:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return messages, nil
}

// Call makes an API call to OpenAI
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := openAIMessages(request.SystemPrompt, request.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	toolCalls := []thread.ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		toolCalls = append(toolCalls, thread.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return &LLMResponse{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}
