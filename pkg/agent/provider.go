package agent

import (
	"context"
	"fmt"

	"github.com/harun/tether/pkg/thread"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []thread.Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []thread.ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("auth profile %q has no api key", profile.ID)
	}
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
