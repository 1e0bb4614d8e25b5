package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/tether/pkg/thread"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T, response string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err == nil && captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var writeFileSpec = ToolSpec{
	Name:        "write_file",
	Description: "write a file",
	InputSchema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	},
}

func TestAnthropicProviderCall(t *testing.T) {
	var sent map[string]interface{}
	srv := fakeAPI(t, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [
			{"type": "text", "text": "writing"},
			{"type": "tool_use", "id": "toolu_1", "name": "write_file", "input": {"path": "a.txt"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`, &sent)

	p := NewAnthropicProvider("sk-ant-test",
		anthropicoption.WithBaseURL(srv.URL),
		anthropicoption.WithMaxRetries(0))
	assert.Equal(t, "anthropic", p.Provider())

	resp, err := p.Call(context.Background(), LLMRequest{
		Model:        "claude-sonnet-4-5",
		Messages:     []thread.Message{thread.NewHumanMessage("make a.txt")},
		Tools:        []ToolSpec{writeFileSpec},
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)

	assert.Equal(t, "writing", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "write_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "a.txt", resp.ToolCalls[0].Args["path"])
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)

	assert.Equal(t, "claude-sonnet-4-5", sent["model"])
	assert.EqualValues(t, 4096, sent["max_tokens"])
	assert.Len(t, sent["tools"], 1)
}

func TestOpenAIProviderCall(t *testing.T) {
	var sent map[string]interface{}
	srv := fakeAPI(t, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
		"choices": [{
			"index": 0, "finish_reason": "tool_calls",
			"message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "write_file", "arguments": "{\"path\":\"a.txt\"}"}}]
			}
		}],
		"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
	}`, &sent)

	p := NewOpenAIProvider("sk-test",
		openaioption.WithBaseURL(srv.URL+"/v1/"),
		openaioption.WithMaxRetries(0))
	assert.Equal(t, "openai", p.Provider())

	resp, err := p.Call(context.Background(), LLMRequest{
		Model:        "gpt-4o",
		Messages:     []thread.Message{thread.NewHumanMessage("make a.txt")},
		Tools:        []ToolSpec{writeFileSpec},
		SystemPrompt: "be brief",
		MaxTokens:    256,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "a.txt", resp.ToolCalls[0].Args["path"])
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	assert.Equal(t, "gpt-4o", sent["model"])
	msgs, ok := sent["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	srv := fakeAPI(t, `{"id": "x", "object": "chat.completion", "created": 1, "model": "gpt-4o", "choices": []}`, nil)
	p := NewOpenAIProvider("sk-test", openaioption.WithBaseURL(srv.URL+"/v1/"), openaioption.WithMaxRetries(0))

	_, err := p.Call(context.Background(), LLMRequest{
		Model:    "gpt-4o",
		Messages: []thread.Message{thread.NewHumanMessage("hi")},
	})
	assert.ErrorContains(t, err, "no response choices")
}

func TestAnthropicMessagesMergesToolResults(t *testing.T) {
	a := thread.ToolCall{ID: "t1", Name: "ls", Args: map[string]interface{}{}}
	b := thread.ToolCall{ID: "t2", Name: "ls"}
	history := []thread.Message{
		thread.NewHumanMessage("list"),
		thread.NewAssistantMessage("", []thread.ToolCall{a, b}),
		thread.NewToolMessage(a, "x", thread.ToolStatusSuccess),
		thread.NewToolMessage(b, "boom", thread.ToolStatusError),
		thread.NewAssistantMessage("done", nil),
	}

	out := anthropicMessages(history)
	require.Len(t, out, 4)
	assert.Len(t, out[1].Content, 2)
	assert.Len(t, out[2].Content, 2)
}

func TestProviderFactory(t *testing.T) {
	f := &ProviderFactory{}

	tests := []struct {
		name    string
		profile AuthProfile
		want    string
		wantErr string
	}{
		{"anthropic", AuthProfile{ID: "a", Provider: "anthropic", APIKey: "sk-ant-x"}, "anthropic", ""},
		{"openai", AuthProfile{ID: "o", Provider: "openai", APIKey: "sk-x"}, "openai", ""},
		{"missing key", AuthProfile{ID: "a", Provider: "anthropic"}, "", "no api key"},
		{"unknown provider", AuthProfile{ID: "g", Provider: "gemini", APIKey: "k"}, "", "unsupported provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.NewProvider(tt.profile)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Provider())
		})
	}
}
