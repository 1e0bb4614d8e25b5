// Package agenttest provides a scripted LLM provider for exercising the engine
// without network access.
package agenttest

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/thread"
)

// ErrScriptExhausted is returned when the provider runs out of scripted replies.
var ErrScriptExhausted = errors.New("scripted provider has no more responses")

// Provider replays scripted responses in order and records every request.
type Provider struct {
	mu        sync.Mutex
	name      string
	responses []*agent.LLMResponse
	failures  []error
	requests  []agent.LLMRequest
}

// NewProvider returns a provider that answers with the given responses in order.
func NewProvider(responses ...*agent.LLMResponse) *Provider {
	return &Provider{name: "scripted", responses: responses}
}

// Named sets the provider name reported to metrics.
func (p *Provider) Named(name string) *Provider {
	p.name = name
	return p
}

// FailWith queues errors returned before any scripted response.
func (p *Provider) FailWith(errs ...error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
	return p
}

// Push appends more scripted responses.
func (p *Provider) Push(responses ...*agent.LLMResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

// Provider returns the provider name.
func (p *Provider) Provider() string { return p.name }

// Call returns the next failure or scripted response.
func (p *Provider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, request)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return nil, err
	}
	if len(p.responses) == 0 {
		return nil, ErrScriptExhausted
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []agent.LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]agent.LLMRequest(nil), p.requests...)
}

// Remaining reports how many scripted responses are left.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}

// Factory hands out providers by auth profile id. A single provider under the
// empty key serves every profile.
type Factory map[string]agent.LLMProvider

// NewProvider implements agent.ProviderCreator.
func (f Factory) NewProvider(profile agent.AuthProfile) (agent.LLMProvider, error) {
	if p, ok := f[profile.ID]; ok {
		return p, nil
	}
	if p, ok := f[""]; ok {
		return p, nil
	}
	return nil, errors.New("no scripted provider for profile " + profile.ID)
}

// Text is a reply with no tool calls.
func Text(content string) *agent.LLMResponse {
	return &agent.LLMResponse{Content: content}
}

// Calls is a reply carrying tool calls.
func Calls(content string, calls ...thread.ToolCall) *agent.LLMResponse {
	return &agent.LLMResponse{Content: content, ToolCalls: calls}
}

// Call builds one tool call.
func Call(id, name string, args map[string]interface{}) thread.ToolCall {
	return thread.ToolCall{ID: id, Name: name, Args: args}
}

// Profiles returns a single test auth profile.
func Profiles() []agent.AuthProfile {
	return []agent.AuthProfile{{ID: "test", Provider: "anthropic", APIKey: "test-key", Priority: 1}}
}
