package thread

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MessageType tags the persisted and streamed form of a message.
type MessageType string

const (
	TypeHuman MessageType = "human"
	TypeAI    MessageType = "ai"
	TypeTool  MessageType = "tool"
)

// ErrUnknownMessageType is returned when decoding a message whose type tag is not recognized.
var ErrUnknownMessageType = errors.New("unknown message type")

// Message is one item of conversation history.
// The set of implementations is closed: HumanMessage, AssistantMessage and ToolMessage.
type Message interface {
	Type() MessageType
	isMessage()
}

// ToolCall is an assistant's intent to invoke one tool.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// HumanMessage is user-authored text.
type HumanMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// AssistantMessage is model-authored text and zero or more tool invocations.
type AssistantMessage struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolStatus reports whether a tool invocation produced output or an error.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolMessage is the output of one tool invocation, linked by ToolCallID.
type ToolMessage struct {
	ID         string     `json:"id"`
	ToolCallID string     `json:"tool_call_id"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	Status     ToolStatus `json:"status"`
}

func (HumanMessage) Type() MessageType     { return TypeHuman }
func (AssistantMessage) Type() MessageType { return TypeAI }
func (ToolMessage) Type() MessageType      { return TypeTool }

func (HumanMessage) isMessage()     {}
func (AssistantMessage) isMessage() {}
func (ToolMessage) isMessage()      {}

// NewHumanMessage builds a human message with a fresh ID.
func NewHumanMessage(content string) HumanMessage {
	return HumanMessage{ID: newMessageID(), Content: content}
}

// NewAssistantMessage builds an assistant message with a fresh ID.
func NewAssistantMessage(content string, calls []ToolCall) AssistantMessage {
	if calls == nil {
		calls = []ToolCall{}
	}
	return AssistantMessage{ID: newMessageID(), Content: content, ToolCalls: calls}
}

// NewToolMessage builds a tool result for the given call.
func NewToolMessage(call ToolCall, content string, status ToolStatus) ToolMessage {
	return ToolMessage{
		ID:         newMessageID(),
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
		Status:     status,
	}
}

func newMessageID() string {
	return uuid.NewString()
}

// NewID returns a fresh thread id: a random uuid in 32-digit hex form.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasToolCalls reports whether the assistant asked for any tool invocation.
func (m AssistantMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// marshalTagged encodes without HTML escaping. An outer encoder still applies
// its own escaping setting to the result.
func marshalTagged(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (m HumanMessage) MarshalJSON() ([]byte, error) {
	type alias HumanMessage
	return marshalTagged(struct {
		Type MessageType `json:"type"`
		alias
	}{TypeHuman, alias(m)})
}

func (m AssistantMessage) MarshalJSON() ([]byte, error) {
	type alias AssistantMessage
	if m.ToolCalls == nil {
		m.ToolCalls = []ToolCall{}
	}
	return marshalTagged(struct {
		Type MessageType `json:"type"`
		alias
	}{TypeAI, alias(m)})
}

func (m ToolMessage) MarshalJSON() ([]byte, error) {
	type alias ToolMessage
	return marshalTagged(struct {
		Type MessageType `json:"type"`
		alias
	}{TypeTool, alias(m)})
}

// DecodeMessage decodes one tagged message. Unknown tags are an error, never a fallback.
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	switch head.Type {
	case TypeHuman:
		var m HumanMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode human message: %w", err)
		}
		return m, nil
	case TypeAI:
		var m AssistantMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode assistant message: %w", err)
		}
		if m.ToolCalls == nil {
			m.ToolCalls = []ToolCall{}
		}
		return m, nil
	case TypeTool:
		var m ToolMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode tool message: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}
}

// Messages is a JSON-decodable list of tagged messages.
type Messages []Message

func (ms *Messages) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Messages, 0, len(raw))
	for i, r := range raw {
		m, err := DecodeMessage(r)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	*ms = out
	return nil
}

// ActionRequest is a pending request for human authorization of one gated tool call.
type ActionRequest struct {
	ToolCallID  string                 `json:"tool_call_id"`
	Name        string                 `json:"name"`
	Args        map[string]interface{} `json:"args"`
	Description string                 `json:"description,omitempty"`
	// AllowedDecisions lists the decision kinds the gate accepts for this request.
	AllowedDecisions []string `json:"allowed_decisions,omitempty"`
}
