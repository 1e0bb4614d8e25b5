package session

import (
	"fmt"

	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/thread"
)

// ChunkKind names a chunk variant.
type ChunkKind string

const (
	ChunkAssistant     ChunkKind = "assistant"
	ChunkToolResult    ChunkKind = "tool_result"
	ChunkActionRequest ChunkKind = "action_request"
)

// Chunk is one unit of a classified output stream. The variants are
// AssistantChunk, ToolResultChunk and ActionRequestChunk.
type Chunk interface {
	Kind() ChunkKind
	isChunk()
}

// AssistantChunk carries a completed assistant message.
type AssistantChunk struct {
	Message thread.AssistantMessage
}

// ToolResultChunk carries the output of one tool invocation.
type ToolResultChunk struct {
	Message thread.ToolMessage
}

// ActionRequestChunk carries one pending request awaiting a decision.
type ActionRequestChunk struct {
	Request thread.ActionRequest
}

func (AssistantChunk) Kind() ChunkKind     { return ChunkAssistant }
func (ToolResultChunk) Kind() ChunkKind    { return ChunkToolResult }
func (ActionRequestChunk) Kind() ChunkKind { return ChunkActionRequest }

func (AssistantChunk) isChunk()     {}
func (ToolResultChunk) isChunk()    {}
func (ActionRequestChunk) isChunk() {}

// classify maps one engine event to chunks. Messages that do not belong to
// the event's node are rejected rather than dropped.
func classify(ev agent.Event) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(ev.Messages))
	switch ev.Node {
	case agent.NodeModel:
		for _, msg := range ev.Messages {
			m, ok := msg.(thread.AssistantMessage)
			if !ok {
				return nil, fmt.Errorf("%w: %T in %s event", ErrUnknownEvent, msg, ev.Node)
			}
			chunks = append(chunks, AssistantChunk{Message: m})
		}
	case agent.NodeTools:
		for _, msg := range ev.Messages {
			m, ok := msg.(thread.ToolMessage)
			if !ok {
				return nil, fmt.Errorf("%w: %T in %s event", ErrUnknownEvent, msg, ev.Node)
			}
			chunks = append(chunks, ToolResultChunk{Message: m})
		}
	default:
		return nil, fmt.Errorf("%w: node %q", ErrUnknownEvent, ev.Node)
	}
	return chunks, nil
}
