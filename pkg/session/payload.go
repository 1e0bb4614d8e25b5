package session

import (
	"fmt"

	"github.com/harun/tether/pkg/thread"
)

// ActionRequestPayload is the wire form of an ActionRequestChunk.
type ActionRequestPayload struct {
	Type string                 `json:"type"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// MessagePayload is the wire form of an assistant or tool result chunk.
type MessagePayload struct {
	Type string         `json:"type"`
	Data thread.Message `json:"data"`
}

// Payload converts a chunk to the JSON object adapters write out:
// {"type":"action_request","name":..,"args":..} or {"type":"message","data":{..}}.
func Payload(c Chunk) (interface{}, error) {
	switch chunk := c.(type) {
	case AssistantChunk:
		return MessagePayload{Type: "message", Data: chunk.Message}, nil
	case ToolResultChunk:
		return MessagePayload{Type: "message", Data: chunk.Message}, nil
	case ActionRequestChunk:
		args := chunk.Request.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		return ActionRequestPayload{Type: "action_request", Name: chunk.Request.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("%w: chunk %T", ErrUnknownEvent, c)
	}
}
