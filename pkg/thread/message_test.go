package thread

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSONCarriesTypeTag(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want MessageType
	}{
		{"human", NewHumanMessage("hi"), TypeHuman},
		{"assistant", NewAssistantMessage("ok", nil), TypeAI},
		{"tool", NewToolMessage(ToolCall{ID: "c1", Name: "ls"}, "a.txt", ToolStatusSuccess), TypeTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			require.NoError(t, err)

			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &raw))
			assert.Equal(t, string(tt.want), raw["type"])
			assert.NotEmpty(t, raw["id"])

			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestAssistantMessageAlwaysEmitsToolCalls(t *testing.T) {
	data, err := json.Marshal(AssistantMessage{ID: "a1", Content: "done"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_calls":[]`)
}

func TestMessageEncodingFollowsEncoderEscaping(t *testing.T) {
	msgs := []Message{
		NewHumanMessage("a < b & c"),
		NewAssistantMessage("Hello there ✓ <ok>", nil),
		NewToolMessage(ToolCall{ID: "c1", Name: "read_file"}, "<html>", ToolStatusSuccess),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(msgs))
	out := buf.String()
	assert.Contains(t, out, "a < b & c")
	assert.Contains(t, out, "Hello there ✓ <ok>")
	assert.Contains(t, out, "<html>")
	assert.NotContains(t, out, `\u003c`)

	escaped, err := json.Marshal(msgs[1])
	require.NoError(t, err)
	assert.Contains(t, string(escaped), `\u003cok\u003e`)

	var back Messages
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, Messages(msgs), back)
}

func TestDecodeMessageRejectsUnknownType(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"system","content":"x"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestMessagesUnmarshal(t *testing.T) {
	var ms Messages
	err := json.Unmarshal([]byte(`[
		{"type":"human","id":"h1","content":"hello"},
		{"type":"ai","id":"a1","content":"","tool_calls":[{"id":"c1","name":"write_file","args":{"file_path":"a.txt"}}]},
		{"type":"tool","id":"t1","tool_call_id":"c1","name":"write_file","content":"ok","status":"success"}
	]`), &ms)
	require.NoError(t, err)
	require.Len(t, ms, 3)

	ai, ok := ms[1].(AssistantMessage)
	require.True(t, ok)
	assert.True(t, ai.HasToolCalls())
	assert.Equal(t, "a.txt", ai.ToolCalls[0].Args["file_path"])

	tool, ok := ms[2].(ToolMessage)
	require.True(t, ok)
	assert.Equal(t, "c1", tool.ToolCallID)

	err = json.Unmarshal([]byte(`[{"type":"bogus"}]`), &ms)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Regexp(t, `^[0-9a-f]{32}$`, id)
	assert.NoError(t, ValidateThreadID(id))
	assert.NotEqual(t, id, NewID())
}
