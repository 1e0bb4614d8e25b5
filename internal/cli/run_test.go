package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tether/pkg/agent/agenttest"
	"github.com/harun/tether/pkg/session"
)

func TestParseRunInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    runRequest
		wantErr string
	}{
		{
			name: "message",
			raw:  `{"thread_id": "t1", "type": "message", "message": "hi"}`,
			want: runRequest{threadID: "t1", kind: InputMessage, message: "hi"},
		},
		{
			name: "approval",
			raw:  `{"thread_id": "t1", "type": "approval"}`,
			want: runRequest{threadID: "t1", kind: InputApproval},
		},
		{name: "empty", raw: "  ", wantErr: "input JSON is required"},
		{name: "not json", raw: `thread t1`, wantErr: "not a JSON object"},
		{name: "missing thread", raw: `{"type": "approval"}`, wantErr: "'thread_id' field is required"},
		{name: "bad thread id", raw: `{"thread_id": "../x", "type": "approval"}`, wantErr: "invalid thread id"},
		{name: "missing type", raw: `{"thread_id": "t1"}`, wantErr: "'type' field is required"},
		{name: "missing message", raw: `{"thread_id": "t1", "type": "message"}`, wantErr: "'message' field is required"},
		{name: "blank message", raw: `{"thread_id": "t1", "type": "message", "message": " "}`, wantErr: "'message' cannot be empty"},
		{name: "unknown type", raw: `{"thread_id": "t1", "type": "cancel"}`, wantErr: `unknown type "cancel"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRunInput(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, session.ErrInvalidInput)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunRejectsInputBeforeOpeningAnything(t *testing.T) {
	env := setupCLI(t)

	_, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "bogus"}`)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(env.home, ".tether"))
	assert.True(t, os.IsNotExist(statErr), "no data dir may be created for invalid input")
	assert.Empty(t, env.provider.Requests())
}

func TestRunPlainReply(t *testing.T) {
	env := setupCLI(t, agenttest.Text("Hello there ✓ <ok>"))

	out, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "hi"}`)
	require.NoError(t, err)

	chunks := decodeAll(t, out)
	require.Len(t, chunks, 1)
	data := dataOf(t, chunks[0])
	assert.Equal(t, "ai", data["type"])
	assert.Equal(t, "Hello there ✓ <ok>", data["content"])

	assert.Contains(t, out, "✓ <ok>", "non-ASCII and HTML characters are written unescaped")
	assert.Contains(t, out, "\n  \"type\": \"message\"", "output is indented by two spaces")
}

func TestRunApproveFlow(t *testing.T) {
	env := setupCLI(t,
		agenttest.Calls("", agenttest.Call("c1", "write_file", map[string]interface{}{
			"file_path": "/notes.txt",
			"content":   "hello",
		})),
		agenttest.Text("Saved."),
	)

	out, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "save a note"}`)
	require.NoError(t, err)

	chunks := decodeAll(t, out)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ai", dataOf(t, chunks[0])["type"])
	assert.Equal(t, "action_request", chunks[1]["type"])
	assert.Equal(t, "write_file", chunks[1]["name"])
	assert.Equal(t, map[string]interface{}{"file_path": "/notes.txt", "content": "hello"}, chunks[1]["args"])

	_, err = os.Stat(filepath.Join(env.workspace, "notes.txt"))
	assert.True(t, os.IsNotExist(err), "gated write must not run before approval")

	out, err = env.exec(t, "status", "--thread", "t1")
	require.NoError(t, err)
	status := decodeAll(t, out)[0]
	assert.Equal(t, true, status["interrupted"])
	assert.Len(t, status["pending"], 1)

	out, err = env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "approval"}`)
	require.NoError(t, err)

	chunks = decodeAll(t, out)
	require.Len(t, chunks, 2)
	tool := dataOf(t, chunks[0])
	assert.Equal(t, "tool", tool["type"])
	assert.Equal(t, "c1", tool["tool_call_id"])
	assert.Contains(t, tool["content"], "Updated file")
	assert.Equal(t, "Saved.", dataOf(t, chunks[1])["content"])

	content, err := os.ReadFile(filepath.Join(env.workspace, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	out, err = env.exec(t, "history", "--thread", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "human"`)
	assert.Contains(t, out, "Saved.")
}

func TestRunMessageWhileInterruptedRejects(t *testing.T) {
	env := setupCLI(t,
		agenttest.Calls("", agenttest.Call("c1", "write_file", map[string]interface{}{
			"file_path": "/notes.txt",
			"content":   "hello",
		})),
		agenttest.Text("Understood, not writing."),
	)

	_, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "save a note"}`)
	require.NoError(t, err)

	out, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "not now"}`)
	require.NoError(t, err)

	chunks := decodeAll(t, out)
	require.Len(t, chunks, 2)
	tool := dataOf(t, chunks[0])
	assert.Equal(t, "tool", tool["type"])
	assert.Equal(t, session.RejectPrefix+"not now", tool["content"])
	assert.Equal(t, "Understood, not writing.", dataOf(t, chunks[1])["content"])

	_, err = os.Stat(filepath.Join(env.workspace, "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunIgnoresBusyPolicyError(t *testing.T) {
	env := setupCLI(t,
		agenttest.Calls("", agenttest.Call("c1", "write_file", map[string]interface{}{
			"file_path": "/notes.txt",
			"content":   "hello",
		})),
		agenttest.Text("Understood, not writing."),
	)
	t.Setenv("TETHER_SESSION_BUSY_POLICY", "error")

	_, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "save a note"}`)
	require.NoError(t, err)

	out, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "not now"}`)
	require.NoError(t, err)

	chunks := decodeAll(t, out)
	require.Len(t, chunks, 2)
	assert.Equal(t, session.RejectPrefix+"not now", dataOf(t, chunks[0])["content"])
}

func TestRunApprovalWithoutPause(t *testing.T) {
	env := setupCLI(t)

	_, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "approval"}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNotInterrupted)
}

func TestRunReadsStdin(t *testing.T) {
	env := setupCLI(t, agenttest.Text("from stdin"))

	cmd := NewRootCmd(WithProviderFactory(agenttest.Factory{"": env.provider}))
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(`{"thread_id": "t9", "type": "message", "message": "hi"}`))
	cmd.SetArgs([]string{"run", "--config", env.configPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "from stdin")
}

func TestRunRequiresCredentials(t *testing.T) {
	env := setupCLI(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte(`{"logging": {"level": "error"}}`), 0o600))

	_, err := env.exec(t, "run", "--input", `{"thread_id": "t1", "type": "message", "message": "hi"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI credentials")
}
