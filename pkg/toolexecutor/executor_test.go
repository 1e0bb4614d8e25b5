package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["message"], nil
		},
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := New()

	require.NoError(t, te.RegisterTool(echoTool()))
	tool := te.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)

	err := te.RegisterTool(echoTool())
	assert.Error(t, err)
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := New()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{"empty name", ToolDefinition{Description: "Test", Handler: nopHandler}},
		{"empty description", ToolDefinition{Name: "test", Handler: nopHandler}},
		{"nil handler", ToolDefinition{Name: "test", Description: "Test"}},
		{"unnamed parameter", ToolDefinition{Name: "test", Description: "Test", Handler: nopHandler,
			Parameters: []ToolParameter{{Type: "string", Description: "x"}}}},
		{"invalid parameter type", ToolDefinition{Name: "test", Description: "Test", Handler: nopHandler,
			Parameters: []ToolParameter{{Name: "p", Type: "date", Description: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Execute(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "failing_tool",
		Description: "A tool that fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("handler error")
		},
	}))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panicking_tool",
		Description: "A tool that panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))

	tests := []struct {
		name        string
		tool        string
		params      map[string]interface{}
		execCtx     *ExecutionContext
		wantSuccess bool
		wantOutput  interface{}
		wantError   string
	}{
		{"success", "echo", map[string]interface{}{"message": "Hello"}, nil, true, "Hello", ""},
		{"not found", "missing", nil, nil, false, nil, "tool not found"},
		{"missing required", "echo", map[string]interface{}{}, nil, false, nil, "validation"},
		{"unknown parameter", "echo", map[string]interface{}{"message": "x", "extra": 1}, nil, false, nil, "validation"},
		{"handler error", "failing_tool", nil, nil, false, nil, "handler error"},
		{"panic", "panicking_tool", nil, nil, false, nil, "panicked"},
		{"denied by policy", "echo", map[string]interface{}{"message": "x"},
			&ExecutionContext{ToolPolicy: &ToolPolicy{Deny: []string{"echo"}}}, false, nil, "not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := te.Execute(context.Background(), tt.tool, tt.params, tt.execCtx)
			assert.Equal(t, tt.wantSuccess, result.Success)
			if tt.wantSuccess {
				assert.Equal(t, tt.wantOutput, result.Output)
				assert.Empty(t, result.Error)
			} else {
				assert.Contains(t, result.Error, tt.wantError)
			}
			assert.Contains(t, result.Metadata, "duration")
		})
	}
}

func TestToolExecutor_Execute_Timeout(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow_tool",
		Description: "A slow tool",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	result := te.Execute(context.Background(), "slow_tool", nil, &ExecutionContext{Timeout: 50 * time.Millisecond})
	assert.False(t, result.Success)
	assert.Regexp(t, "timeout|deadline exceeded", result.Error)
}

func TestToolExecutor_Execute_OutputTruncation(t *testing.T) {
	te := New()
	te.SetMaxOutput(1024)
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "large_output",
		Description: "Tool with large output",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return strings.Repeat("A", 4096), nil
		},
	}))

	result := te.Execute(context.Background(), "large_output", nil, nil)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Output.(string), "[output truncated]")
}

func TestToolExecutor_ExecContextReachesHandler(t *testing.T) {
	te := New()
	var seen *ExecutionContext
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "inspect",
		Description: "Reads execution context",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = ExecutionFromContext(ctx)
			return "ok", nil
		},
	}))

	execCtx := &ExecutionContext{ThreadID: "t1", WorkingDir: "/tmp"}
	result := te.Execute(context.Background(), "inspect", nil, execCtx)
	require.True(t, result.Success)
	assert.Same(t, execCtx, seen)
}

func TestToolExecutor_ListAndDefinitions(t *testing.T) {
	te := New()
	for _, name := range []string{"tool3", "tool1", "tool2"} {
		require.NoError(t, te.RegisterTool(ToolDefinition{Name: name, Description: "Test tool", Handler: nopHandler}))
	}

	assert.Equal(t, []string{"tool1", "tool2", "tool3"}, te.ListTools())
	defs := te.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "tool1", defs[0].Name)
	assert.Equal(t, 3, te.GetToolCount())

	te.UnregisterTool("tool2")
	assert.Nil(t, te.GetTool("tool2"))
	assert.Equal(t, 2, te.GetToolCount())
}

func TestToolResult_Content(t *testing.T) {
	tests := []struct {
		name   string
		result ToolResult
		want   string
	}{
		{"string", ToolResult{Success: true, Output: "hello"}, "hello"},
		{"nil", ToolResult{Success: true}, ""},
		{"structured", ToolResult{Success: true, Output: map[string]interface{}{"n": 1}}, `{"n":1}`},
		{"error", ToolResult{Success: false, Error: "boom"}, "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Content())
		})
	}
}

func TestInputSchema(t *testing.T) {
	schema := InputSchema(echoTool())
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"message"}, schema["required"])
	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "message")
}
