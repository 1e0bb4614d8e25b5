package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/agent/agenttest"
)

type cliEnv struct {
	home       string
	workspace  string
	configPath string
	provider   *agenttest.Provider
}

// setupCLI isolates HOME and writes a config that points the workspace at a
// temp dir and uses a scripted provider.
func setupCLI(t *testing.T, responses ...*agent.LLMResponse) *cliEnv {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	workspace := t.TempDir()
	cfg := map[string]interface{}{
		"workspace": map[string]interface{}{"root": workspace, "virtual_mode": true},
		"ai": map[string]interface{}{"profiles": []interface{}{
			map[string]interface{}{"id": "test", "provider": "anthropic", "api_key": "sk-ant-test", "priority": 1},
		}},
		"logging": map[string]interface{}{"level": "error"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	configPath := filepath.Join(home, "tether.json")
	require.NoError(t, os.WriteFile(configPath, data, 0o600))

	return &cliEnv{
		home:       home,
		workspace:  workspace,
		configPath: configPath,
		provider:   agenttest.NewProvider(responses...),
	}
}

func (e *cliEnv) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd(WithProviderFactory(agenttest.Factory{"": e.provider}))
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append(args, "--config", e.configPath))

	err := cmd.Execute()
	return out.String(), err
}

// decodeAll reads a stream of concatenated JSON objects.
func decodeAll(t *testing.T, out string) []map[string]interface{} {
	t.Helper()

	var values []map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(out))
	for {
		var v map[string]interface{}
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return values
		}
		require.NoError(t, err)
		values = append(values, v)
	}
}

func dataOf(t *testing.T, payload map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Equal(t, "message", payload["type"])
	data, ok := payload["data"].(map[string]interface{})
	require.True(t, ok)
	return data
}
