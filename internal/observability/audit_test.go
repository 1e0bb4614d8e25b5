package observability

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecisionAudit(t *testing.T) {
	var buf bytes.Buffer
	prev := GetAuditLogger()
	SetAuditLogger(NewAuditLogger(zerolog.New(&buf)))
	defer SetAuditLogger(prev)

	RecordDecisionAudit(context.Background(), "t1", "reject", "write_file", map[string]interface{}{
		"feedback": "not now",
	})

	out := buf.String()
	assert.Contains(t, out, `"type":"decision"`)
	assert.Contains(t, out, `"action":"decision:reject"`)
	assert.Contains(t, out, `"actor":"t1"`)
	assert.Contains(t, out, `"tool":"write_file"`)
	assert.Contains(t, out, "not now")
}

func TestInitAuditLogger(t *testing.T) {
	prev := GetAuditLogger()
	defer SetAuditLogger(prev)

	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))

	RecordToolAudit(context.Background(), "write_file", "t1", "success", nil)
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "execute:write_file")
}

func TestMetricsHandler(t *testing.T) {
	RecordChunk("assistant")
	RecordTurn("run", "interrupted")
	RecordDecisions("approve", 2)
	assert.NotNil(t, MetricsHandler())
}
