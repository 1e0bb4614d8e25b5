package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewIDs(t *testing.T) {
	assert.NotEmpty(t, NewTraceID())
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithThreadID(ctx, "t1")
	ctx = WithConnectionID(ctx, "conn-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "t1", tc.ThreadID)
	assert.Equal(t, "conn-1", tc.ConnectionID)
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetThreadID(ctx))
	assert.Empty(t, GetConnectionID(ctx))
}

func TestNewRunContext(t *testing.T) {
	t.Run("keeps existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = NewRunContext(ctx, "t1")

		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
		assert.Equal(t, "t1", GetThreadID(ctx))
	})

	t.Run("mints trace id when missing", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "t2")
		assert.NotEmpty(t, GetTraceID(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithThreadID(WithTraceID(context.Background(), "trace-1"), "t1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"thread_id":"t1"`)
	assert.NotContains(t, out, "run_id")
}

func TestStartSpanMirrorsTraceID(t *testing.T) {
	err := InitOpenTelemetry(Options{ServiceName: "tether-test"})
	assert.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "tether.test", "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
	RecordError(span, nil)
}
