package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the ID of one engine run (a single run or resume call)
	RunIDKey ContextKey = "run_id"
	// ThreadIDKey is the context key for thread ID
	ThreadIDKey ContextKey = "thread_id"
	// ConnectionIDKey is the context key for a chat connection ID
	ConnectionIDKey ContextKey = "connection_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	RunID        string
	ThreadID     string
	ConnectionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithThreadID adds a thread ID to the context
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithConnectionID adds a chat connection ID to the context
func WithConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return stringValue(ctx, RunIDKey) }

// GetThreadID retrieves the thread ID from the context
func GetThreadID(ctx context.Context) string { return stringValue(ctx, ThreadIDKey) }

// GetConnectionID retrieves the chat connection ID from the context
func GetConnectionID(ctx context.Context) string { return stringValue(ctx, ConnectionIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		RunID:        GetRunID(ctx),
		ThreadID:     GetThreadID(ctx),
		ConnectionID: GetConnectionID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext starts a run scoped to one thread: keeps the trace ID, mints a run ID.
func NewRunContext(ctx context.Context, threadID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = NewRequestContext(ctx)
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithThreadID(ctx, threadID)
}

// LoggerFromContext adds tracing context to a zerolog logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.ThreadID != "" {
		lc = lc.Str("thread_id", tc.ThreadID)
	}
	if tc.ConnectionID != "" {
		lc = lc.Str("connection_id", tc.ConnectionID)
	}
	return lc.Logger()
}
