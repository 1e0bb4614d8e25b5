package observability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // thread or connection ID
	Action    string                 `json:"action"`          // e.g. "decision:approve"
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records human decisions and other security-relevant events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance, defaulting to a no-op writer.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	inst := auditInst
	auditMu.RUnlock()
	if inst != nil {
		return inst
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = &AuditLogger{logger: zerolog.Nop()}
	}
	return auditInst
}

// InitAuditLogger points the global audit logger at a file.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	auditMu.Lock()
	prev := auditInst
	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	auditMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// NewAuditLogger builds an audit logger over an arbitrary zerolog logger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// SetAuditLogger replaces the global audit logger.
func SetAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
}

// Record emits an audit event to the log and as a span event when a span is active
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// RecordDecisionAudit logs one human decision applied to a pending action request.
func RecordDecisionAudit(ctx context.Context, threadID, kind, actionName string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["tool"] = actionName
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "decision",
		Actor:    threadID,
		Action:   "decision:" + kind,
		Status:   "applied",
		Metadata: metadata,
	})
}

// RecordToolAudit logs the execution of a gated tool.
func RecordToolAudit(ctx context.Context, toolName, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   "execute:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}
