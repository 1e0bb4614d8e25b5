package logger

import (
	"io"
	"regexp"
	"sync"
)

// replacement keeps capture group 1 (a field name) so JSON lines stay parseable.
const replacement = "${1}[REDACTED]"

// Redactor scrubs credentials from log output
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for provider keys and common secret fields
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic and OpenAI keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{20,}`),

			regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._~+/-]+=*`),
			regexp.MustCompile(`(?i)(x-api-key["\s:=]+)[^\s",}]+`),
			regexp.MustCompile(`(?i)(api_key["\s:=]+)[^\s",}]+`),
			regexp.MustCompile(`(?i)(password["\s:=]+)[^\s",}]+`),
			regexp.MustCompile(`(?i)(secret["\s:=]+)[^\s",}]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern. Capture group 1, when present, is kept.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// Redact replaces secrets with [REDACTED]
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, replacement)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write when
// redaction changes the length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
