package chat

import (
	"github.com/harun/tether/pkg/thread"
)

// Client frame types
const (
	FrameMessage   = "message"
	FrameApprove   = "approve"
	FrameReject    = "reject"
	FrameNewThread = "new_thread"
	FrameHistory   = "history"
)

// Server frame types
const (
	FrameChunk  = "chunk"
	FrameStatus = "status"
	FrameError  = "error"
)

// ClientFrame is a request sent by a browser client.
type ClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StatusFrame reports the connection's current thread.
type StatusFrame struct {
	Type         string                 `json:"type"`
	ConnectionID string                 `json:"connection_id"`
	ThreadID     string                 `json:"thread_id"`
	Interrupted  bool                   `json:"interrupted"`
	Pending      []thread.ActionRequest `json:"pending"`
}

// ChunkFrame wraps one chunk payload.
type ChunkFrame struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id"`
	Chunk    interface{} `json:"chunk"`
}

// HistoryFrame carries the full persisted history of a thread.
type HistoryFrame struct {
	Type     string           `json:"type"`
	ThreadID string           `json:"thread_id"`
	Messages []thread.Message `json:"messages"`
}

// ErrorFrame reports a failed request. The connection stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}
