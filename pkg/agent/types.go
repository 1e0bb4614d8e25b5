package agent

import (
	"errors"
	"strings"

	"github.com/harun/tether/pkg/thread"
)

// Node names tag the part of the engine that produced an event.
const (
	NodeModel = "model"
	NodeTools = "tools"
)

// Event is one engine update: the messages a node appended to the thread.
type Event struct {
	Node     string
	Messages []thread.Message
}

// Decision record types understood by the engine.
const (
	DecisionApprove = "approve"
	DecisionEdit    = "edit"
	DecisionReject  = "reject"
)

// EditedAction replaces the name and arguments of a gated call.
type EditedAction struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// DecisionRecord resolves one pending action request.
type DecisionRecord struct {
	Type         string        `json:"type"`
	Message      string        `json:"message,omitempty"`
	EditedAction *EditedAction `json:"edited_action,omitempty"`
}

// ResumePayload carries one decision per pending request, in request order.
type ResumePayload struct {
	Decisions []DecisionRecord `json:"decisions"`
}

// Input is what a caller feeds the engine: new messages, or a resume payload.
type Input struct {
	Messages []thread.Message
	Resume   *ResumePayload
}

var (
	// ErrEmptyInput is returned when Input carries neither messages nor a resume payload.
	ErrEmptyInput = errors.New("input carries neither messages nor resume payload")
	// ErrAmbiguousInput is returned when Input carries both messages and a resume payload.
	ErrAmbiguousInput = errors.New("input carries both messages and resume payload")
	// ErrPendingActions is returned when new messages are sent to a paused thread.
	ErrPendingActions = errors.New("thread has pending action requests")
	// ErrNoPendingActions is returned when resuming a thread that is not paused.
	ErrNoPendingActions = errors.New("thread has no pending action requests")
	// ErrDecisionMismatch is returned when the decision count differs from the pending count.
	ErrDecisionMismatch = errors.New("decision count does not match pending action requests")
	// ErrDecisionNotAllowed is returned for a decision type the request does not allow.
	ErrDecisionNotAllowed = errors.New("decision type not allowed for action request")
	// ErrMaxTurns is returned when the model keeps calling tools past the turn limit.
	ErrMaxTurns = errors.New("maximum tool execution turns exceeded")
)

// Config configures model calls.
type Config struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTurns     int     `json:"max_turns,omitempty"`
	MaxRetries   int     `json:"max_retries,omitempty"`
}

// DefaultSystemPrompt is used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = "You are a helpful assistant with access to a filesystem. " +
	"Use the available tools to inspect and modify files when the user asks."

// DefaultConfig returns default agent configuration
func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5",
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxTurns:    25,
		MaxRetries:  3,
	}
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AuthProfile represents authentication credentials for LLM providers
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai"
	APIKey        string `json:"api_key"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// IsRetryableError checks if a provider error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"ECONNRESET", "ETIMEDOUT", "connection reset",
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504", "529",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
