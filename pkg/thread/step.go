package thread

import (
	"fmt"
	"time"
)

// StepKind identifies what produced a persisted step.
type StepKind string

const (
	// StepInput carries caller-supplied messages (a new human turn).
	StepInput StepKind = "input"
	// StepModel carries the assistant messages produced by one model call.
	StepModel StepKind = "model"
	// StepTools carries tool results produced by executing tool calls.
	StepTools StepKind = "tools"
	// StepInterrupt records a pause and the action requests awaiting decision.
	StepInterrupt StepKind = "interrupt"
	// StepResume clears the pause and carries the tool results produced by applying decisions.
	StepResume StepKind = "resume"
)

// Step is the unit appended to a thread. Thread state is a left fold over its steps.
type Step struct {
	Kind      StepKind        `json:"kind"`
	Messages  Messages        `json:"messages,omitempty"`
	Interrupt []ActionRequest `json:"interrupt,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks step shape before it is persisted.
func (s Step) Validate() error {
	switch s.Kind {
	case StepInput, StepModel, StepTools, StepResume:
		if len(s.Interrupt) > 0 {
			return fmt.Errorf("%s step cannot carry action requests", s.Kind)
		}
	case StepInterrupt:
		if len(s.Interrupt) == 0 {
			return fmt.Errorf("interrupt step requires at least one action request")
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}

	if s.Kind == StepInput && len(s.Messages) == 0 {
		return fmt.Errorf("input step requires at least one message")
	}
	for i, m := range s.Messages {
		if m == nil {
			return fmt.Errorf("message %d is nil", i)
		}
	}
	for i, req := range s.Interrupt {
		if req.Name == "" {
			return fmt.Errorf("action request %d has empty name", i)
		}
	}
	return nil
}

// State is the folded view of a thread.
type State struct {
	ThreadID  string
	Messages  []Message
	Pending   []ActionRequest
	Steps     int
	UpdatedAt time.Time
}

// Interrupted reports whether the thread has outstanding action requests.
func (s State) Interrupted() bool {
	return len(s.Pending) > 0
}

// Fold replays steps in order into a State.
func Fold(threadID string, steps []Step) State {
	state := State{
		ThreadID: threadID,
		Messages: []Message{},
	}

	for _, step := range steps {
		state.Messages = append(state.Messages, step.Messages...)

		switch step.Kind {
		case StepInterrupt:
			state.Pending = append([]ActionRequest(nil), step.Interrupt...)
		case StepResume:
			state.Pending = nil
		}

		state.Steps++
		if step.CreatedAt.After(state.UpdatedAt) {
			state.UpdatedAt = step.CreatedAt
		}
	}

	return state
}
