package session

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrThreadInterrupted = errors.New("thread is interrupted")
	ErrNotInterrupted    = errors.New("thread is not interrupted")
	ErrDecisionCount     = errors.New("decision count does not match pending action requests")
	ErrUnknownDecision   = errors.New("unknown decision kind")
	ErrUnknownEvent      = errors.New("unknown engine event")
)
