package session

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/thread"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "tether.session"

// Engine is the execution engine the Controller drives.
type Engine interface {
	// Stream advances a thread and yields model and tools events.
	Stream(ctx context.Context, threadID string, input agent.Input) iter.Seq2[agent.Event, error]
	// State returns the folded thread, including pending action requests.
	State(ctx context.Context, threadID string) (thread.State, error)
}

// BusyPolicy decides what Run does with a message sent to an interrupted thread.
type BusyPolicy string

const (
	// BusyReject treats the message as a rejection of every pending request.
	BusyReject BusyPolicy = "reject"
	// BusyError fails the call with ErrThreadInterrupted.
	BusyError BusyPolicy = "error"
)

// ParseBusyPolicy validates a policy name. Empty selects BusyReject.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch p := BusyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return BusyReject, nil
	case BusyReject, BusyError:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown busy policy %q", ErrInvalidInput, s)
	}
}

// Config holds controller configuration
type Config struct {
	Engine     Engine
	BusyPolicy BusyPolicy
	Logger     zerolog.Logger
}

// Controller runs and resumes threads. It keeps no state between calls.
type Controller struct {
	engine     Engine
	busyPolicy BusyPolicy
	logger     zerolog.Logger
}

// NewController creates a controller over the given engine.
func NewController(cfg Config) (*Controller, error) {
	observability.EnsureRegistered()

	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	policy, err := ParseBusyPolicy(string(cfg.BusyPolicy))
	if err != nil {
		return nil, err
	}

	return &Controller{
		engine:     cfg.Engine,
		busyPolicy: policy,
		logger:     cfg.Logger,
	}, nil
}

// BusyPolicy returns the policy applied to messages sent while interrupted.
func (c *Controller) BusyPolicy() BusyPolicy {
	return c.busyPolicy
}

// Run sends a human message to the thread and streams the resulting chunks.
// On an interrupted thread the busy policy applies.
func (c *Controller) Run(ctx context.Context, threadID, text string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		ctx, span := tracing.StartSpan(tracing.NewRunContext(ctx, threadID), tracerName, "session.run",
			attribute.String("thread_id", threadID),
		)
		defer span.End()

		if err := validateThreadID(threadID); err != nil {
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}
		if strings.TrimSpace(text) == "" {
			err := fmt.Errorf("%w: message text cannot be empty", ErrInvalidInput)
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}

		state, err := c.engine.State(ctx, threadID)
		if err != nil {
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}

		if state.Interrupted() {
			if c.busyPolicy == BusyError {
				err := fmt.Errorf("%w: %d pending action requests", ErrThreadInterrupted, len(state.Pending))
				tracing.RecordError(span, err)
				yield(nil, err)
				return
			}

			logger := tracing.LoggerFromContext(ctx, c.logger)
			logger.Info().
				Int("pending", len(state.Pending)).
				Msg("Message on interrupted thread treated as rejection")
			span.SetAttributes(attribute.Bool("implicit_reject", true))

			payload, err := c.translate([]Decision{Reject(text)}, len(state.Pending))
			if err != nil {
				tracing.RecordError(span, err)
				yield(nil, err)
				return
			}
			c.drive(ctx, "resume", threadID, agent.Input{Resume: &payload}, yield)
			return
		}

		input := agent.Input{Messages: []thread.Message{thread.NewHumanMessage(text)}}
		c.drive(ctx, "run", threadID, input, yield)
	}
}

// Resume applies decisions to the thread's pending action requests and
// streams the resulting chunks.
func (c *Controller) Resume(ctx context.Context, threadID string, decisions []Decision) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		ctx, span := tracing.StartSpan(tracing.NewRunContext(ctx, threadID), tracerName, "session.resume",
			attribute.String("thread_id", threadID),
			attribute.Int("decisions", len(decisions)),
		)
		defer span.End()

		if err := validateThreadID(threadID); err != nil {
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}

		state, err := c.engine.State(ctx, threadID)
		if err != nil {
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}
		if !state.Interrupted() {
			tracing.RecordError(span, ErrNotInterrupted)
			yield(nil, ErrNotInterrupted)
			return
		}

		payload, err := c.translate(decisions, len(state.Pending))
		if err != nil {
			tracing.RecordError(span, err)
			yield(nil, err)
			return
		}
		c.drive(ctx, "resume", threadID, agent.Input{Resume: &payload}, yield)
	}
}

func (c *Controller) translate(decisions []Decision, pending int) (agent.ResumePayload, error) {
	payload, err := Translate(decisions, pending)
	if err != nil {
		return agent.ResumePayload{}, err
	}
	counts := map[string]int{}
	for _, d := range payload.Decisions {
		counts[d.Type]++
	}
	for kind, n := range counts {
		observability.RecordDecisions(kind, n)
	}
	return payload, nil
}

// drive streams the engine, classifies its events, and reports the pause
// once the stream is drained.
func (c *Controller) drive(ctx context.Context, operation, threadID string, input agent.Input, yield func(Chunk, error) bool) {
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("operation", operation).Logger()

	emit := func(chunk Chunk) bool {
		observability.RecordChunk(string(chunk.Kind()))
		return yield(chunk, nil)
	}
	fail := func(err error) {
		observability.RecordTurn(operation, "error")
		logger.Error().Err(err).Msg("Turn failed")
		yield(nil, err)
	}

	for ev, err := range c.engine.Stream(ctx, threadID, input) {
		if err != nil {
			fail(err)
			return
		}
		chunks, err := classify(ev)
		if err != nil {
			fail(err)
			return
		}
		for _, chunk := range chunks {
			if !emit(chunk) {
				observability.RecordTurn(operation, "abandoned")
				logger.Debug().Msg("Consumer stopped reading chunks")
				return
			}
		}
	}

	state, err := c.engine.State(ctx, threadID)
	if err != nil {
		fail(err)
		return
	}

	if !state.Interrupted() {
		observability.RecordTurn(operation, "completed")
		return
	}

	observability.RecordTurn(operation, "interrupted")
	logger.Info().Int("pending", len(state.Pending)).Msg("Thread paused for approval")
	for _, req := range state.Pending {
		if !emit(ActionRequestChunk{Request: req}) {
			return
		}
	}
}

// GetMessages returns the thread's persisted history. Unknown threads have none.
func (c *Controller) GetMessages(ctx context.Context, threadID string) ([]thread.Message, error) {
	state, err := c.state(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if state.Messages == nil {
		return []thread.Message{}, nil
	}
	return state.Messages, nil
}

// IsInterrupted reports whether the thread has pending action requests.
func (c *Controller) IsInterrupted(ctx context.Context, threadID string) (bool, error) {
	state, err := c.state(ctx, threadID)
	if err != nil {
		return false, err
	}
	return state.Interrupted(), nil
}

// PendingActions returns the thread's pending action requests in order.
func (c *Controller) PendingActions(ctx context.Context, threadID string) ([]thread.ActionRequest, error) {
	state, err := c.state(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return append([]thread.ActionRequest(nil), state.Pending...), nil
}

func (c *Controller) state(ctx context.Context, threadID string) (thread.State, error) {
	if err := validateThreadID(threadID); err != nil {
		return thread.State{}, err
	}
	return c.engine.State(ctx, threadID)
}

func validateThreadID(threadID string) error {
	if err := thread.ValidateThreadID(threadID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
