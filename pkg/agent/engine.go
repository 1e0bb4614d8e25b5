package agent

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/harun/tether/pkg/thread"
	"github.com/harun/tether/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "tether.agent"

// Engine runs the model/tool loop for a thread and persists every step.
type Engine struct {
	store           thread.Store
	toolExecutor    *toolexecutor.ToolExecutor
	gate            *toolexecutor.Gate
	toolPolicy      *toolexecutor.ToolPolicy
	providerFactory ProviderCreator
	config          Config
	logger          zerolog.Logger
	workingDir      string
	toolTimeout     time.Duration
	retryBaseDelay  time.Duration

	authProfiles []AuthProfile
	authMu       sync.RWMutex
}

// EngineConfig holds engine configuration
type EngineConfig struct {
	Store           thread.Store
	ToolExecutor    *toolexecutor.ToolExecutor
	Gate            *toolexecutor.Gate
	ToolPolicy      *toolexecutor.ToolPolicy
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	Agent           Config
	Logger          zerolog.Logger
	WorkingDir      string
	ToolTimeout     time.Duration
	// RetryBaseDelay is the first backoff step; it doubles on every retry.
	RetryBaseDelay time.Duration
}

// NewEngine creates a new engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("thread store is required")
	}
	if cfg.ToolExecutor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if err := validateConfig(cfg.Agent); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}
	agentCfg := cfg.Agent
	if agentCfg.MaxTurns <= 0 {
		agentCfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if agentCfg.MaxRetries <= 0 {
		agentCfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if agentCfg.SystemPrompt == "" {
		agentCfg.SystemPrompt = DefaultSystemPrompt
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = toolexecutor.DefaultTimeout
	}
	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = time.Second
	}

	profiles := make([]AuthProfile, len(cfg.AuthProfiles))
	copy(profiles, cfg.AuthProfiles)

	return &Engine{
		store:           cfg.Store,
		toolExecutor:    cfg.ToolExecutor,
		gate:            cfg.Gate,
		toolPolicy:      cfg.ToolPolicy,
		providerFactory: providerFactory,
		config:          agentCfg,
		logger:          cfg.Logger,
		workingDir:      cfg.WorkingDir,
		toolTimeout:     toolTimeout,
		retryBaseDelay:  retryBaseDelay,
		authProfiles:    profiles,
	}, nil
}

func validateConfig(config Config) error {
	if config.Model == "" {
		return fmt.Errorf("model is required")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	return nil
}

// State folds the thread's persisted steps.
func (e *Engine) State(ctx context.Context, threadID string) (thread.State, error) {
	return thread.LoadState(ctx, e.store, threadID)
}

// Stream advances the thread with the given input and yields one event per
// persisted model or tools step. The stream ends without an event when the
// model asks for a gated tool.
func (e *Engine) Stream(ctx context.Context, threadID string, input Input) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		runCtx, span := tracing.StartSpan(tracing.WithThreadID(ctx, threadID), tracerName, "agent.stream",
			attribute.String("thread_id", threadID),
			attribute.Bool("resume", input.Resume != nil),
		)
		defer span.End()

		if err := e.stream(runCtx, threadID, input, yield); err != nil {
			tracing.RecordError(span, err)
			yield(Event{}, err)
		}
	}
}

func (e *Engine) stream(ctx context.Context, threadID string, input Input, yield func(Event, error) bool) error {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	if err := thread.ValidateThreadID(threadID); err != nil {
		return err
	}
	switch {
	case len(input.Messages) == 0 && input.Resume == nil:
		return ErrEmptyInput
	case len(input.Messages) > 0 && input.Resume != nil:
		return ErrAmbiguousInput
	}

	state, err := thread.LoadState(ctx, e.store, threadID)
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}
	history := state.Messages

	if input.Resume != nil {
		results, err := e.applyDecisions(ctx, threadID, state, input.Resume.Decisions)
		if err != nil {
			return err
		}
		if err := e.append(ctx, threadID, thread.Step{Kind: thread.StepResume, Messages: results}); err != nil {
			return err
		}
		history = append(history, results...)
		logger.Debug().Int("results", len(results)).Msg("Applied resume decisions")
		if len(results) > 0 && !yield(Event{Node: NodeTools, Messages: results}, nil) {
			return nil
		}
	} else {
		if state.Interrupted() {
			return ErrPendingActions
		}
		if err := e.append(ctx, threadID, thread.Step{Kind: thread.StepInput, Messages: input.Messages}); err != nil {
			return err
		}
		history = append(history, input.Messages...)
	}

	tools := e.toolSpecs()

	for turn := 0; turn < e.config.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		response, err := e.executeWithFailover(ctx, history, tools)
		if err != nil {
			return err
		}

		reply := thread.NewAssistantMessage(response.Content, response.ToolCalls)
		if err := e.append(ctx, threadID, thread.Step{Kind: thread.StepModel, Messages: thread.Messages{reply}}); err != nil {
			return err
		}
		history = append(history, reply)

		// Persist the pause before yielding the reply; the consumer may stop after it.
		var requests []thread.ActionRequest
		for _, call := range reply.ToolCalls {
			if e.gate.Requires(call.Name) {
				requests = append(requests, e.gate.Request(call))
			}
		}
		if len(requests) > 0 {
			if err := e.append(ctx, threadID, thread.Step{Kind: thread.StepInterrupt, Interrupt: requests}); err != nil {
				return err
			}
			logger.Info().Int("requests", len(requests)).Msg("Pausing for approval")
		}

		if !yield(Event{Node: NodeModel, Messages: []thread.Message{reply}}, nil) {
			return nil
		}
		if !reply.HasToolCalls() || len(requests) > 0 {
			return nil
		}

		results := make(thread.Messages, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			results = append(results, e.executeCall(ctx, threadID, call))
		}
		if err := e.append(ctx, threadID, thread.Step{Kind: thread.StepTools, Messages: results}); err != nil {
			return err
		}
		history = append(history, results...)
		if !yield(Event{Node: NodeTools, Messages: results}, nil) {
			return nil
		}
	}

	return ErrMaxTurns
}

// applyDecisions resolves the calls of the last assistant message. Gated
// calls take their paired decision and the rest run as usual.
func (e *Engine) applyDecisions(ctx context.Context, threadID string, state thread.State, decisions []DecisionRecord) (thread.Messages, error) {
	if !state.Interrupted() {
		return nil, ErrNoPendingActions
	}
	if len(decisions) != len(state.Pending) {
		return nil, fmt.Errorf("%w: %d decisions for %d requests", ErrDecisionMismatch, len(decisions), len(state.Pending))
	}

	byCallID := make(map[string]int, len(state.Pending))
	for i, req := range state.Pending {
		if !toolexecutor.Allows(req, decisions[i].Type) {
			return nil, fmt.Errorf("%w: %q for %s", ErrDecisionNotAllowed, decisions[i].Type, req.Name)
		}
		if decisions[i].Type == DecisionEdit && decisions[i].EditedAction == nil {
			return nil, fmt.Errorf("edit decision for %s carries no edited action", req.Name)
		}
		byCallID[req.ToolCallID] = i
	}

	var calls []thread.ToolCall
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if msg, ok := state.Messages[i].(thread.AssistantMessage); ok {
			calls = msg.ToolCalls
			break
		}
	}

	results := make(thread.Messages, 0, len(calls))
	for _, call := range calls {
		idx, gated := byCallID[call.ID]
		if !gated {
			results = append(results, e.executeCall(ctx, threadID, call))
			continue
		}

		decision := decisions[idx]
		observability.RecordDecisionAudit(ctx, threadID, decision.Type, call.Name, map[string]interface{}{
			"tool_call_id": call.ID,
		})

		switch decision.Type {
		case DecisionApprove:
			results = append(results, e.executeCall(ctx, threadID, call))
		case DecisionEdit:
			edited := thread.ToolCall{
				ID:   call.ID,
				Name: decision.EditedAction.Name,
				Args: decision.EditedAction.Args,
			}
			if edited.Name == "" {
				edited.Name = call.Name
			}
			results = append(results, e.executeCall(ctx, threadID, edited))
		case DecisionReject:
			results = append(results, thread.NewToolMessage(call, decision.Message, thread.ToolStatusError))
		default:
			return nil, fmt.Errorf("%w: %q", ErrDecisionNotAllowed, decision.Type)
		}
	}

	return results, nil
}

func (e *Engine) executeCall(ctx context.Context, threadID string, call thread.ToolCall) thread.ToolMessage {
	result := e.toolExecutor.Execute(ctx, call.Name, call.Args, &toolexecutor.ExecutionContext{
		ThreadID:   threadID,
		WorkingDir: e.workingDir,
		Timeout:    e.toolTimeout,
		ToolPolicy: e.toolPolicy,
	})

	status := thread.ToolStatusSuccess
	if !result.Success {
		status = thread.ToolStatusError
	}
	return thread.NewToolMessage(call, result.Content(), status)
}

func (e *Engine) append(ctx context.Context, threadID string, step thread.Step) error {
	if err := e.store.Append(ctx, threadID, step); err != nil {
		return fmt.Errorf("append %s step: %w", step.Kind, err)
	}
	return nil
}

func (e *Engine) toolSpecs() []ToolSpec {
	defs := e.toolExecutor.Definitions()
	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		if e.toolPolicy != nil && !e.toolPolicy.IsToolAllowed(def.Name) {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: toolexecutor.InputSchema(def),
		})
	}
	return specs
}

// executeWithFailover tries auth profiles in priority order
func (e *Engine) executeWithFailover(ctx context.Context, history []thread.Message, tools []ToolSpec) (*LLMResponse, error) {
	e.authMu.RLock()
	profiles := make([]AuthProfile, len(e.authProfiles))
	copy(profiles, e.authProfiles)
	e.authMu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	var lastErr error

	for _, profile := range profiles {
		// Skip profiles in cooldown
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := e.providerFactory.NewProvider(profile)
		if err != nil {
			lastErr = err
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			continue
		}

		start := time.Now()
		response, err := e.callLLMWithRetry(ctx, provider, history, tools)
		observability.RecordModelCall(provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			e.updateProfileSuccess(profile.ID)
			return response, nil
		}

		lastErr = err
		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Auth profile failed")

		e.updateProfileFailure(profile.ID)

		// Don't fail over on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every profile is in cooldown")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// callLLMWithRetry calls the provider with exponential backoff
func (e *Engine) callLLMWithRetry(ctx context.Context, provider LLMProvider, history []thread.Message, tools []ToolSpec) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_call",
		attribute.String("provider", provider.Provider()),
	)
	defer span.End()

	request := LLMRequest{
		Model:        e.config.Model,
		Messages:     history,
		Tools:        tools,
		Temperature:  e.config.Temperature,
		MaxTokens:    e.config.MaxTokens,
		SystemPrompt: e.config.SystemPrompt,
	}

	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			if response.Usage != nil {
				span.SetAttributes(
					attribute.Int("input_tokens", response.Usage.InputTokens),
					attribute.Int("output_tokens", response.Usage.OutputTokens),
				)
			}
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			tracing.RecordError(span, err)
			return nil, err
		}
		if attempt == e.config.MaxRetries-1 {
			break
		}

		delay := e.retryBaseDelay * time.Duration(1<<attempt)
		e.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	err := fmt.Errorf("max retries (%d) exceeded: %w", e.config.MaxRetries, lastErr)
	tracing.RecordError(span, err)
	return nil, err
}

// updateProfileSuccess resets failure count for a profile
func (e *Engine) updateProfileSuccess(profileID string) {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	for i := range e.authProfiles {
		if e.authProfiles[i].ID == profileID {
			e.authProfiles[i].FailureCount = 0
			e.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(e.authProfiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure puts a profile in cooldown, one minute per failure
func (e *Engine) updateProfileFailure(profileID string) {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	for i := range e.authProfiles {
		if e.authProfiles[i].ID == profileID {
			e.authProfiles[i].FailureCount++
			cooldownMs := time.Now().UnixMilli() + int64(60000*e.authProfiles[i].FailureCount)
			e.authProfiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(e.authProfiles[i].Provider, true)
			break
		}
	}
}

// Profiles returns a snapshot of the auth profiles and their cooldown state.
func (e *Engine) Profiles() []AuthProfile {
	e.authMu.RLock()
	defer e.authMu.RUnlock()
	out := make([]AuthProfile, len(e.authProfiles))
	copy(out, e.authProfiles)
	return out
}
