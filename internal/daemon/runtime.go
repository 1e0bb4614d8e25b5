package daemon

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/fstools"
	"github.com/harun/tether/pkg/session"
	"github.com/harun/tether/pkg/thread"
	"github.com/harun/tether/pkg/toolexecutor"
)

// Runtime is the wired core shared by the CLI and the daemon.
type Runtime struct {
	Store      thread.Store
	Tools      *toolexecutor.ToolExecutor
	Gate       *toolexecutor.Gate
	Engine     *agent.Engine
	Controller *session.Controller
}

// OpenStore opens the thread store selected by the config.
func OpenStore(cfg *config.Config) (thread.Store, error) {
	store, err := thread.Open(thread.StoreConfig{
		Driver: cfg.Store.Driver,
		Path:   cfg.StorePath(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open thread store: %w", err)
	}
	return store, nil
}

// NewRuntime builds store, tools, engine and controller from cfg.
// A nil providers uses the real provider SDKs.
func NewRuntime(cfg *config.Config, log zerolog.Logger, providers agent.ProviderCreator) (*Runtime, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	policy, err := session.ParseBusyPolicy(cfg.Session.BusyPolicy)
	if err != nil {
		return nil, err
	}

	backend, err := fstools.NewBackend(cfg.Workspace.Root, cfg.Workspace.VirtualMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	tools := toolexecutor.New()
	if err := fstools.Register(tools, backend); err != nil {
		return nil, fmt.Errorf("failed to register filesystem tools: %w", err)
	}
	gate := toolexecutor.NewGate(cfg.Tools.InterruptOn...)

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := agent.NewEngine(agent.EngineConfig{
		Store:        store,
		ToolExecutor: tools,
		Gate:         gate,
		ToolPolicy: &toolexecutor.ToolPolicy{
			Allow: cfg.Tools.Allow,
			Deny:  cfg.Tools.Deny,
		},
		AuthProfiles:    convertAuthProfiles(cfg.AI.Profiles),
		ProviderFactory: providers,
		Agent: agent.Config{
			Model:        cfg.Agent.Model,
			Temperature:  cfg.Agent.Temperature,
			MaxTokens:    cfg.Agent.MaxTokens,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxTurns:     cfg.Agent.MaxTurns,
			MaxRetries:   cfg.Agent.MaxRetries,
		},
		Logger:      log.With().Str("component", "engine").Logger(),
		WorkingDir:  backend.Root(),
		ToolTimeout: time.Duration(cfg.Tools.Timeout) * time.Second,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	controller, err := session.NewController(session.Config{
		Engine:     engine,
		BusyPolicy: policy,
		Logger:     log.With().Str("component", "session").Logger(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}

	return &Runtime{
		Store:      store,
		Tools:      tools,
		Gate:       gate,
		Engine:     engine,
		Controller: controller,
	}, nil
}

// Close releases the thread store.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// convertAuthProfiles keeps profiles that carry a key, in config order.
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	result := make([]agent.AuthProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.APIKey == "" {
			continue
		}
		result = append(result, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	return result
}
