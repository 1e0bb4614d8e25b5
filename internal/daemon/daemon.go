package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/internal/logger"
	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/harun/tether/pkg/agent"
	"github.com/harun/tether/pkg/chat"
	"github.com/harun/tether/pkg/lane"
	"github.com/harun/tether/pkg/thread"
)

const version = "0.1.0"

// Daemon hosts the chat server, thread cleanup and config reloads
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	runtime   *Runtime
	lanes     *lane.Queue
	providers agent.ProviderCreator

	// Services
	chatServer *chat.Server
	cleanup    *thread.Cleanup

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	traceFile      *os.File
}

// Status reports whether the daemon is serving.
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	Addr        string
	Connections int
}

// Option customizes a Daemon
type Option func(*Daemon)

// WithProviderFactory replaces the LLM provider factory.
func WithProviderFactory(f agent.ProviderCreator) Option {
	return func(d *Daemon) {
		d.providers = f
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Tracing.Enabled {
		if err := d.initTracing(); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without span export")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.shutdownTracing()
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		_ = d.runtime.Close()
		_ = d.lanes.Close()
		d.shutdownTracing()
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initTracing() error {
	var export io.Writer = os.Stderr
	if d.config.Tracing.File != "" {
		if err := os.MkdirAll(filepath.Dir(d.config.Tracing.File), 0o700); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		file, err := os.OpenFile(d.config.Tracing.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		d.traceFile = file
		export = file
	}
	return tracing.InitOpenTelemetry(tracing.Options{
		ServiceName:    "tether",
		ServiceVersion: version,
		Export:         export,
	})
}

func (d *Daemon) initializeCoreModules() error {
	log := d.logger.Zerolog()

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize audit logger, decisions are not audited")
	} else {
		log.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	runtime, err := NewRuntime(d.config, log, d.providers)
	if err != nil {
		return err
	}
	d.runtime = runtime
	log.Info().Str("driver", d.config.Store.Driver).Msg("Thread store initialized")

	d.lanes = lane.New()
	return nil
}

func (d *Daemon) initializeServices() error {
	log := d.logger.Zerolog()

	server, err := chat.NewServer(chat.Config{
		Host:        d.config.Chat.Host,
		Port:        d.config.Chat.Port,
		Controller:  d.runtime.Controller,
		Lanes:       d.lanes,
		NewThreadID: thread.NewID,
		Logger:      d.logger.Component("chat"),
	})
	if err != nil {
		return fmt.Errorf("failed to create chat server: %w", err)
	}
	d.chatServer = server

	retention, err := d.config.RetentionDuration()
	if err != nil {
		return err
	}
	if retention > 0 {
		cleanup, err := thread.NewCleanup(d.runtime.Store, retention, d.config.Store.CleanupSchedule)
		if err != nil {
			return fmt.Errorf("failed to create thread cleanup: %w", err)
		}
		d.cleanup = cleanup
	} else {
		log.Info().Msg("Thread retention disabled")
	}
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting tether daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.chatServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start chat server: %w", err)
	}

	if d.cleanup != nil {
		if err := d.cleanup.Start(d.ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to start thread cleanup")
		}
	}

	log.Info().Str("addr", d.chatServer.Addr()).Msg("Daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping tether daemon")

	if err := d.chatServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop chat server")
	}

	if d.cleanup != nil {
		d.cleanup.Stop()
	}

	d.cancel()

	if err := d.lanes.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close lanes")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if err := d.runtime.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close thread store")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	if d.traceFile != nil {
		_ = d.traceFile.Close()
	}
	d.tracingEnabled = false
}

// Run starts the daemon and blocks until ctx is done, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	d.logger.Info().Msg("Shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// ApplyConfig re-applies the settings that can change without a restart:
// the log level and the gated tool set.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = cfg
	d.mu.Unlock()

	log := d.logger.Zerolog()
	if cfg.Logging.Level != prev.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid log level")
		}
	}
	if !slices.Equal(cfg.Tools.InterruptOn, prev.Tools.InterruptOn) {
		d.runtime.Gate.SetTools(cfg.Tools.InterruptOn)
		log.Info().Strs("interrupt_on", cfg.Tools.InterruptOn).Msg("Gated tools updated")
	}
	if cfg.Session.BusyPolicy != prev.Session.BusyPolicy || cfg.Chat != prev.Chat || cfg.Store != prev.Store {
		log.Warn().Msg("Store, chat and session settings take effect after restart")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.chatServer.Addr()
		status.Connections = d.chatServer.Registry().Count()
	}

	return status
}

// GetConfig returns the active configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetRuntime returns the wired core
func (d *Daemon) GetRuntime() *Runtime {
	return d.runtime
}

// GetChatServer returns the chat server
func (d *Daemon) GetChatServer() *chat.Server {
	return d.chatServer
}

// GetCleanup returns the thread cleanup job, nil when retention is disabled
func (d *Daemon) GetCleanup() *thread.Cleanup {
	return d.cleanup
}
