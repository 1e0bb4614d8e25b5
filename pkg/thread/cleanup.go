package thread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultCleanupSchedule = "@daily"
)

// Cleanup deletes threads whose last step is older than the retention age.
type Cleanup struct {
	store     Store
	retention time.Duration
	schedule  string
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a retention job for store. Zero values fall back to defaults.
func NewCleanup(store Store, retention time.Duration, schedule string) (*Cleanup, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if _, err := cronParser().Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	return &Cleanup{
		store:     store,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}, nil
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start schedules the job and runs one pass immediately.
func (c *Cleanup) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New(cron.WithParser(cronParser()))
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clean up old threads")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	c.cron.Start()
	c.running = true

	go func() {
		if _, err := c.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clean up old threads")
		}
	}()

	log.Info().
		Dur("retention", c.retention).
		Str("schedule", c.schedule).
		Msg("Thread cleanup started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (c *Cleanup) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	<-c.cron.Stop().Done()
	c.running = false
	log.Info().Msg("Thread cleanup stopped")
}

// IsRunning reports whether the schedule is active.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunOnce performs a single retention pass and returns the number of deleted threads.
// Interrupted threads are kept regardless of age.
func (c *Cleanup) RunOnce(ctx context.Context) (int, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list threads: %w", err)
	}

	cutoff := c.now().Add(-c.retention)
	deleted := 0

	for _, id := range ids {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}

		state, err := LoadState(ctx, c.store, id)
		if err != nil {
			log.Warn().Str("thread_id", id).Err(err).Msg("Failed to load thread for cleanup")
			continue
		}
		if state.Interrupted() || state.UpdatedAt.After(cutoff) {
			continue
		}

		if err := c.store.Delete(ctx, id); err != nil {
			log.Error().Str("thread_id", id).Err(err).Msg("Failed to delete thread")
			continue
		}
		deleted++
		log.Debug().Str("thread_id", id).Time("updated_at", state.UpdatedAt).Msg("Thread expired")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up old threads")
	}
	return deleted, nil
}
