package thread

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidThreadID is returned for thread ids that are empty or not path safe.
var ErrInvalidThreadID = errors.New("invalid thread id")

// ErrCorruptThread is returned when a persisted step cannot be decoded.
// Use FileStore.Repair to drop such steps explicitly.
var ErrCorruptThread = errors.New("corrupt thread")

// Store persists thread steps keyed by thread id. Steps are append-only.
type Store interface {
	// Load returns every step of the thread in append order. Unknown threads yield no steps.
	Load(ctx context.Context, threadID string) ([]Step, error)
	// Append persists one step at the end of the thread, creating the thread if needed.
	Append(ctx context.Context, threadID string, step Step) error
	// Pending returns the outstanding action requests of the thread.
	Pending(ctx context.Context, threadID string) ([]ActionRequest, error)
	// List returns the ids of all persisted threads.
	List(ctx context.Context) ([]string, error)
	// Delete removes a thread. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// LoadState loads and folds a thread.
func LoadState(ctx context.Context, store Store, threadID string) (State, error) {
	steps, err := store.Load(ctx, threadID)
	if err != nil {
		return State{}, err
	}
	return Fold(threadID, steps), nil
}

// ValidateThreadID rejects ids that could escape a storage directory.
func ValidateThreadID(threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id cannot be empty", ErrInvalidThreadID)
	}
	if strings.Contains(threadID, "..") {
		return fmt.Errorf("%w: thread id cannot contain '..'", ErrInvalidThreadID)
	}
	if strings.ContainsAny(threadID, "/\\") {
		return fmt.Errorf("%w: thread id cannot contain path separators", ErrInvalidThreadID)
	}
	if strings.Contains(threadID, "\x00") {
		return fmt.Errorf("%w: thread id cannot contain null bytes", ErrInvalidThreadID)
	}
	return nil
}

func prepareStep(step Step) (Step, error) {
	if err := step.Validate(); err != nil {
		return Step{}, err
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	return step, nil
}

// Store drivers accepted by Open.
const (
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// StoreConfig selects and configures a Store implementation.
type StoreConfig struct {
	Driver string
	// Path is a directory for jsonl and a database file for sqlite.
	Path string
}

// Open builds the Store named by cfg.Driver.
func Open(cfg StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverJSONL:
		return NewFileStore(cfg.Path)
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			path = filepath.Join(homeDir, ".tether", "threads.db")
		}
		return NewSQLiteStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
