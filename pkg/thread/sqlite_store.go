package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// SQLiteStore keeps steps in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path in WAL mode.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Thread sqlite store initialized")
	s.updateActiveThreadsMetric()
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS steps (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_steps_thread ON steps(thread_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) updateActiveThreadsMetric() {
	ids, err := s.List(context.Background())
	if err != nil {
		return
	}
	observability.SetActiveThreads(len(ids))
}

// Append inserts the step with the next sequence number for the thread.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, step Step) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "tether.thread", "thread.append",
		attribute.String("thread_id", threadID),
		attribute.String("kind", string(step.Kind)),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordThreadAppend(time.Since(start))
	}()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	step, err := prepareStep(step)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("invalid step: %w", err)
	}

	payload, err := json.Marshal(step)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM steps WHERE thread_id = ?", threadID,
	).Scan(&seq); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO steps (thread_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		threadID, seq, string(step.Kind), string(payload), step.CreatedAt.UnixMilli(),
	); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to insert step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to commit step: %w", err)
	}

	if seq == 0 {
		s.updateActiveThreadsMetric()
	}
	return nil
}

// Load returns the thread's steps ordered by sequence.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Step, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "tether.thread", "thread.load",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordThreadLoad(time.Since(start))
	}()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, payload FROM steps WHERE thread_id = ? ORDER BY seq ASC", threadID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var seq int
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		var step Step
		if err := json.Unmarshal([]byte(payload), &step); err != nil {
			err = fmt.Errorf("%w: %s seq %d: %w", ErrCorruptThread, threadID, seq, err)
			tracing.RecordError(span, err)
			logger.Error().Err(err).Msg("Failed to decode step")
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

func (s *SQLiteStore) Pending(ctx context.Context, threadID string) ([]ActionRequest, error) {
	state, err := LoadState(ctx, s, threadID)
	if err != nil {
		return nil, err
	}
	return state.Pending, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT thread_id FROM steps ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM steps WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	s.updateActiveThreadsMetric()
	log.Info().Str("thread_id", threadID).Msg("Thread deleted")
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
