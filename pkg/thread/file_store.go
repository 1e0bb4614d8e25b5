package thread

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const threadFileExt = ".jsonl"

// stepEntry is one JSONL line of a thread file.
type stepEntry struct {
	ThreadID string `json:"thread_id"`
	Seq      int    `json:"seq"`
	Step     Step   `json:"step"`
}

// FileStore keeps one append-only JSONL file per thread.
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// FileInfo describes a thread file on disk.
type FileInfo struct {
	ThreadID     string    `json:"thread_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Steps        int       `json:"steps"`
}

// NewFileStore creates a FileStore rooted at dir, defaulting to ~/.tether/threads.
func NewFileStore(dir string) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".tether", "threads")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create threads directory: %w", err)
	}

	fs := &FileStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Debug().Str("dir", dir).Msg("Thread file store initialized")
	fs.updateActiveThreadsMetric()

	return fs, nil
}

// Dir returns the directory holding thread files.
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) path(threadID string) string {
	return filepath.Join(fs.dir, threadID+threadFileExt)
}

func (fs *FileStore) lockFor(threadID string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()

	if lock, ok := fs.writeLocks[threadID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	fs.writeLocks[threadID] = lock
	return lock
}

func (fs *FileStore) updateActiveThreadsMetric() {
	ids, err := fs.List(context.Background())
	if err != nil {
		return
	}
	observability.SetActiveThreads(len(ids))
}

// Append writes one step as a JSON line and fsyncs the file.
func (fs *FileStore) Append(ctx context.Context, threadID string, step Step) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithThreadID(ctx, threadID)
	ctx, span := tracing.StartSpan(ctx, "tether.thread", "thread.append",
		attribute.String("thread_id", threadID),
		attribute.String("kind", string(step.Kind)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
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

	lock := fs.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	path := fs.path(threadID)
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	seq := 0
	if !created {
		steps, tornAt, err := fs.readSteps(ctx, threadID, false)
		if err != nil {
			tracing.RecordError(span, err)
			return err
		}
		if tornAt >= 0 {
			if err := os.Truncate(path, tornAt); err != nil {
				tracing.RecordError(span, err)
				return fmt.Errorf("failed to drop torn step: %w", err)
			}
			logger.Warn().Int64("offset", tornAt).Msg("Dropped torn final step before append")
		}
		seq = len(steps)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to open thread file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(stepEntry{ThreadID: threadID, Seq: seq, Step: step})
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to write step: %w", err)
	}
	if err := file.Sync(); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to sync thread file: %w", err)
	}

	if created {
		fs.updateActiveThreadsMetric()
	}

	logger.Debug().
		Str("kind", string(step.Kind)).
		Int("seq", seq).
		Int("messages", len(step.Messages)).
		Msg("Step appended")

	return nil
}

// Load reads all steps. A step that fails to decode fails the load with ErrCorruptThread.
func (fs *FileStore) Load(ctx context.Context, threadID string) ([]Step, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithThreadID(ctx, threadID)
	ctx, span := tracing.StartSpan(ctx, "tether.thread", "thread.load",
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordThreadLoad(time.Since(start))
	}()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	steps, _, err := fs.readSteps(ctx, threadID, false)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("steps", len(steps)))
	return steps, nil
}

// readSteps decodes a thread file. An undecodable line is an error unless it is
// the final line and has no newline: that is a torn append, skipped and
// reported through tornAt. With skipBad set every undecodable line is dropped.
func (fs *FileStore) readSteps(ctx context.Context, threadID string, skipBad bool) (steps []Step, tornAt int64, err error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	file, err := os.Open(fs.path(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Step{}, -1, nil
		}
		return nil, -1, fmt.Errorf("failed to open thread file: %w", err)
	}
	defer file.Close()

	steps = []Step{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		lineNum   int
		offset    int64
		badLine   int
		badOffset int64
		badErr    error
	)
	corrupt := func() error {
		return fmt.Errorf("%w: %s line %d: %w", ErrCorruptThread, threadID, badLine, badErr)
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		lineStart := offset
		offset += int64(len(line)) + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if badErr != nil {
			return nil, -1, corrupt()
		}

		step, err := decodeStepLine(line)
		if err != nil {
			if skipBad {
				logger.Warn().Int("line", lineNum).Err(err).Msg("Dropping undecodable step")
				continue
			}
			badLine, badOffset, badErr = lineNum, lineStart, err
			continue
		}
		steps = append(steps, step)
	}

	if err := scanner.Err(); err != nil {
		return nil, -1, fmt.Errorf("failed to read thread file: %w", err)
	}

	if badErr != nil {
		stat, err := file.Stat()
		if err != nil {
			return nil, -1, fmt.Errorf("failed to stat thread file: %w", err)
		}
		if offset <= stat.Size() {
			return nil, -1, corrupt()
		}
		logger.Warn().Int("line", badLine).Err(badErr).Msg("Ignoring torn final step")
		return steps, badOffset, nil
	}
	return steps, -1, nil
}

func decodeStepLine(line []byte) (Step, error) {
	var entry stepEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return Step{}, err
	}
	if err := entry.Step.Validate(); err != nil {
		return Step{}, err
	}
	return entry.Step, nil
}

// Pending returns the action requests left by the last unresolved interrupt.
func (fs *FileStore) Pending(ctx context.Context, threadID string) ([]ActionRequest, error) {
	state, err := LoadState(ctx, fs, threadID)
	if err != nil {
		return nil, err
	}
	return state.Pending, nil
}

// List returns thread ids found in the store directory.
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read threads directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), threadFileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), threadFileExt))
	}
	return ids, nil
}

// Delete removes the thread file.
func (fs *FileStore) Delete(ctx context.Context, threadID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "tether.thread", "thread.delete",
		attribute.String("thread_id", threadID),
	)
	defer span.End()

	if err := ValidateThreadID(threadID); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	lock := fs.lockFor(threadID)
	lock.Lock()
	err := os.Remove(fs.path(threadID))
	lock.Unlock()

	if err != nil && !os.IsNotExist(err) {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to delete thread file: %w", err)
	}

	fs.locksMu.Lock()
	delete(fs.writeLocks, threadID)
	fs.locksMu.Unlock()

	fs.updateActiveThreadsMetric()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().Str("thread_id", threadID).Msg("Thread deleted")
	return nil
}

// Repair rewrites a thread file keeping only the lines that decode.
func (fs *FileStore) Repair(ctx context.Context, threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	lock := fs.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	steps, _, err := fs.readSteps(ctx, threadID, true)
	if err != nil {
		return err
	}

	path := fs.path(threadID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for i, step := range steps {
		data, err := json.Marshal(stepEntry{ThreadID: threadID, Seq: i, Step: step})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal step: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write step: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace thread file: %w", err)
	}

	log.Info().Str("thread_id", threadID).Int("steps", len(steps)).Msg("Thread repaired")
	return nil
}

// Info returns file metadata for a persisted thread.
func (fs *FileStore) Info(ctx context.Context, threadID string) (FileInfo, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return FileInfo{}, err
	}

	stat, err := os.Stat(fs.path(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("thread %q does not exist", threadID)
		}
		return FileInfo{}, fmt.Errorf("failed to stat thread file: %w", err)
	}

	steps, _, err := fs.readSteps(ctx, threadID, false)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		ThreadID:     threadID,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		Steps:        len(steps),
	}, nil
}

// Close is a no-op; files are opened per operation.
func (fs *FileStore) Close() error {
	return nil
}
