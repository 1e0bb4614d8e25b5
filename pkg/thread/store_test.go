package thread

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeDrivers(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "threads"))
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		DriverJSONL:  fileStore,
		DriverSQLite: sqliteStore,
		DriverMemory: NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			steps, err := store.Load(ctx, "unknown")
			require.NoError(t, err)
			assert.Empty(t, steps)

			human := NewHumanMessage("write hello to a.txt")
			call := ToolCall{ID: "c1", Name: "write_file", Args: map[string]interface{}{"file_path": "a.txt", "content": "hello"}}
			ai := NewAssistantMessage("", []ToolCall{call})
			req := ActionRequest{ToolCallID: "c1", Name: "write_file", Args: call.Args}

			require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepInput, Messages: Messages{human}}))
			require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepModel, Messages: Messages{ai}}))
			require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepInterrupt, Interrupt: []ActionRequest{req}}))

			pending, err := store.Pending(ctx, "t1")
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "write_file", pending[0].Name)
			assert.Equal(t, "a.txt", pending[0].Args["file_path"])

			state, err := LoadState(ctx, store, "t1")
			require.NoError(t, err)
			require.Len(t, state.Messages, 2)
			assert.Equal(t, human, state.Messages[0])
			assert.Equal(t, ai, state.Messages[1])

			result := NewToolMessage(call, "written", ToolStatusSuccess)
			require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepResume, Messages: Messages{result}}))

			pending, err = store.Pending(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, pending)

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"t1"}, ids)

			require.NoError(t, store.Delete(ctx, "t1"))
			require.NoError(t, store.Delete(ctx, "t1"))
			steps, err = store.Load(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, steps)
		})
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(ctx, "../escape", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("x")}})
			assert.ErrorIs(t, err, ErrInvalidThreadID)

			err = store.Append(ctx, "t1", Step{Kind: StepInterrupt})
			assert.Error(t, err)

			_, err = store.Load(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidThreadID)
		})
	}
}

func TestStoreAppendOnlyPrefix(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			previous := []Message{}
			for i := 0; i < 3; i++ {
				require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("turn")}}))
				require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepModel, Messages: Messages{NewAssistantMessage("reply", nil)}}))

				state, err := LoadState(ctx, store, "t1")
				require.NoError(t, err)
				require.GreaterOrEqual(t, len(state.Messages), len(previous))
				assert.Equal(t, previous, state.Messages[:len(previous)])
				previous = state.Messages
			}
			assert.Len(t, previous, 6)
		})
	}
}

func TestValidateThreadID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		shouldErr bool
	}{
		{"valid id", "3f1c2b7e9a0d4c6f8e2a1b3c4d5e6f70", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreadID(tt.id)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidThreadID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(StoreConfig{Driver: "jsonl", Path: filepath.Join(dir, "threads")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(StoreConfig{Driver: "SQLite", Path: filepath.Join(dir, "threads.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(StoreConfig{Driver: "redis"})
	assert.Error(t, err)
}

func TestAppendStampsCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	before := time.Now().UTC()
	require.NoError(t, store.Append(context.Background(), "t1", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("x")}}))

	steps, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.False(t, steps[0].CreatedAt.Before(before))
}

func TestSQLiteStoreCorruptPayloadFailsLoad(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "t1", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("one")}}))
	_, err = store.db.ExecContext(ctx,
		"INSERT INTO steps (thread_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		"t1", 1, "model", `{"kind":"model","messages":[{"type":"system"}]}`, 0)
	require.NoError(t, err)

	_, err = store.Load(ctx, "t1")
	assert.ErrorIs(t, err, ErrCorruptThread)
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = LoadState(ctx, store, "t1")
	assert.ErrorIs(t, err, ErrCorruptThread)
}
