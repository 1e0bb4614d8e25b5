package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanup_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, store.Append(ctx, "old", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("x")}, CreatedAt: old}))
	require.NoError(t, store.Append(ctx, "fresh", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("x")}}))
	require.NoError(t, store.Append(ctx, "paused", Step{Kind: StepInput, Messages: Messages{NewHumanMessage("x")}, CreatedAt: old}))
	require.NoError(t, store.Append(ctx, "paused", Step{
		Kind:      StepInterrupt,
		Interrupt: []ActionRequest{{ToolCallID: "c1", Name: "write_file"}},
		CreatedAt: old,
	}))

	c, err := NewCleanup(store, 24*time.Hour, "")
	require.NoError(t, err)

	deleted, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh", "paused"}, ids)
}

func TestCleanup_InvalidSchedule(t *testing.T) {
	_, err := NewCleanup(NewMemoryStore(), time.Hour, "every tuesday")
	assert.Error(t, err)
}

func TestCleanup_StartStop(t *testing.T) {
	c, err := NewCleanup(NewMemoryStore(), time.Hour, "*/5 * * * *")
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	assert.Error(t, c.Start(context.Background()))

	c.Stop()
	assert.False(t, c.IsRunning())
	c.Stop()
}
