package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Count())

	r.Add(&Connection{ID: "a", ThreadID: "t1", ConnectedAt: time.Unix(100, 0)})
	r.Add(&Connection{ID: "b", ThreadID: "t2", ConnectedAt: time.Unix(50, 0)})
	assert.Equal(t, 2, r.Count())

	_, threadID, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "t1", threadID)

	assert.True(t, r.SetThread("a", "t3"))
	_, threadID, _ = r.Lookup("a")
	assert.Equal(t, "t3", threadID)
	assert.False(t, r.SetThread("missing", "t4"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)

	r.Remove("a")
	_, _, ok = r.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}
