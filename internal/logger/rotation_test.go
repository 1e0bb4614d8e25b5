package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	w, err := NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)

	n, err := w.Write([]byte("line one\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\n", string(data))

	_, err = w.Write([]byte("after close"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	w, err := NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)

	chunk := []byte(strings.Repeat("x", 700*1024))
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rolled, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, rolled, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriterCompresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(path, 1, 0, true)
	require.NoError(t, err)

	_, err = w.Write([]byte("before rotate\n"))
	require.NoError(t, err)
	require.NoError(t, w.Rotate())
	require.NoError(t, w.Close())

	gz, err := filepath.Glob(path + ".*.gz")
	require.NoError(t, err)
	assert.Len(t, gz, 1)

	all, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, all, 1, "uncompressed copy is removed")
}

func TestRotatingWriterCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	old := path + ".20200101-000000.000000"
	fresh := path + ".20990101-000000.000000"
	require.NoError(t, os.WriteFile(old, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0600))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	w, err := NewRotatingWriter(path, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
