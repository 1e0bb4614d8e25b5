package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	d := newTestDaemon(t)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(d.config.DataDir, "tether.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := newTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	pid, err := ReadPID(lm.pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsRunning(lm.pidFile))

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, IsRunning(lm.pidFile))

	// Stopping twice is harmless.
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerRefusesLiveOwner(t *testing.T) {
	d := newTestDaemon(t)
	lm := NewLifecycleManager(d)

	require.NoError(t, os.MkdirAll(filepath.Dir(lm.pidFile), 0o700))
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0o600))
	_, err = ReadPID(bad)
	assert.Error(t, err)
	assert.False(t, IsRunning(bad))

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("42\n"), 0o600))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}
