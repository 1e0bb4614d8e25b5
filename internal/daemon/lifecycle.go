package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PIDFileName is the daemon's PID file inside the data directory.
const PIDFileName = "tether.pid"

// LifecycleManager owns the daemon's PID file
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFilePath(d.config.DataDir),
	}
}

// PIDFilePath returns the PID file location for a data directory.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// Start creates the data directory and writes the PID file
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := ReadPID(l.pidFile); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("daemon is already running with PID %d", pid)
	}

	if err := os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")
	return nil
}

// Stop removes the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// ReadPID reads a PID file.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// IsRunning reports whether the PID file names a live process.
func IsRunning(pidFile string) bool {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return false
	}
	return processAlive(pid)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes the process.
	return process.Signal(syscall.Signal(0)) == nil
}
