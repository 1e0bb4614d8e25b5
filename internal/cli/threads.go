package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/daemon"
	"github.com/harun/tether/pkg/thread"
)

// ThreadStatus is printed by status --thread.
type ThreadStatus struct {
	ThreadID    string                 `json:"thread_id"`
	Interrupted bool                   `json:"interrupted"`
	Pending     []thread.ActionRequest `json:"pending"`
}

// DaemonStatus is printed by status without --thread.
type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a thread's persisted messages as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withState(cmd, threadID, func(state thread.State) interface{} {
				if state.Messages == nil {
					return thread.Messages{}
				}
				return state.Messages
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a thread's interrupt state, or the daemon state without --thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				return o.daemonStatus(cmd)
			}
			return o.withState(cmd, threadID, func(state thread.State) interface{} {
				pending := state.Pending
				if pending == nil {
					pending = []thread.ActionRequest{}
				}
				return ThreadStatus{
					ThreadID:    threadID,
					Interrupted: state.Interrupted(),
					Pending:     pending,
				}
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id")
	return cmd
}

func newThreadsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List stored thread ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := o.load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			store, err := daemon.OpenStore(env.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list threads: %w", err)
			}
			if ids == nil {
				ids = []string{}
			}
			return newEncoder(cmd.OutOrStdout()).Encode(ids)
		},
	}
}

func newNewThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-thread",
		Short: "Print a fresh thread id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), thread.NewID())
			return err
		},
	}
}

// withState loads one thread and prints render(state).
func (o *rootOptions) withState(cmd *cobra.Command, threadID string, render func(thread.State) interface{}) error {
	if err := thread.ValidateThreadID(threadID); err != nil {
		return err
	}

	env, err := o.load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := daemon.OpenStore(env.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := thread.LoadState(cmd.Context(), store, threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	return newEncoder(cmd.OutOrStdout()).Encode(render(state))
}

func (o *rootOptions) daemonStatus(cmd *cobra.Command) error {
	env, err := o.load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	pidFile := daemon.PIDFilePath(env.cfg.DataDir)
	status := DaemonStatus{}
	if daemon.IsRunning(pidFile) {
		status.Running = true
		status.PID, _ = daemon.ReadPID(pidFile)
		if info, err := os.Stat(pidFile); err == nil {
			status.Uptime = formatDuration(time.Since(info.ModTime()))
		}
	}
	return newEncoder(cmd.OutOrStdout()).Encode(status)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
