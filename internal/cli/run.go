package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/daemon"
	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/harun/tether/pkg/session"
	"github.com/harun/tether/pkg/thread"
)

// Input types accepted by run
const (
	InputMessage  = "message"
	InputApproval = "approval"
)

type runInput struct {
	ThreadID *string `json:"thread_id"`
	Type     *string `json:"type"`
	Message  *string `json:"message"`
}

type runRequest struct {
	threadID string
	kind     string
	message  string
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a message or an approval to a thread",
		Long: `Send one input to a thread and print every resulting chunk as JSON.

  {"thread_id": "...", "type": "message", "message": "..."}
  {"thread_id": "...", "type": "approval"}

A message sent to an interrupted thread rejects the pending actions with the
message as feedback, whatever session.busy_policy says. An approval approves
every pending action. When --input is omitted the JSON object is read from
standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := input
			if !cmd.Flags().Changed("input") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				raw = string(data)
			}

			req, err := parseRunInput(raw)
			if err != nil {
				return err
			}
			return o.run(cmd, req)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", `JSON input: {"thread_id": "...", "type": "message"|"approval", "message": "..."}`)
	return cmd
}

// parseRunInput validates the JSON request before anything is opened.
func parseRunInput(raw string) (runRequest, error) {
	if strings.TrimSpace(raw) == "" {
		return runRequest{}, fmt.Errorf("%w: input JSON is required", session.ErrInvalidInput)
	}

	var in runInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return runRequest{}, fmt.Errorf("%w: input is not a JSON object: %w", session.ErrInvalidInput, err)
	}
	if in.ThreadID == nil {
		return runRequest{}, fmt.Errorf("%w: 'thread_id' field is required in input JSON", session.ErrInvalidInput)
	}
	if err := thread.ValidateThreadID(*in.ThreadID); err != nil {
		return runRequest{}, fmt.Errorf("%w: %w", session.ErrInvalidInput, err)
	}
	if in.Type == nil {
		return runRequest{}, fmt.Errorf("%w: 'type' field is required in input JSON", session.ErrInvalidInput)
	}

	req := runRequest{threadID: *in.ThreadID, kind: *in.Type}
	switch req.kind {
	case InputMessage:
		if in.Message == nil {
			return runRequest{}, fmt.Errorf("%w: 'message' field is required for type %q", session.ErrInvalidInput, InputMessage)
		}
		if strings.TrimSpace(*in.Message) == "" {
			return runRequest{}, fmt.Errorf("%w: 'message' cannot be empty", session.ErrInvalidInput)
		}
		req.message = *in.Message
	case InputApproval:
	default:
		return runRequest{}, fmt.Errorf("%w: unknown type %q, must be %q or %q",
			session.ErrInvalidInput, req.kind, InputMessage, InputApproval)
	}
	return req, nil
}

func (o *rootOptions) run(cmd *cobra.Command, req runRequest) error {
	env, err := o.load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	log := env.log.Zerolog()
	if err := observability.InitAuditLogger(filepath.Join(env.cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize audit logger, decisions are not audited")
	}
	defer observability.GetAuditLogger().Close()

	// run always treats a message on an interrupted thread as a rejection;
	// session.busy_policy applies to the chat server only.
	cfg := *env.cfg
	cfg.Session.BusyPolicy = string(session.BusyReject)

	rt, err := daemon.NewRuntime(&cfg, log, o.providers)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := tracing.NewRunContext(cmd.Context(), req.threadID)

	var chunks iter.Seq2[session.Chunk, error]
	switch req.kind {
	case InputApproval:
		chunks = rt.Controller.Resume(ctx, req.threadID, []session.Decision{session.Approve()})
	default:
		chunks = rt.Controller.Run(ctx, req.threadID, req.message)
	}

	enc := newEncoder(cmd.OutOrStdout())
	for chunk, err := range chunks {
		if err != nil {
			return err
		}
		payload, err := session.Payload(chunk)
		if err != nil {
			return err
		}
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
	}
	return nil
}
