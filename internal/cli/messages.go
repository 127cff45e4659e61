package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/engine"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Role      string
	ID        string
	CreatedAt int64
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <conversation> <content>",
		Short: "Write a message locally as pending",
		Long: `Write a message to the local store and queue it for delivery.

The message is visible to list immediately with pending=true. It stays
pending until a flush against the remote store confirms it.

Examples:
  chatsync send c1 "hello"
  chatsync send c1 "hi" --role assistant --id m-42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", "user", "message role")
	cmd.Flags().StringVar(&opts.ID, "id", "", "record id (default: generated)")
	cmd.Flags().Int64Var(&opts.CreatedAt, "created-at", 0, "creation time in Unix milliseconds (default: now)")

	return cmd
}

func runSend(cmd *cobra.Command, opts *SendOptions, conversationID, content string) error {
	f := newFormatter(cmd, opts.RootOptions)
	rt, err := openRuntime(cmd.Context(), f, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.engine.AddLocalPending(cmd.Context(), engine.Record{
		ID:             opts.ID,
		ConversationID: conversationID,
		Role:           opts.Role,
		Content:        content,
		CreatedAt:      opts.CreatedAt,
	})
	if errors.Is(err, engine.ErrInvalidRecord) {
		return f.Fail(ExitFailure, CodeInvalid, "invalid message", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, CodeStore, "failed to write message", err)
	}

	f.VerboseLog("outbox size: %d", rt.engine.OutboxSize())
	return f.Success(rec, func(w io.Writer) {
		fmt.Fprintf(w, "queued %s in %s\n", rec.ID, rec.ConversationID)
	})
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <conversation>",
		Short: "List a conversation's messages oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			rt, err := openRuntime(cmd.Context(), f, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.engine.List(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitCommandError, CodeStore, "failed to list messages", err)
			}
			return f.Success(recs, func(w io.Writer) { writeRecords(w, recs) })
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List messages not yet confirmed by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			rt, err := openRuntime(cmd.Context(), f, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			recs, err := rt.engine.Pending(cmd.Context())
			if err != nil {
				return f.Fail(ExitCommandError, CodeStore, "failed to list pending messages", err)
			}
			return f.Success(recs, func(w io.Writer) { writeRecords(w, recs) })
		},
	}
}

// writeRecords prints one line per record:
//
//	<createdAt RFC3339> <status> <id> <role>: <content>
func writeRecords(w io.Writer, recs []engine.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, r := range recs {
		at := time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s %-8s %s %s: %s\n", at, recordStatus(r), r.ID, r.Role, r.Content)
	}
}

func recordStatus(r engine.Record) string {
	switch {
	case r.Failed():
		return "failed"
	case r.Pending:
		return "pending"
	default:
		return "sent"
	}
}
