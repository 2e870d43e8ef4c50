package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/model"
)

// NewMessagesCommand creates the messages command (page through a log).
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		afterSeq  int64
		beforeSeq int64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "messages <session-id>",
		Short: "Page through a session's message log",
		Long: `Page through a session's message log.

By default returns the most recent page. Use --after to page forward from
a known seq, --before to page backward.

Example:
  tether messages 0189... --after 42 --limit 100`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			var msgs []model.Message
			if afterSeq > 0 {
				msgs, err = h.PageAfter(cmd.Context(), args[0], afterSeq, limit)
			} else {
				msgs, err = h.PageBefore(cmd.Context(), args[0], beforeSeq, limit)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to page messages", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(msgs)
			}
			for _, msg := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s  %s\n", msg.Seq, msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Content)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&afterSeq, "after", 0, "return messages with seq greater than this")
	cmd.Flags().Int64Var(&beforeSeq, "before", 0, "return messages with seq less than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (clamped)")
	return cmd
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	var localID string

	cmd := &cobra.Command{
		Use:   "append <session-id> <content-json>",
		Short: "Append a message to a session's log",
		Long: `Append a message to a session's log.

Content must be valid JSON. Pass --local-id for idempotent retries: a
second append with the same local id returns the original message.

Example:
  tether append 0189... '{"role":"user","text":"hello"}' --local-id cli-1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return WrapExitError(ExitCommandError, "content is not valid JSON", nil)
			}

			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			msg, err := h.AppendMessage(cmd.Context(), args[0], model.Doc(args[1]), localID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to append message", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "appended message %s seq=%d\n", msg.ID, msg.Seq)
			return nil
		},
	}

	cmd.Flags().StringVar(&localID, "local-id", "", "client-supplied id for idempotent retries")
	return cmd
}

// NewTrimCommand creates the trim command.
func NewTrimCommand(rootOpts *RootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:           "trim <session-id>",
		Short:         "Delete the oldest messages, keeping the most recent N",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := h.TrimMessages(cmd.Context(), args[0], keep)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to trim messages", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d, %d remaining\n", result.Deleted, result.Remaining)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 200, "number of most recent messages to keep")
	return cmd
}
