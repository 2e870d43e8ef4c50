package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/model"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions",
	}
	cmd.AddCommand(newSessionListCommand(rootOpts))
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	cmd.AddCommand(newSessionCreateCommand(rootOpts))
	cmd.AddCommand(newSessionDeleteCommand(rootOpts))
	return cmd
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List sessions in a namespace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := h.ListSessions(cmd.Context(), namespace)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list sessions", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(sessions)
			}
			for _, sess := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  tag=%s  active=%t  seq=%d\n",
					sess.ID, orDash(sess.Tag), sess.Active, sess.Seq)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace to list")
	return cmd
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <session-id>",
		Short:         "Show one session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := h.GetSession(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to get session", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(sess)
			}
			printSession(cmd, sess)
			return nil
		},
	}
}

func newSessionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace, tag, machineID string

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Get or create a session for (namespace, tag)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, created, err := h.GetOrCreateSession(cmd.Context(), namespace, tag, machineID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to create session", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(map[string]any{"session": sess, "created": created})
			}
			verb := "found"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s session %s\n", verb, sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "default", "session namespace")
	cmd.Flags().StringVar(&tag, "tag", "", "session tag (optional)")
	cmd.Flags().StringVar(&machineID, "machine", "", "owning machine id (optional)")
	return cmd
}

func newSessionDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <session-id>",
		Short:         "Delete a session and its messages",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := h.DeleteSession(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitFailure, "failed to delete session", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", args[0])
			return nil
		},
	}
}

func printSession(cmd *cobra.Command, sess model.Session) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "id:           %s\n", sess.ID)
	fmt.Fprintf(w, "namespace:    %s\n", sess.Namespace)
	fmt.Fprintf(w, "tag:          %s\n", orDash(sess.Tag))
	fmt.Fprintf(w, "machine:      %s\n", orDash(sess.MachineID))
	fmt.Fprintf(w, "active:       %t\n", sess.Active)
	fmt.Fprintf(w, "seq:          %d\n", sess.Seq)
	fmt.Fprintf(w, "metadata v:   %d\n", sess.MetadataVersion)
	fmt.Fprintf(w, "agentstate v: %d\n", sess.AgentStateVersion)
	if sess.ResumedFrom != "" {
		fmt.Fprintf(w, "resumed from: %s\n", sess.ResumedFrom)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
