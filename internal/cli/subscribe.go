package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/notify"
)

// identityFlags binds the mutually exclusive --chat / --client flags.
type identityFlags struct {
	ChatID   string
	ClientID string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ChatID, "chat", "", "chat identity")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client identity")
	cmd.MarkFlagsMutuallyExclusive("chat", "client")
	cmd.MarkFlagsOneRequired("chat", "client")
}

func (f *identityFlags) identity() notify.Identity {
	return notify.Identity{ChatID: f.ChatID, ClientID: f.ClientID}
}

// NewSubscribeCommand creates the subscribe command.
func NewSubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	ident := &identityFlags{}

	cmd := &cobra.Command{
		Use:           "subscribe <session-id>",
		Short:         "Subscribe an identity to a session's events",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sub, err := h.Subscribe(cmd.Context(), args[0], ident.identity())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to subscribe", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(sub)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscribed to %s\n", args[0])
			return nil
		},
	}

	ident.register(cmd)
	return cmd
}

// NewUnsubscribeCommand creates the unsubscribe command.
func NewUnsubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	ident := &identityFlags{}

	cmd := &cobra.Command{
		Use:           "unsubscribe <session-id>",
		Short:         "Remove an identity's subscription",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := h.Unsubscribe(cmd.Context(), args[0], ident.identity()); err != nil {
				return WrapExitError(ExitFailure, "failed to unsubscribe", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unsubscribed from %s\n", args[0])
			return nil
		},
	}

	ident.register(cmd)
	return cmd
}

// NewRecipientsCommand creates the recipients command.
func NewRecipientsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "recipients <session-id>",
		Short:         "Show who is notified of a session's events",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, st, err := openHub(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			recipients, err := h.Recipients(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compute recipients", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if out.IsJSON() {
				return out.JSON(recipients)
			}
			for _, id := range recipients.ChatIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "chat    %s\n", id)
			}
			for _, id := range recipients.ClientIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "client  %s\n", id)
			}
			return nil
		},
	}
}
