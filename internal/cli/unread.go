package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fixmate/internal/usecase"
)

// NewUnreadCommand prints the user's global unread total.
func NewUnreadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "unread",
		Short:         "Print a user's total unread message count",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(session *usecase.ChatSession) error {
				if _, err := session.LoadConversations(cmd.Context()); err != nil {
					return err
				}
				total := session.UnreadTotal()
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"unread_total": total})
				}
				fmt.Fprintln(cmd.OutOrStdout(), total)
				return nil
			})
		},
	}
}
