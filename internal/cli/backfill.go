package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fixmate/internal/usecase"
)

// NewBackfillCommand repairs missing previews of a user's conversations.
func NewBackfillCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-previews",
		Short: "Repair missing conversation previews for a user",
		Long: `Repair missing conversation previews for a user.

A conversation whose cached preview is empty or the placeholder, but which has
seen activity since it was created, gets the preview of its newest message.

Example:
  chatctl backfill-previews --user 8f2c...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(session *usecase.ChatSession) error {
				repaired, err := session.RepairPreviews(cmd.Context())
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"repaired": repaired})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d conversation previews\n", repaired)
				return nil
			})
		},
	}
}
