package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fixmate/internal/domain/entity"
	"fixmate/internal/usecase"
)

type conversationRow struct {
	ID          string    `json:"id"`
	With        string    `json:"with"`
	Role        string    `json:"role"`
	Job         string    `json:"job,omitempty"`
	LastMessage string    `json:"last_message"`
	LastAt      time.Time `json:"last_message_at"`
	Unread      int       `json:"unread"`
}

// NewConversationsCommand lists a user's conversations, newest first.
func NewConversationsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "conversations",
		Short:         "List a user's conversations with previews and unread counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(session *usecase.ChatSession) error {
				list, err := session.LoadConversations(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([]conversationRow, 0, len(list))
				for _, c := range list {
					rows = append(rows, toRow(opts.UserID, c))
				}

				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWITH\tROLE\tLAST MESSAGE\tUNREAD")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.With, r.Role, r.LastMessage, r.Unread)
				}
				return tw.Flush()
			})
		},
	}
}

func toRow(viewerID string, c *entity.ConversationDetail) conversationRow {
	row := conversationRow{
		ID:          c.ID,
		With:        c.OtherParticipant(viewerID),
		LastMessage: entity.TruncatePreview(c.LastMessage, entity.PreviewDisplayWidth),
		LastAt:      c.LastMessageAt,
		Unread:      c.UnreadCount,
	}
	profile := c.Counterpart(viewerID)
	row.Role = string(profile.EffectiveRole())
	if profile != nil && profile.DisplayName != "" {
		row.With = profile.DisplayName
	}
	if c.Job != nil {
		row.Job = c.Job.Category
	}
	return row
}
