package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fixmate/internal/bootstrap"
	"fixmate/internal/usecase"
	"fixmate/pkg/config"
	"fixmate/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	UserID  string

	// OpenBackend connects the data platform. Tests replace it.
	OpenBackend func(ctx context.Context) (*bootstrap.Backend, error)
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the chatctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{OpenBackend: openConfiguredBackend}
	return newRootCommand(opts)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Operator tooling for the messaging core",
		Long:  "Inspect conversations and repair cached previews on behalf of a user.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				logger.Configure("development")
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.UserID, "user", "", "user id to act as (required)")

	cmd.AddCommand(NewConversationsCommand(opts))
	cmd.AddCommand(NewUnreadCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func openConfiguredBackend(ctx context.Context) (*bootstrap.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg)
}

// withSession runs fn against a session that never subscribes to the feed.
func withSession(ctx context.Context, opts *RootOptions, fn func(*usecase.ChatSession) error) error {
	if opts.UserID == "" {
		return fmt.Errorf("--user is required")
	}

	backend, err := opts.OpenBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer backend.Close()

	session := usecase.NewChatSession(opts.UserID, usecase.SessionDeps{
		Conversations: backend.Conversations,
		Messages:      backend.Messages,
		Storage:       backend.Storage,
		Feed:          backend.Feed,
	})
	return fn(session)
}
