package repository

import (
	"context"

	"fixmate/internal/domain/entity"
)

type MessageRepository interface {
	// ListByConversation returns messages ordered by CreatedAt ascending.
	ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error)
	// Latest returns the newest message or NOT_FOUND.
	Latest(ctx context.Context, conversationID string) (*entity.Message, error)
	// CountUnread counts unread messages not sent by excludingSender, per
	// conversation, in one batched lookup. Conversations without unread
	// messages may be absent from the result.
	CountUnread(ctx context.Context, conversationIDs []string, excludingSender string) (map[string]int, error)
	MarkRead(ctx context.Context, conversationID, excludingSender string) error
	MarkMessageRead(ctx context.Context, conversationID, messageID string) error
	// Insert assigns the id and keeps a caller supplied CreatedAt.
	Insert(ctx context.Context, message *entity.Message) error
}
