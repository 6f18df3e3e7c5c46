package repository

import (
	"context"
	"time"

	"fixmate/internal/domain/entity"
)

// ConversationRepository is the conversations table of the data platform.
// Lookups that find nothing return a NOT_FOUND AppError.
type ConversationRepository interface {
	// ListForUser returns every conversation userID takes part in, newest
	// activity first, joined with both participant profiles and the job.
	// UnreadCount is left at zero.
	ListForUser(ctx context.Context, userID string) ([]*entity.ConversationDetail, error)
	GetByID(ctx context.Context, id string) (*entity.ConversationDetail, error)
	FindByPair(ctx context.Context, userA, userB string) (*entity.ConversationDetail, error)
	// Insert fails with CONFLICT when the pair already has a conversation.
	Insert(ctx context.Context, conversation *entity.Conversation) error
	UpdatePreview(ctx context.Context, id, preview string, at time.Time) error
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Profile, error)
	// GetByIDs skips ids without a profile.
	GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error)
}
