package repository

import (
	"context"

	"fixmate/internal/domain/entity"
)

// MessageFeed streams message inserts for conversations userID belongs to.
// Delivery is at least once; consumers must tolerate duplicates.
type MessageFeed interface {
	Subscribe(ctx context.Context, userID string, onInsert func(*entity.Message)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}
