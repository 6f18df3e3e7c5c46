package usecase

import (
	"context"
	"sync"
	"time"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/logger"
)

type bridgeState int

const (
	bridgeUninitialized bridgeState = iota
	bridgeSubscribed
)

const bridgeEventTimeout = 15 * time.Second

// RealtimeBridge owns the session's single message-insert subscription and
// routes each inbound message to the active or background path.
type RealtimeBridge struct {
	userID        string
	feed          repository.MessageFeed
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	convStore     *ConversationStore
	msgStore      *MessageStore

	mu    sync.Mutex
	state bridgeState
	sub   repository.Subscription
	ctx   context.Context
}

func NewRealtimeBridge(
	userID string,
	feed repository.MessageFeed,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	convStore *ConversationStore,
	msgStore *MessageStore,
) *RealtimeBridge {
	return &RealtimeBridge{
		userID:        userID,
		feed:          feed,
		conversations: conversations,
		messages:      messages,
		convStore:     convStore,
		msgStore:      msgStore,
	}
}

// Start subscribes once. Further calls while subscribed do nothing.
func (b *RealtimeBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == bridgeSubscribed {
		return nil
	}
	b.ctx = ctx
	sub, err := b.feed.Subscribe(ctx, b.userID, b.handleInsert)
	if err != nil {
		logger.Error("RealtimeBridge Error: Failed to subscribe user %s: %v", b.userID, err)
		return err
	}
	b.sub = sub
	b.state = bridgeSubscribed
	logger.Info("RealtimeBridge: Subscribed user %s", b.userID)
	return nil
}

// Stop releases the subscription so a later Start may subscribe again.
func (b *RealtimeBridge) Stop() {
	b.mu.Lock()
	if b.state != bridgeSubscribed {
		b.mu.Unlock()
		return
	}
	sub := b.sub
	b.sub = nil
	b.state = bridgeUninitialized
	b.mu.Unlock()

	// Unsubscribe may wait for an in-flight handleInsert, which takes b.mu.
	sub.Unsubscribe()
	logger.Info("RealtimeBridge: Unsubscribed user %s", b.userID)
}

func (b *RealtimeBridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == bridgeSubscribed
}

func (b *RealtimeBridge) eventContext() (context.Context, context.CancelFunc) {
	b.mu.Lock()
	base := b.ctx
	b.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, bridgeEventTimeout)
}

func (b *RealtimeBridge) handleInsert(message *entity.Message) {
	if message == nil || message.ID == "" || message.ConversationID == "" {
		logger.Debug("RealtimeBridge: Ignoring malformed insert event for user %s", b.userID)
		return
	}
	preview := message.Preview()
	if preview == "" {
		logger.Debug("RealtimeBridge: Ignoring empty message %s", message.ID)
		return
	}

	ctx, cancel := b.eventContext()
	defer cancel()

	conversation, known := b.convStore.Get(message.ConversationID)
	if !known {
		var err error
		conversation, err = b.conversations.GetByID(ctx, message.ConversationID)
		if err != nil {
			logger.Warn("RealtimeBridge Warning: Failed to resolve conversation %s: %v", message.ConversationID, err)
			return
		}
	}
	if !conversation.HasParticipant(b.userID) {
		logger.Debug("RealtimeBridge: User %s is not in conversation %s, ignoring", b.userID, message.ConversationID)
		return
	}
	if message.SenderID == b.userID {
		return
	}

	if err := b.conversations.UpdatePreview(ctx, message.ConversationID, preview, message.CreatedAt); err != nil {
		logger.Warn("RealtimeBridge Warning: Failed to persist preview of conversation %s: %v", message.ConversationID, err)
	}

	// Compared now, not at dispatch time, so navigation in between is honored.
	if b.msgStore.ConversationID() == message.ConversationID {
		b.msgStore.AppendFromRealtime(message)
		if err := b.messages.MarkMessageRead(ctx, message.ConversationID, message.ID); err != nil {
			logger.Warn("RealtimeBridge Warning: Failed to mark message %s read: %v", message.ID, err)
		} else {
			b.msgStore.markReadLocal(message.ConversationID, message.ID)
		}
		b.convStore.PatchOnReceive(message.ConversationID, preview, message.CreatedAt, true)
		return
	}

	if b.convStore.PatchOnReceive(message.ConversationID, preview, message.CreatedAt, false) {
		return
	}

	// The counterpart opened a conversation this session has not seen yet.
	counts, err := b.messages.CountUnread(ctx, []string{message.ConversationID}, b.userID)
	unread := counts[message.ConversationID]
	if err != nil || unread < 1 {
		unread = 1
	}
	conversation.UnreadCount = unread
	if !message.CreatedAt.Before(conversation.LastMessageAt) {
		conversation.LastMessage = preview
		conversation.LastMessageAt = message.CreatedAt
	}
	b.convStore.Upsert(conversation)
}
