package usecase

import (
	"context"
	"sync"
	"time"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

// PairLocks serializes conversation creation per participant pair across
// every session of the process.
type PairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func NewPairLocks() *PairLocks {
	return &PairLocks{locks: make(map[string]*pairLock)}
}

func (p *PairLocks) Lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// ConversationFactory finds or creates the single conversation between the
// viewer and a counterpart.
type ConversationFactory struct {
	userID        string
	conversations repository.ConversationRepository
	convStore     *ConversationStore
	locks         *PairLocks
	now           func() time.Time

	// activate makes the conversation active; load asks for its messages.
	activate func(ctx context.Context, conversationID string, load bool)
}

func NewConversationFactory(
	userID string,
	conversations repository.ConversationRepository,
	convStore *ConversationStore,
	locks *PairLocks,
	activate func(ctx context.Context, conversationID string, load bool),
) *ConversationFactory {
	if locks == nil {
		locks = NewPairLocks()
	}
	if activate == nil {
		activate = func(context.Context, string, bool) {}
	}
	return &ConversationFactory{
		userID:        userID,
		conversations: conversations,
		convStore:     convStore,
		locks:         locks,
		now:           time.Now,
		activate:      activate,
	}
}

// Create returns the existing conversation with otherUserID or inserts a new
// one tagged with jobID. The local store is only patched after success.
func (f *ConversationFactory) Create(ctx context.Context, otherUserID, jobID string) (*entity.ConversationDetail, error) {
	if otherUserID == "" {
		return nil, errors.BadRequest("Recipient is required", nil)
	}
	if otherUserID == f.userID {
		logger.Warn("CreateConversation Error: User %s attempted to start a conversation with themselves", f.userID)
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}

	unlock := f.locks.Lock(entity.PairKey(f.userID, otherUserID))
	defer unlock()

	existing, err := f.conversations.FindByPair(ctx, f.userID, otherUserID)
	if err == nil {
		return f.reuse(ctx, existing), nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		logger.Error("CreateConversation Error: Failed to look up conversation between %s and %s: %v", f.userID, otherUserID, err)
		return nil, err
	}

	conversation := entity.NewConversation(f.userID, otherUserID, jobID, f.now().UTC())
	if err := f.conversations.Insert(ctx, conversation); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			// Another process created the pair between our lookup and insert.
			existing, findErr := f.conversations.FindByPair(ctx, f.userID, otherUserID)
			if findErr != nil {
				return nil, findErr
			}
			return f.reuse(ctx, existing), nil
		}
		logger.Error("CreateConversation Error: Failed to insert conversation between %s and %s: %v", f.userID, otherUserID, err)
		return nil, err
	}

	detail, err := f.conversations.GetByID(ctx, conversation.ID)
	if err != nil {
		logger.Warn("CreateConversation Warning: Failed to load participants of new conversation %s: %v", conversation.ID, err)
		detail = &entity.ConversationDetail{Conversation: *conversation}
	}
	detail.UnreadCount = 0
	if detail.LastMessage == "" {
		detail.LastMessage = entity.PlaceholderPreview
	}

	f.convStore.Upsert(detail)
	f.activate(ctx, detail.ID, false)

	logger.Info("CreateConversation: Created conversation %s between %s and %s", detail.ID, f.userID, otherUserID)
	out, _ := f.convStore.Get(detail.ID)
	return out, nil
}

func (f *ConversationFactory) reuse(ctx context.Context, existing *entity.ConversationDetail) *entity.ConversationDetail {
	f.convStore.Upsert(existing)
	f.activate(ctx, existing.ID, true)
	out, ok := f.convStore.Get(existing.ID)
	if !ok {
		return existing
	}
	return out
}
