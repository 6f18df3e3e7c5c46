package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

const (
	ActionSendMessage        = "send_message"
	ActionCreateConversation = "create_conversation"
)

// Limiter throttles user actions.
type Limiter interface {
	Allow(userID, action string) (bool, time.Duration)
}

type SessionDeps struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Storage       repository.AttachmentStorage
	Feed          repository.MessageFeed
	Limiter       Limiter
	Limits        SendLimits
	PairLocks     *PairLocks
}

// ChatSession is the messaging state of one logged-in user.
type ChatSession struct {
	userID  string
	deps    SessionDeps
	events  *eventHub
	loading atomic.Int32

	conversations *ConversationStore
	messages      *MessageStore
	bridge        *RealtimeBridge
	sender        *SendPipeline
	factory       *ConversationFactory
}

func NewChatSession(userID string, deps SessionDeps) *ChatSession {
	events := newEventHub()
	s := &ChatSession{
		userID: userID,
		deps:   deps,
		events: events,
	}
	s.conversations = NewConversationStore(userID, deps.Conversations, deps.Messages, events)
	s.messages = NewMessageStore(userID, deps.Messages, events)
	s.bridge = NewRealtimeBridge(userID, deps.Feed, deps.Conversations, deps.Messages, s.conversations, s.messages)
	s.sender = NewSendPipeline(userID, deps.Conversations, deps.Messages, deps.Storage, s.conversations, s.messages, deps.Limits)
	s.factory = NewConversationFactory(userID, deps.Conversations, s.conversations, deps.PairLocks, s.activate)
	return s
}

func (s *ChatSession) UserID() string {
	return s.userID
}

// Start subscribes to inbound messages. Safe to call repeatedly.
func (s *ChatSession) Start(ctx context.Context) error {
	return s.bridge.Start(ctx)
}

// Close ends the session: the subscription is released and the active
// conversation is left.
func (s *ChatSession) Close() {
	s.bridge.Stop()
	s.messages.Reset()
}

// Subscribe registers listener for state changes and returns its cancel.
func (s *ChatSession) Subscribe(listener func(Event)) func() {
	return s.events.subscribe(listener)
}

func (s *ChatSession) LoadConversations(ctx context.Context) ([]*entity.ConversationDetail, error) {
	defer s.beginLoad()()
	return s.conversations.Load(ctx)
}

// LoadMessages opens conversationID, marks it read and zeroes its unread count.
func (s *ChatSession) LoadMessages(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	defer s.beginLoad()()

	if _, err := s.membership(ctx, conversationID); err != nil {
		return nil, err
	}

	list, err := s.messages.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Read-marking has completed, so the count is zero even if the user has
	// already navigated elsewhere.
	cleared := s.conversations.ClearUnread(conversationID)
	if cleared > 0 {
		logger.Debug("LoadMessages: Cleared %d unread messages of conversation %s for user %s", cleared, conversationID, s.userID)
	}

	if newest := newestPersisted(list); newest != nil {
		s.conversations.RepairFromMessage(ctx, conversationID, newest)
	}
	return list, nil
}

func (s *ChatSession) CreateConversation(ctx context.Context, otherUserID, jobID string) (*entity.ConversationDetail, error) {
	if err := s.allow(ActionCreateConversation); err != nil {
		return nil, err
	}
	return s.factory.Create(ctx, otherUserID, jobID)
}

func (s *ChatSession) SendMessage(ctx context.Context, input SendInput) (*entity.Message, error) {
	if err := s.allow(ActionSendMessage); err != nil {
		return nil, &SendError{Draft: input.Text, Err: err}
	}
	onProgress := input.OnProgress
	input.OnProgress = func(progress float64) {
		s.events.emit(Event{Type: EventUploadProgress, ConversationID: input.ConversationID, Progress: progress})
		if onProgress != nil {
			onProgress(progress)
		}
	}
	return s.sender.Send(ctx, input)
}

// CloseConversation leaves the active conversation. Results of loads still
// in flight for it are discarded.
func (s *ChatSession) CloseConversation() {
	previous := s.messages.ConversationID()
	s.messages.Reset()
	if previous != "" {
		s.events.emit(Event{Type: EventConversationClosed, ConversationID: previous})
	}
}

func (s *ChatSession) Conversations() []*entity.ConversationDetail {
	return s.conversations.List()
}

func (s *ChatSession) Conversation(conversationID string) (*entity.ConversationDetail, bool) {
	return s.conversations.Get(conversationID)
}

func (s *ChatSession) ActiveConversationID() string {
	return s.messages.ConversationID()
}

func (s *ChatSession) Messages() []*entity.Message {
	return s.messages.Messages()
}

func (s *ChatSession) Loading() bool {
	return s.loading.Load() > 0
}

func (s *ChatSession) UnreadTotal() int {
	return s.conversations.UnreadTotal()
}

func (s *ChatSession) Subscribed() bool {
	return s.bridge.Subscribed()
}

// RepairPreviews backfills missing previews of every conversation.
func (s *ChatSession) RepairPreviews(ctx context.Context) (int, error) {
	return s.conversations.RepairPreviews(ctx)
}

func (s *ChatSession) activate(ctx context.Context, conversationID string, load bool) {
	if !load {
		s.messages.Open(conversationID)
		return
	}
	if _, err := s.LoadMessages(ctx, conversationID); err != nil {
		logger.Warn("CreateConversation Warning: Failed to load messages of conversation %s: %v", conversationID, err)
	}
}

func (s *ChatSession) membership(ctx context.Context, conversationID string) (*entity.ConversationDetail, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}
	conversation, ok := s.conversations.Get(conversationID)
	if !ok {
		var err error
		conversation, err = s.deps.Conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conversation.HasParticipant(s.userID) {
			s.conversations.Upsert(conversation)
		}
	}
	if !conversation.HasParticipant(s.userID) {
		logger.Warn("LoadMessages Error: User %s is not a participant in conversation %s", s.userID, conversationID)
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conversation, nil
}

func (s *ChatSession) allow(action string) error {
	if s.deps.Limiter == nil {
		return nil
	}
	allowed, wait := s.deps.Limiter.Allow(s.userID, action)
	if !allowed {
		logger.Warn("%s Rate Limited: User %s must wait %v", action, s.userID, wait)
		return errors.TooManyRequests("Rate limit exceeded. Please slow down", wait)
	}
	return nil
}

func (s *ChatSession) beginLoad() func() {
	s.loading.Add(1)
	return func() { s.loading.Add(-1) }
}

func newestPersisted(list []*entity.Message) *entity.Message {
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].Pending {
			return list[i]
		}
	}
	return nil
}
