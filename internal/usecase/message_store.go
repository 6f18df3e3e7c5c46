package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

// ErrSuperseded is returned by a load whose conversation stopped being the
// active one before the result arrived.
var ErrSuperseded = errors.Conflict("Conversation is no longer active")

// MessageStore holds the messages of the active conversation in CreatedAt
// order. The conversation it holds is the session's active conversation.
type MessageStore struct {
	userID   string
	messages repository.MessageRepository
	events   *eventHub

	mu             sync.RWMutex
	conversationID string
	items          []*entity.Message
	ids            map[string]struct{}
	loadSeq        uint64
}

func NewMessageStore(userID string, messages repository.MessageRepository, events *eventHub) *MessageStore {
	if events == nil {
		events = newEventHub()
	}
	return &MessageStore{
		userID:   userID,
		messages: messages,
		events:   events,
		ids:      make(map[string]struct{}),
	}
}

// Load makes conversationID active and replaces the list with the persisted
// messages. Messages that arrive while the fetch is in flight are kept. The
// batched mark-as-read is awaited before Load returns; its failure is logged.
func (s *MessageStore) Load(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	seq := s.open(conversationID)

	list, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		logger.Error("LoadMessages Error: Failed to list messages for conversation %s: %v", conversationID, err)
		return nil, err
	}
	sortMessages(list)

	s.mu.Lock()
	if s.loadSeq != seq {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	// Anything already in the list was appended after the load started.
	arrived := s.items
	s.items = make([]*entity.Message, 0, len(list)+len(arrived))
	s.ids = make(map[string]struct{}, len(list)+len(arrived))
	for _, m := range list {
		s.insertLocked(m)
	}
	for _, m := range arrived {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		// A send that completed during the fetch is already in list.
		if m.Pending {
			if _, ok := s.ids[persistedIDOf(m.ID)]; ok {
				continue
			}
		}
		s.insertLocked(m)
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.events.emit(Event{Type: EventMessagesLoaded, ConversationID: conversationID, Messages: snapshot})

	if err := s.messages.MarkRead(ctx, conversationID, s.userID); err != nil {
		logger.Warn("LoadMessages Warning: Failed to mark conversation %s read for user %s: %v", conversationID, s.userID, err)
		return snapshot, nil
	}

	var unreadIDs []string
	for _, m := range snapshot {
		if m.SenderID != s.userID && !m.IsRead && !m.Pending {
			unreadIDs = append(unreadIDs, m.ID)
		}
	}
	if len(unreadIDs) > 0 {
		s.markReadLocal(conversationID, unreadIDs...)
		for _, m := range snapshot {
			if m.SenderID != s.userID && !m.Pending {
				m.IsRead = true
			}
		}
	}
	return snapshot, nil
}

// Open makes conversationID active with an empty list and invalidates any
// load in flight.
func (s *MessageStore) Open(conversationID string) {
	s.open(conversationID)
	s.events.emit(Event{Type: EventMessagesLoaded, ConversationID: conversationID, Messages: []*entity.Message{}})
}

func (s *MessageStore) open(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadSeq++
	s.conversationID = conversationID
	s.items = nil
	s.ids = make(map[string]struct{})
	return s.loadSeq
}

// Reset leaves the active conversation.
func (s *MessageStore) Reset() {
	s.open("")
}

// AppendOptimistic adds a pending message ahead of any network I/O. It is a
// no-op unless the message belongs to the active conversation.
func (s *MessageStore) AppendOptimistic(m *entity.Message) bool {
	m = m.Clone()
	m.Pending = true
	return s.append(m, EventMessageAppended)
}

// AppendFromRealtime adds an inbound message unless its id is already held.
func (s *MessageStore) AppendFromRealtime(m *entity.Message) bool {
	return s.append(m.Clone(), EventMessageAppended)
}

func (s *MessageStore) append(m *entity.Message, eventType EventType) bool {
	s.mu.Lock()
	if s.conversationID == "" || m.ConversationID != s.conversationID {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.ids[m.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.insertLocked(m)
	out := m.Clone()
	s.mu.Unlock()

	s.events.emit(Event{Type: eventType, ConversationID: m.ConversationID, Message: out})
	return true
}

// Reconcile swaps the pending message tempID for its persisted row. Missing
// temp entries are ignored.
func (s *MessageStore) Reconcile(tempID string, persisted *entity.Message) bool {
	m := persisted.Clone()
	m.Pending = false

	s.mu.Lock()
	idx := s.indexLocked(tempID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	delete(s.ids, tempID)
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	if _, dup := s.ids[m.ID]; !dup {
		s.insertLocked(m)
	}
	out := m.Clone()
	s.mu.Unlock()

	s.events.emit(Event{Type: EventMessageReconciled, ConversationID: m.ConversationID, TempID: tempID, Message: out})
	return true
}

// Rollback drops the pending message tempID after a failed send.
func (s *MessageStore) Rollback(tempID string) bool {
	s.mu.Lock()
	idx := s.indexLocked(tempID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.items[idx]
	delete(s.ids, tempID)
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.mu.Unlock()

	s.events.emit(Event{Type: EventMessageRemoved, ConversationID: removed.ConversationID, TempID: tempID})
	return true
}

func (s *MessageStore) markReadLocal(conversationID string, messageIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != conversationID {
		return
	}
	for _, id := range messageIDs {
		if idx := s.indexLocked(id); idx >= 0 {
			s.items[idx].IsRead = true
		}
	}
}

func (s *MessageStore) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

func (s *MessageStore) Messages() []*entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// insertLocked places m after every message not newer than it, so equal
// timestamps keep arrival order.
func (s *MessageStore) insertLocked(m *entity.Message) {
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].CreatedAt.After(m.CreatedAt)
	})
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = m
	s.ids[m.ID] = struct{}{}
}

func (s *MessageStore) indexLocked(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i, m := range s.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) snapshotLocked() []*entity.Message {
	out := make([]*entity.Message, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m.Clone())
	}
	return out
}

// tempIDFor names the optimistic copy of the message that will be persisted
// as persistedID.
func tempIDFor(persistedID string) string {
	return tempIDPrefix + persistedID
}

func persistedIDOf(tempID string) string {
	return strings.TrimPrefix(tempID, tempIDPrefix)
}

func sortMessages(list []*entity.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
