package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

// previewRepairConcurrency bounds the newest-message lookups of one load.
const previewRepairConcurrency = 4

// ConversationStore holds one viewer's conversation list, newest activity
// first, with per-conversation unread counts and their running total.
type ConversationStore struct {
	userID        string
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	events        *eventHub

	mu          sync.RWMutex
	items       []*entity.ConversationDetail
	unreadTotal int
}

func NewConversationStore(
	userID string,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	events *eventHub,
) *ConversationStore {
	if events == nil {
		events = newEventHub()
	}
	return &ConversationStore{
		userID:        userID,
		conversations: conversations,
		messages:      messages,
		events:        events,
	}
}

// Load fetches the viewer's conversations, counts unread messages in one
// batched lookup and repairs missing previews before replacing the list.
// On failure the previous list is left untouched.
func (s *ConversationStore) Load(ctx context.Context) ([]*entity.ConversationDetail, error) {
	list, err := s.conversations.ListForUser(ctx, s.userID)
	if err != nil {
		logger.Error("LoadConversations Error: Failed to list conversations for user %s: %v", s.userID, err)
		return nil, err
	}

	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}

	counts := map[string]int{}
	if len(ids) > 0 {
		counts, err = s.messages.CountUnread(ctx, ids, s.userID)
		if err != nil {
			logger.Warn("LoadConversations Warning: Failed to count unread messages for user %s: %v", s.userID, err)
			counts = map[string]int{}
		}
	}

	total := 0
	for _, c := range list {
		c.UnreadCount = counts[c.ID]
		total += c.UnreadCount
	}

	s.repairPreviews(ctx, list)
	sortConversations(list)

	s.mu.Lock()
	s.items = list
	s.unreadTotal = total
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.events.emit(Event{Type: EventConversationsLoaded, Conversations: snapshot, UnreadTotal: total})
	s.events.emit(Event{Type: EventUnreadChanged, UnreadTotal: total})
	return snapshot, nil
}

func (s *ConversationStore) repairPreviews(ctx context.Context, list []*entity.ConversationDetail) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(previewRepairConcurrency)

	repaired := make([]bool, len(list))
	for i, c := range list {
		if !c.NeedsPreviewRepair() {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			latest, err := s.messages.Latest(gctx, c.ID)
			if err != nil {
				if !errors.Is(err, errors.CodeNotFound) {
					logger.Warn("RepairPreview Warning: Failed to fetch newest message of conversation %s: %v", c.ID, err)
				}
				return nil
			}
			repaired[i] = s.applyRepair(gctx, &c.Conversation, latest)
			return nil
		})
	}
	g.Wait()

	n := 0
	for _, ok := range repaired {
		if ok {
			n++
		}
	}
	return n
}

// applyRepair derives the preview of newest, writes it through and merges it
// into c. A failed write is logged; the next load retries it.
func (s *ConversationStore) applyRepair(ctx context.Context, c *entity.Conversation, newest *entity.Message) bool {
	preview := newest.Preview()
	if preview == "" {
		return false
	}
	at := c.LastMessageAt
	if newest.CreatedAt.After(at) {
		at = newest.CreatedAt
	}
	if err := s.conversations.UpdatePreview(ctx, c.ID, preview, at); err != nil {
		logger.Warn("RepairPreview Warning: Failed to persist preview of conversation %s: %v", c.ID, err)
	}
	c.LastMessage = preview
	c.LastMessageAt = at
	return true
}

// RepairFromMessage fixes a placeholder preview using an already loaded
// newest message.
func (s *ConversationStore) RepairFromMessage(ctx context.Context, conversationID string, newest *entity.Message) bool {
	if newest == nil || newest.Pending {
		return false
	}

	s.mu.RLock()
	current := s.find(conversationID)
	if current == nil || !current.ShowsPlaceholder() {
		s.mu.RUnlock()
		return false
	}
	conv := current.Conversation
	s.mu.RUnlock()

	if !s.applyRepair(ctx, &conv, newest) {
		return false
	}
	return s.patch(conversationID, conv.LastMessage, conv.LastMessageAt, 0, false)
}

// RepairPreviews runs the lazy preview repair over a freshly listed set of
// conversations and reports how many were fixed. Used by operator tooling.
func (s *ConversationStore) RepairPreviews(ctx context.Context) (int, error) {
	list, err := s.conversations.ListForUser(ctx, s.userID)
	if err != nil {
		return 0, err
	}
	return s.repairPreviews(ctx, list), nil
}

// PatchOnSend records a message the viewer just sent.
func (s *ConversationStore) PatchOnSend(conversationID, preview string, at time.Time) bool {
	return s.patch(conversationID, preview, at, 0, true)
}

// PatchOnReceive records an inbound message. Inactive conversations gain one
// unread message; the active one is already read.
func (s *ConversationStore) PatchOnReceive(conversationID, preview string, at time.Time, isActive bool) bool {
	delta := 1
	if isActive {
		delta = 0
	}
	return s.patch(conversationID, preview, at, delta, true)
}

func (s *ConversationStore) patch(conversationID, preview string, at time.Time, unreadDelta int, requireNewer bool) bool {
	s.mu.Lock()
	c := s.find(conversationID)
	if c == nil {
		s.mu.Unlock()
		return false
	}
	// An older message arriving late must not roll the preview back.
	if !requireNewer || !at.Before(c.LastMessageAt) {
		c.LastMessage = preview
		c.LastMessageAt = at
	}
	c.UnreadCount += unreadDelta
	s.unreadTotal += unreadDelta
	sortConversations(s.items)
	updated := c.Clone()
	total := s.unreadTotal
	s.mu.Unlock()

	s.events.emit(Event{Type: EventConversationUpdated, ConversationID: conversationID, Conversation: updated, UnreadTotal: total})
	if unreadDelta != 0 {
		s.events.emit(Event{Type: EventUnreadChanged, ConversationID: conversationID, UnreadTotal: total})
	}
	return true
}

// ClearUnread zeroes one conversation's count and returns what it held.
func (s *ConversationStore) ClearUnread(conversationID string) int {
	s.mu.Lock()
	c := s.find(conversationID)
	if c == nil || c.UnreadCount == 0 {
		s.mu.Unlock()
		return 0
	}
	previous := c.UnreadCount
	c.UnreadCount = 0
	s.unreadTotal -= previous
	if s.unreadTotal < 0 {
		s.unreadTotal = 0
	}
	updated := c.Clone()
	total := s.unreadTotal
	s.mu.Unlock()

	s.events.emit(Event{Type: EventConversationUpdated, ConversationID: conversationID, Conversation: updated, UnreadTotal: total})
	s.events.emit(Event{Type: EventUnreadChanged, ConversationID: conversationID, UnreadTotal: total})
	return previous
}

// Upsert inserts detail or refreshes the stored copy. A refreshed copy keeps
// the locally tracked unread count.
func (s *ConversationStore) Upsert(detail *entity.ConversationDetail) {
	d := detail.Clone()

	s.mu.Lock()
	if existing := s.find(d.ID); existing != nil {
		d.UnreadCount = existing.UnreadCount
		if d.LastMessageAt.Before(existing.LastMessageAt) {
			d.LastMessage = existing.LastMessage
			d.LastMessageAt = existing.LastMessageAt
		}
		*existing = *d
	} else {
		if d.UnreadCount < 0 {
			d.UnreadCount = 0
		}
		s.items = append(s.items, d)
		s.unreadTotal += d.UnreadCount
	}
	sortConversations(s.items)
	updated := s.find(d.ID).Clone()
	total := s.unreadTotal
	s.mu.Unlock()

	s.events.emit(Event{Type: EventConversationUpdated, ConversationID: d.ID, Conversation: updated, UnreadTotal: total})
	if detail.UnreadCount > 0 {
		s.events.emit(Event{Type: EventUnreadChanged, ConversationID: d.ID, UnreadTotal: total})
	}
}

func (s *ConversationStore) Get(conversationID string) (*entity.ConversationDetail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.find(conversationID)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

func (s *ConversationStore) List() []*entity.ConversationDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *ConversationStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadTotal
}

// CheckUnreadInvariant verifies that the running total equals the sum of the
// per-conversation counts.
func (s *ConversationStore) CheckUnreadInvariant() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, c := range s.items {
		if c.UnreadCount < 0 {
			return fmt.Errorf("conversation %s has negative unread count %d", c.ID, c.UnreadCount)
		}
		sum += c.UnreadCount
	}
	if sum != s.unreadTotal {
		return fmt.Errorf("unread total %d does not match per-conversation sum %d", s.unreadTotal, sum)
	}
	return nil
}

func (s *ConversationStore) find(conversationID string) *entity.ConversationDetail {
	for _, c := range s.items {
		if c.ID == conversationID {
			return c
		}
	}
	return nil
}

func (s *ConversationStore) snapshotLocked() []*entity.ConversationDetail {
	out := make([]*entity.ConversationDetail, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c.Clone())
	}
	return out
}

// sortConversations orders by LastMessageAt descending, ties by id.
func sortConversations(list []*entity.ConversationDetail) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].LastMessageAt.Equal(list[j].LastMessageAt) {
			return list[i].LastMessageAt.After(list[j].LastMessageAt)
		}
		return list[i].ID < list[j].ID
	})
}
