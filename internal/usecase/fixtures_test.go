package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixmate/internal/adapter/repository"
	"fixmate/internal/domain/entity"
	domainrepo "fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newPlatform() *repository.MemoryStore {
	store := repository.NewMemoryStore()
	store.PutProfile(&entity.Profile{ID: "alice", DisplayName: "Alice", Role: entity.RoleCustomer})
	store.PutProfile(&entity.Profile{ID: "bob", DisplayName: "Bob's Plumbing", Role: entity.RoleCompany})
	store.PutProfile(&entity.Profile{ID: "carol", DisplayName: "Carol"})
	store.PutJob(&entity.JobContext{ID: "job-1", Category: "Plumbing"})
	return store
}

func depsFor(store *repository.MemoryStore) SessionDeps {
	return SessionDeps{
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
		Storage:       store.Attachments(),
		Feed:          store.Feed(),
		Limits:        SendLimits{CleanupFailedUploads: true},
	}
}

// startSession returns a subscribed session closed at test end.
func startSession(t *testing.T, userID string, deps SessionDeps) *ChatSession {
	t.Helper()
	s := NewChatSession(userID, deps)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

// clock hands out strictly increasing timestamps.
type clock struct {
	mu   sync.Mutex
	next time.Time
}

func newClock(start time.Time) *clock {
	return &clock{next: start}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = t
}

func useClock(s *ChatSession, c *clock) {
	s.sender.now = c.Now
	s.factory.now = c.Now
}

func seedConversation(store *repository.MemoryStore, id, a, b string, lastAt time.Time) {
	store.PutConversation(&entity.Conversation{
		ID:             id,
		ParticipantOne: a,
		ParticipantTwo: b,
		LastMessage:    entity.PlaceholderPreview,
		LastMessageAt:  lastAt,
		CreatedAt:      lastAt,
		UpdatedAt:      lastAt,
	})
}

func seedMessage(store *repository.MemoryStore, id, conversationID, sender, recipient, text string, at time.Time, read bool) {
	store.PutMessage(&entity.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
		ParticipantIDs: []string{sender, recipient},
		Text:           text,
		Attachments:    []entity.Attachment{},
		IsRead:         read,
		CreatedAt:      at,
	})
}

func textFile(name, contentType, body string) FileUpload {
	return FileUpload{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Content:     bytes.NewBufferString(body),
	}
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *ChatSession) *recorder {
	r := &recorder{}
	s.Subscribe(func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// flakyStorage fails the failOn-th upload (1-based) and records deletions.
type flakyStorage struct {
	domainrepo.AttachmentStorage
	failOn int

	mu      sync.Mutex
	uploads int
	deleted []string
}

func (f *flakyStorage) Upload(ctx context.Context, path, contentType string, content io.Reader) (string, error) {
	f.mu.Lock()
	f.uploads++
	n := f.uploads
	f.mu.Unlock()
	if n == f.failOn {
		return "", fmt.Errorf("upload %d interrupted", n)
	}
	return f.AttachmentStorage.Upload(ctx, path, contentType, content)
}

func (f *flakyStorage) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, url)
	f.mu.Unlock()
	return f.AttachmentStorage.Delete(ctx, url)
}

// scriptedMessages lets a test fail or pause individual message operations.
type scriptedMessages struct {
	domainrepo.MessageRepository

	failInsert   bool
	failMarkRead bool
	failCount    bool

	// When set, ListByConversation for gateID signals entered and waits
	// for release.
	gateID   string
	entered  chan struct{}
	release  chan struct{}
	markRead int
	mu       sync.Mutex
}

func (s *scriptedMessages) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	if s.gateID != "" && conversationID == s.gateID {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.MessageRepository.ListByConversation(ctx, conversationID)
}

func (s *scriptedMessages) Insert(ctx context.Context, message *entity.Message) error {
	if s.failInsert {
		return errors.Internal("Failed to create message", fmt.Errorf("unavailable"))
	}
	return s.MessageRepository.Insert(ctx, message)
}

func (s *scriptedMessages) MarkRead(ctx context.Context, conversationID, excludingSender string) error {
	s.mu.Lock()
	s.markRead++
	s.mu.Unlock()
	if s.failMarkRead {
		return errors.Internal("Failed to mark messages as read", fmt.Errorf("unavailable"))
	}
	return s.MessageRepository.MarkRead(ctx, conversationID, excludingSender)
}

func (s *scriptedMessages) CountUnread(ctx context.Context, ids []string, excludingSender string) (map[string]int, error) {
	if s.failCount {
		return nil, errors.Internal("Failed to count unread messages", fmt.Errorf("unavailable"))
	}
	return s.MessageRepository.CountUnread(ctx, ids, excludingSender)
}

type stubLimiter struct {
	deny map[string]bool
}

func (l stubLimiter) Allow(userID, action string) (bool, time.Duration) {
	if l.deny[action] {
		return false, 5 * time.Second
	}
	return true, 0
}

type rejectingStorage struct{}

func (rejectingStorage) Upload(ctx context.Context, path, contentType string, content io.Reader) (string, error) {
	return "", errors.New("STORAGE_DISABLED", "Attachments are not enabled on this server", 503, nil)
}

func (rejectingStorage) Delete(ctx context.Context, url string) error {
	return nil
}
