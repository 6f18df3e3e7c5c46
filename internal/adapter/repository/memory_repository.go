package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
)

const memoryURLPrefix = "memory://attachments/"

// MemoryStore is an in-process data platform: tables, object storage and an
// insert feed. It backs local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message
	profiles      map[string]*entity.Profile
	jobs          map[string]*entity.JobContext
	objects       map[string][]byte

	subMu       sync.RWMutex
	subscribers map[int]*memorySubscription
	nextSubID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		profiles:      make(map[string]*entity.Profile),
		jobs:          make(map[string]*entity.JobContext),
		objects:       make(map[string][]byte),
		subscribers:   make(map[int]*memorySubscription),
	}
}

func (s *MemoryStore) PutProfile(profile *entity.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *profile
	s.profiles[p.ID] = &p
}

func (s *MemoryStore) PutJob(job *entity.JobContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	s.jobs[j.ID] = &j
}

// PutConversation stores a row as is, bypassing the pair check.
func (s *MemoryStore) PutConversation(conversation *entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conversation
	if c.PairKey == "" {
		c.PairKey = entity.PairKey(c.ParticipantOne, c.ParticipantTwo)
	}
	c.Participants = []string{c.ParticipantOne, c.ParticipantTwo}
	s.conversations[c.ID] = &c
}

// PutMessage stores a row without notifying subscribers.
func (s *MemoryStore) PutMessage(message *entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], message.Clone())
}

func (s *MemoryStore) Conversations() repository.ConversationRepository {
	return &memoryConversationRepository{store: s}
}

func (s *MemoryStore) Messages() repository.MessageRepository {
	return &memoryMessageRepository{store: s}
}

func (s *MemoryStore) Profiles() repository.ProfileRepository {
	return &memoryProfileRepository{store: s}
}

func (s *MemoryStore) Attachments() repository.AttachmentStorage {
	return &memoryAttachmentStorage{store: s}
}

func (s *MemoryStore) Feed() repository.MessageFeed {
	return &memoryMessageFeed{store: s}
}

func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *MemoryStore) ObjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// StoredMessage returns the persisted copy of a message.
func (s *MemoryStore) StoredMessage(conversationID, messageID string) (*entity.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return m.Clone(), true
		}
	}
	return nil, false
}

func (s *MemoryStore) detailLocked(c *entity.Conversation) *entity.ConversationDetail {
	d := &entity.ConversationDetail{Conversation: *c}
	d.Participants = append([]string(nil), c.Participants...)
	if p, ok := s.profiles[c.ParticipantOne]; ok {
		cp := *p
		d.ParticipantOneProfile = &cp
	}
	if p, ok := s.profiles[c.ParticipantTwo]; ok {
		cp := *p
		d.ParticipantTwoProfile = &cp
	}
	if c.JobID != "" {
		if j, ok := s.jobs[c.JobID]; ok {
			cj := *j
			d.Job = &cj
		}
	}
	return d
}

type memoryConversationRepository struct {
	store *MemoryStore
}

func (r *memoryConversationRepository) ListForUser(ctx context.Context, userID string) ([]*entity.ConversationDetail, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.ConversationDetail
	for _, c := range r.store.conversations {
		if c.HasParticipant(userID) {
			out = append(out, r.store.detailLocked(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryConversationRepository) GetByID(ctx context.Context, id string) (*entity.ConversationDetail, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	c, ok := r.store.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return r.store.detailLocked(c), nil
}

func (r *memoryConversationRepository) FindByPair(ctx context.Context, userA, userB string) (*entity.ConversationDetail, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	key := entity.PairKey(userA, userB)
	for _, c := range r.store.conversations {
		if c.PairKey == key {
			return r.store.detailLocked(c), nil
		}
	}
	return nil, errors.NotFound("Conversation", nil)
}

func (r *memoryConversationRepository) Insert(ctx context.Context, conversation *entity.Conversation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if conversation.PairKey == "" {
		conversation.PairKey = entity.PairKey(conversation.ParticipantOne, conversation.ParticipantTwo)
	}
	for _, c := range r.store.conversations {
		if c.PairKey == conversation.PairKey {
			return errors.Conflict("Conversation for this pair already exists")
		}
	}
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	c := *conversation
	c.Participants = []string{c.ParticipantOne, c.ParticipantTwo}
	r.store.conversations[c.ID] = &c
	return nil
}

func (r *memoryConversationRepository) UpdatePreview(ctx context.Context, id, preview string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c, ok := r.store.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	c.LastMessage = preview
	c.LastMessageAt = at
	c.UpdatedAt = time.Now()
	return nil
}

type memoryMessageRepository struct {
	store *MemoryStore
}

func (r *memoryMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*entity.Message, 0, len(r.store.messages[conversationID]))
	for _, m := range r.store.messages[conversationID] {
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	list, _ := r.ListByConversation(ctx, conversationID)
	if len(list) == 0 {
		return nil, errors.NotFound("Message", nil)
	}
	return list[len(list)-1], nil
}

func (r *memoryMessageRepository) CountUnread(ctx context.Context, conversationIDs []string, excludingSender string) (map[string]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[string]int)
	for _, id := range conversationIDs {
		for _, m := range r.store.messages[id] {
			if !m.IsRead && m.SenderID != excludingSender {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (r *memoryMessageRepository) MarkRead(ctx context.Context, conversationID, excludingSender string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, m := range r.store.messages[conversationID] {
		if m.SenderID != excludingSender {
			m.IsRead = true
		}
	}
	return nil
}

func (r *memoryMessageRepository) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, m := range r.store.messages[conversationID] {
		if m.ID == messageID {
			m.IsRead = true
			return nil
		}
	}
	return errors.NotFound("Message", nil)
}

func (r *memoryMessageRepository) Insert(ctx context.Context, message *entity.Message) error {
	r.store.mu.Lock()
	if _, ok := r.store.conversations[message.ConversationID]; !ok {
		r.store.mu.Unlock()
		return errors.NotFound("Conversation", nil)
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Pending = false
	message.InsertedAt = time.Now().UTC()
	stored := message.Clone()
	r.store.messages[message.ConversationID] = append(r.store.messages[message.ConversationID], stored)
	r.store.mu.Unlock()

	r.store.publish(stored)
	return nil
}

type memoryProfileRepository struct {
	store *MemoryStore
}

func (r *memoryProfileRepository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p, ok := r.store.profiles[id]
	if !ok {
		return nil, errors.NotFound("Profile", nil)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make(map[string]*entity.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.store.profiles[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

type memoryAttachmentStorage struct {
	store *MemoryStore
}

func (a *memoryAttachmentStorage) Upload(ctx context.Context, path, contentType string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return "", fmt.Errorf("failed to read attachment: %w", err)
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.objects[path] = buf.Bytes()
	return memoryURLPrefix + path, nil
}

func (a *memoryAttachmentStorage) Delete(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, memoryURLPrefix) {
		return fmt.Errorf("invalid attachment URL %q", url)
	}
	path := strings.TrimPrefix(url, memoryURLPrefix)

	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if _, ok := a.store.objects[path]; !ok {
		return errors.NotFound("Attachment", nil)
	}
	delete(a.store.objects, path)
	return nil
}

type memoryMessageFeed struct {
	store *MemoryStore
}

type memorySubscription struct {
	store    *MemoryStore
	id       int
	userID   string
	onInsert func(*entity.Message)
	stop     func() bool
	once     sync.Once
}

func (f *memoryMessageFeed) Subscribe(ctx context.Context, userID string, onInsert func(*entity.Message)) (repository.Subscription, error) {
	f.store.subMu.Lock()
	id := f.store.nextSubID
	f.store.nextSubID++
	sub := &memorySubscription{store: f.store, id: id, userID: userID, onInsert: onInsert}
	f.store.subscribers[id] = sub
	f.store.subMu.Unlock()

	sub.stop = context.AfterFunc(ctx, sub.Unsubscribe)
	return sub, nil
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.store.subMu.Lock()
		delete(s.store.subscribers, s.id)
		s.store.subMu.Unlock()
	})
}

// publish delivers synchronously, in subscription order, outside the table lock.
func (s *MemoryStore) publish(message *entity.Message) {
	s.subMu.RLock()
	targets := make([]*memorySubscription, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		for _, p := range message.ParticipantIDs {
			if p == sub.userID {
				targets = append(targets, sub)
				break
			}
		}
	}
	s.subMu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, sub := range targets {
		sub.onInsert(message.Clone())
	}
}
