package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixmate/internal/domain/entity"
)

func deliver(t *testing.T, s *ChatSession, m *entity.Message) {
	t.Helper()
	require.NoError(t, s.deps.Messages.Insert(context.Background(), m))
}

func TestRealtimeBridge_StartIsIdempotent(t *testing.T) {
	store := newPlatform()
	alice := NewChatSession("alice", depsFor(store))

	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, alice.Start(context.Background()))
	assert.True(t, alice.Subscribed())
	assert.Equal(t, 1, store.SubscriberCount())

	alice.Close()
	assert.False(t, alice.Subscribed())
	assert.Equal(t, 0, store.SubscriberCount())

	alice.Close()
	require.NoError(t, alice.Start(context.Background()))
	assert.Equal(t, 1, store.SubscriberCount())
	alice.Close()
}

func TestRealtimeBridge_ContextEndUnsubscribes(t *testing.T) {
	store := newPlatform()
	ctx, cancel := context.WithCancel(context.Background())
	alice := NewChatSession("alice", depsFor(store))
	require.NoError(t, alice.Start(ctx))
	require.Equal(t, 1, store.SubscriberCount())

	cancel()
	assert.Eventually(t, func() bool { return store.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
	alice.Close()
}

func TestRealtimeBridge_ActiveConversation(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	alice := startSession(t, "alice", depsFor(store))
	openConversation(t, alice, "c1")

	m := &entity.Message{
		ConversationID: "c1",
		SenderID:       "bob",
		ParticipantIDs: []string{"bob", "alice"},
		Text:           "I'm outside",
		CreatedAt:      baseTime.Add(time.Minute),
	}
	deliver(t, alice, m)

	list := alice.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, m.ID, list[0].ID)
	assert.True(t, list[0].IsRead)
	assert.Equal(t, 0, alice.UnreadTotal())

	stored, ok := store.StoredMessage("c1", m.ID)
	require.True(t, ok)
	assert.True(t, stored.IsRead)

	c1, _ := alice.Conversation("c1")
	assert.Equal(t, "I'm outside", c1.LastMessage)
}

func TestRealtimeBridge_BackgroundConversation(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	seedConversation(store, "c2", "alice", "carol", baseTime)
	alice := startSession(t, "alice", depsFor(store))
	openConversation(t, alice, "c2")
	events := record(alice)

	deliver(t, alice, &entity.Message{
		ConversationID: "c1",
		SenderID:       "bob",
		ParticipantIDs: []string{"bob", "alice"},
		Attachments:    []entity.Attachment{{URL: "memory://attachments/x.mp4", Type: entity.MediaVideo}},
		CreatedAt:      baseTime.Add(time.Minute),
	})

	assert.Empty(t, alice.Messages(), "nothing leaks into the active conversation")
	assert.Equal(t, 1, alice.UnreadTotal())
	c1, _ := alice.Conversation("c1")
	assert.Equal(t, entity.VideoPreview, c1.LastMessage)
	assert.Equal(t, 1, c1.UnreadCount)
	assert.Equal(t, "c1", alice.Conversations()[0].ID)
	assert.NoError(t, alice.conversations.CheckUnreadInvariant())

	unread := events.ofType(EventUnreadChanged)
	require.NotEmpty(t, unread)
	assert.Equal(t, 1, unread[len(unread)-1].UnreadTotal)
}

func TestRealtimeBridge_IgnoresOwnAndEmptyMessages(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	alice := startSession(t, "alice", depsFor(store))
	_, err := alice.LoadConversations(context.Background())
	require.NoError(t, err)

	alice.bridge.handleInsert(&entity.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Text:           "from another tab",
		CreatedAt:      baseTime.Add(time.Minute),
	})
	alice.bridge.handleInsert(&entity.Message{
		ID:             "m2",
		ConversationID: "c1",
		SenderID:       "bob",
		Text:           "   ",
		CreatedAt:      baseTime.Add(time.Minute),
	})
	alice.bridge.handleInsert(nil)

	assert.Equal(t, 0, alice.UnreadTotal())
	c1, _ := alice.Conversation("c1")
	assert.Equal(t, entity.PlaceholderPreview, c1.LastMessage)
}

func TestRealtimeBridge_UnknownConversation(t *testing.T) {
	store := newPlatform()
	alice := startSession(t, "alice", depsFor(store))
	_, err := alice.LoadConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, alice.Conversations())

	seedConversation(store, "c9", "bob", "alice", baseTime)
	deliver(t, alice, &entity.Message{
		ConversationID: "c9",
		SenderID:       "bob",
		ParticipantIDs: []string{"bob", "alice"},
		Text:           "New job for you",
		CreatedAt:      baseTime.Add(time.Minute),
	})

	c9, ok := alice.Conversation("c9")
	require.True(t, ok)
	assert.Equal(t, "New job for you", c9.LastMessage)
	assert.Equal(t, 1, c9.UnreadCount)
	assert.Equal(t, 1, alice.UnreadTotal())
	require.NotNil(t, c9.Counterpart("alice"))
	assert.Equal(t, "Bob's Plumbing", c9.Counterpart("alice").DisplayName)
}

func TestRealtimeBridge_IgnoresForeignConversation(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "bob", "carol", baseTime)
	alice := startSession(t, "alice", depsFor(store))

	alice.bridge.handleInsert(&entity.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "bob",
		Text:           "not for alice",
		CreatedAt:      baseTime.Add(time.Minute),
	})

	_, ok := alice.Conversation("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, alice.UnreadTotal())
}
