package usecase

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixmate/internal/domain/entity"
	"fixmate/pkg/errors"
)

func openConversation(t *testing.T, s *ChatSession, conversationID string) {
	t.Helper()
	_, err := s.LoadConversations(context.Background())
	require.NoError(t, err)
	_, err = s.LoadMessages(context.Background(), conversationID)
	require.NoError(t, err)
}

func TestSendPipeline_TextMessage(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	alice := startSession(t, "alice", depsFor(store))
	useClock(alice, newClock(baseTime.Add(time.Minute)))
	openConversation(t, alice, "c1")
	events := record(alice)

	message, err := alice.SendMessage(context.Background(), SendInput{ConversationID: "c1", Text: "  Hi there  "})
	require.NoError(t, err)

	assert.NotEmpty(t, message.ID)
	assert.False(t, strings.HasPrefix(message.ID, tempIDPrefix))
	assert.Equal(t, "Hi there", message.Text)
	assert.Empty(t, message.Attachments)

	list := alice.Messages()
	require.Len(t, list, 1, "the optimistic copy is replaced, not duplicated")
	assert.Equal(t, message.ID, list[0].ID)
	assert.False(t, list[0].Pending)

	appended := events.ofType(EventMessageAppended)
	require.Len(t, appended, 1)
	assert.True(t, appended[0].Message.Pending)
	assert.Equal(t, tempIDFor(message.ID), appended[0].Message.ID)
	reconciled := events.ofType(EventMessageReconciled)
	require.Len(t, reconciled, 1)
	assert.Equal(t, appended[0].Message.ID, reconciled[0].TempID)

	c1, ok := alice.Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, "Hi there", c1.LastMessage)
	assert.Equal(t, message.CreatedAt, c1.LastMessageAt)

	persisted, err := store.Conversations().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", persisted.LastMessage)
}

func TestSendPipeline_ImageOnlyMessage(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	alice := startSession(t, "alice", depsFor(store))
	useClock(alice, newClock(baseTime.Add(time.Minute)))
	openConversation(t, alice, "c1")

	var progress []float64
	message, err := alice.SendMessage(context.Background(), SendInput{
		ConversationID: "c1",
		Files: []FileUpload{
			textFile("leak.JPG", "image/jpeg", "jpeg-bytes"),
			textFile("pipe.mp4", "video/mp4", "mp4-bytes"),
		},
		OnProgress: func(p float64) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	require.Len(t, message.Attachments, 2)
	assert.Equal(t, entity.MediaImage, message.Attachments[0].Type)
	assert.Equal(t, entity.MediaVideo, message.Attachments[1].Type)
	assert.True(t, strings.HasSuffix(message.Attachments[0].URL, ".jpg"))
	assert.Equal(t, []float64{0.5, 1}, progress)
	assert.Equal(t, 2, store.ObjectCount())

	persisted, err := store.Conversations().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, entity.PhotoPreview, persisted.LastMessage)

	c1, _ := alice.Conversation("c1")
	assert.Equal(t, entity.PhotoPreview, c1.LastMessage)
}

func TestSendPipeline_SecondUploadFails(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	storage := &flakyStorage{AttachmentStorage: store.Attachments(), failOn: 2}
	deps := depsFor(store)
	deps.Storage = storage
	alice := startSession(t, "alice", deps)
	openConversation(t, alice, "c1")
	events := record(alice)

	_, err := alice.SendMessage(context.Background(), SendInput{
		ConversationID: "c1",
		Text:           "Photos of the damage",
		Files: []FileUpload{
			textFile("a.png", "image/png", "first"),
			textFile("b.png", "image/png", "second"),
		},
	})
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, stderrors.As(err, &sendErr))
	assert.Equal(t, "Photos of the damage", sendErr.Draft)

	assert.Empty(t, alice.Messages(), "optimistic message is rolled back")
	assert.Len(t, events.ofType(EventMessageRemoved), 1)

	list, err := store.Messages().ListByConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, list, "no message row is written")

	assert.Len(t, storage.deleted, 1, "the first upload is cleaned up")
	assert.Equal(t, 0, store.ObjectCount())

	c1, _ := alice.Conversation("c1")
	assert.Equal(t, entity.PlaceholderPreview, c1.LastMessage)
}

func TestSendPipeline_CleanupDisabledKeepsUploads(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	deps := depsFor(store)
	deps.Storage = &flakyStorage{AttachmentStorage: store.Attachments(), failOn: 2}
	deps.Limits.CleanupFailedUploads = false
	alice := startSession(t, "alice", deps)
	openConversation(t, alice, "c1")

	_, err := alice.SendMessage(context.Background(), SendInput{
		ConversationID: "c1",
		Files: []FileUpload{
			textFile("a.png", "image/png", "first"),
			textFile("b.png", "image/png", "second"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, store.ObjectCount())
}

func TestSendPipeline_InsertFailureRollsBack(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	deps := depsFor(store)
	deps.Messages = &scriptedMessages{MessageRepository: store.Messages(), failInsert: true}
	alice := startSession(t, "alice", deps)
	openConversation(t, alice, "c1")

	_, err := alice.SendMessage(context.Background(), SendInput{
		ConversationID: "c1",
		Text:           "Will this arrive?",
		Files:          []FileUpload{textFile("a.png", "image/png", "bytes")},
	})

	var sendErr *SendError
	require.True(t, stderrors.As(err, &sendErr))
	assert.Equal(t, "Will this arrive?", sendErr.Draft)
	assert.True(t, errors.Is(sendErr.Err, errors.CodeInternal))
	assert.Empty(t, alice.Messages())
	assert.Equal(t, 0, store.ObjectCount())
}

func TestSendPipeline_Validation(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	seedConversation(store, "c2", "bob", "carol", baseTime)
	deps := depsFor(store)
	deps.Limits.MaxAttachments = 2
	deps.Limits.MaxAttachmentBytes = 8
	alice := startSession(t, "alice", deps)

	tests := []struct {
		name  string
		input SendInput
		code  string
	}{
		{
			name:  "empty message",
			input: SendInput{ConversationID: "c1", Text: "   "},
			code:  errors.CodeBadRequest,
		},
		{
			name:  "missing conversation id",
			input: SendInput{Text: "hi"},
			code:  errors.CodeBadRequest,
		},
		{
			name: "too many attachments",
			input: SendInput{ConversationID: "c1", Files: []FileUpload{
				textFile("a.png", "image/png", "a"),
				textFile("b.png", "image/png", "b"),
				textFile("c.png", "image/png", "c"),
			}},
			code: errors.CodeBadRequest,
		},
		{
			name:  "unsupported media type",
			input: SendInput{ConversationID: "c1", Files: []FileUpload{textFile("quote.pdf", "application/pdf", "a")}},
			code:  errors.CodeBadRequest,
		},
		{
			name:  "attachment too large",
			input: SendInput{ConversationID: "c1", Files: []FileUpload{textFile("big.png", "image/png", "123456789")}},
			code:  errors.CodeBadRequest,
		},
		{
			name:  "not a participant",
			input: SendInput{ConversationID: "c2", Text: "hi"},
			code:  errors.CodeForbidden,
		},
		{
			name:  "unknown conversation",
			input: SendInput{ConversationID: "nope", Text: "hi"},
			code:  errors.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := alice.SendMessage(context.Background(), tt.input)
			var sendErr *SendError
			require.True(t, stderrors.As(err, &sendErr))
			assert.Equal(t, tt.input.Text, sendErr.Draft)
			assert.True(t, errors.Is(sendErr.Err, tt.code), "got %v", sendErr.Err)
		})
	}

	assert.Equal(t, 0, store.ObjectCount())
}

func TestSendPipeline_RateLimited(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	deps := depsFor(store)
	deps.Limiter = stubLimiter{deny: map[string]bool{ActionSendMessage: true}}
	alice := startSession(t, "alice", deps)

	_, err := alice.SendMessage(context.Background(), SendInput{ConversationID: "c1", Text: "spam"})
	var sendErr *SendError
	require.True(t, stderrors.As(err, &sendErr))
	assert.Equal(t, "spam", sendErr.Draft)
	assert.True(t, errors.Is(sendErr.Err, errors.CodeTooManyRequests))

	list, err := store.Messages().ListByConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendPipeline_TypedUploadErrorPassesThrough(t *testing.T) {
	store := newPlatform()
	seedConversation(store, "c1", "alice", "bob", baseTime)
	deps := depsFor(store)
	deps.Storage = rejectingStorage{}
	alice := startSession(t, "alice", deps)

	_, err := alice.SendMessage(context.Background(), SendInput{
		ConversationID: "c1",
		Files:          []FileUpload{textFile("a.png", "image/png", "bytes")},
	})
	assert.True(t, errors.Is(err, "STORAGE_DISABLED"))
}
