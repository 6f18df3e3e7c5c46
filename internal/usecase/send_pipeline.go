package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

const (
	DefaultMaxAttachments     = 10
	DefaultMaxAttachmentBytes = 25 << 20

	tempIDPrefix = "temp-"
)

// SendLimits bounds what a single send may carry.
type SendLimits struct {
	MaxAttachments       int
	MaxAttachmentBytes   int64
	CleanupFailedUploads bool
}

func (l SendLimits) withDefaults() SendLimits {
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = DefaultMaxAttachments
	}
	if l.MaxAttachmentBytes <= 0 {
		l.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	return l
}

// FileUpload is one attachment chosen by the user, in selection order.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

type SendInput struct {
	ConversationID string
	Text           string
	Files          []FileUpload
	// OnProgress receives completed/total after each upload.
	OnProgress func(progress float64)
}

// SendError reports a failed send. Draft is the caller's original text so
// the input can be restored.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type SendPipeline struct {
	userID        string
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	storage       repository.AttachmentStorage
	convStore     *ConversationStore
	msgStore      *MessageStore
	limits        SendLimits
	now           func() time.Time
}

func NewSendPipeline(
	userID string,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	storage repository.AttachmentStorage,
	convStore *ConversationStore,
	msgStore *MessageStore,
	limits SendLimits,
) *SendPipeline {
	return &SendPipeline{
		userID:        userID,
		conversations: conversations,
		messages:      messages,
		storage:       storage,
		convStore:     convStore,
		msgStore:      msgStore,
		limits:        limits.withDefaults(),
		now:           time.Now,
	}
}

// Send shows the message optimistically, uploads attachments one by one,
// persists the row and reconciles it. Any failure rolls the optimistic
// message back and returns a *SendError.
func (p *SendPipeline) Send(ctx context.Context, input SendInput) (*entity.Message, error) {
	text := strings.TrimSpace(input.Text)
	fail := func(err error) error {
		return &SendError{Draft: input.Text, Err: err}
	}

	if err := p.validate(text, input.Files); err != nil {
		return nil, fail(err)
	}

	conversation, err := p.resolveConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, fail(err)
	}

	now := p.now().UTC()
	messageID := uuid.New().String()
	pending := &entity.Message{
		ID:             tempIDFor(messageID),
		ConversationID: conversation.ID,
		SenderID:       p.userID,
		ParticipantIDs: []string{conversation.ParticipantOne, conversation.ParticipantTwo},
		Text:           text,
		Attachments:    []entity.Attachment{},
		IsRead:         false,
		CreatedAt:      now,
		Pending:        true,
	}
	p.msgStore.AppendOptimistic(pending)

	uploaded := make([]entity.Attachment, 0, len(input.Files))
	rollback := func(cause error) error {
		p.msgStore.Rollback(pending.ID)
		p.cleanup(ctx, uploaded)
		return fail(cause)
	}

	total := len(input.Files)
	for i, file := range input.Files {
		mediaType, _ := entity.MediaTypeFromContentType(file.ContentType)
		path := attachmentPath(conversation.ID, file.Name)
		url, err := p.storage.Upload(ctx, path, file.ContentType, file.Content)
		if err != nil {
			logger.Error("SendMessage Error: Failed to upload attachment %d/%d to conversation %s: %v", i+1, total, conversation.ID, err)
			return nil, rollback(uploadError(err))
		}
		uploaded = append(uploaded, entity.Attachment{URL: url, Type: mediaType})
		if input.OnProgress != nil {
			input.OnProgress(float64(i+1) / float64(total))
		}
	}

	message := &entity.Message{
		ID:             messageID,
		ConversationID: conversation.ID,
		SenderID:       p.userID,
		ParticipantIDs: pending.ParticipantIDs,
		Text:           text,
		Attachments:    uploaded,
		IsRead:         false,
		CreatedAt:      now,
	}
	preview := message.Preview()

	if err := p.messages.Insert(ctx, message); err != nil {
		logger.Error("SendMessage Error: Failed to insert message into conversation %s: %v", conversation.ID, err)
		return nil, rollback(err)
	}
	p.msgStore.Reconcile(pending.ID, message)

	if err := p.conversations.UpdatePreview(ctx, conversation.ID, preview, message.CreatedAt); err != nil {
		logger.Warn("SendMessage Warning: Failed to update preview of conversation %s: %v", conversation.ID, err)
	}
	p.convStore.PatchOnSend(conversation.ID, preview, message.CreatedAt)

	return message.Clone(), nil
}

func (p *SendPipeline) validate(text string, files []FileUpload) error {
	if text == "" && len(files) == 0 {
		return errors.BadRequest("Message must contain text or at least one attachment", nil)
	}
	if len(files) > p.limits.MaxAttachments {
		return errors.BadRequest(fmt.Sprintf("A message can carry at most %d attachments", p.limits.MaxAttachments), nil)
	}
	for _, f := range files {
		if _, ok := entity.MediaTypeFromContentType(f.ContentType); !ok {
			return errors.BadRequest(fmt.Sprintf("Attachment %q must be an image or a video", f.Name), nil)
		}
		if f.Size > p.limits.MaxAttachmentBytes {
			return errors.BadRequest(fmt.Sprintf("Attachment %q exceeds %d bytes", f.Name, p.limits.MaxAttachmentBytes), nil)
		}
		if f.Content == nil {
			return errors.BadRequest(fmt.Sprintf("Attachment %q has no content", f.Name), nil)
		}
	}
	return nil
}

func (p *SendPipeline) resolveConversation(ctx context.Context, conversationID string) (*entity.ConversationDetail, error) {
	if conversationID == "" {
		return nil, errors.BadRequest("Conversation id is required", nil)
	}
	conversation, ok := p.convStore.Get(conversationID)
	if !ok {
		var err error
		conversation, err = p.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	}
	if !conversation.HasParticipant(p.userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conversation, nil
}

// cleanup deletes attachments uploaded by a send that later failed.
func (p *SendPipeline) cleanup(ctx context.Context, uploaded []entity.Attachment) {
	if !p.limits.CleanupFailedUploads || len(uploaded) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, a := range uploaded {
		if err := p.storage.Delete(ctx, a.URL); err != nil {
			logger.Warn("SendMessage Warning: Failed to delete orphaned attachment %s: %v", a.URL, err)
		}
	}
}

// uploadError keeps typed storage errors and wraps anything else.
func uploadError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.Internal("Failed to upload attachment", err)
}

func attachmentPath(conversationID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("conversations/%s/%s%s", conversationID, uuid.New().String(), ext)
}
