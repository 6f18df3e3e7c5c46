package repository

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

const (
	messagesCollection = "messages"

	// Firestore caps the operands of an "in" filter.
	inQueryLimit = 30
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection).Doc(conversationID).Collection(messagesCollection)
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	iter := r.messages(conversationID).OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		message, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (r *firestoreMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	iter := r.messages(conversationID).OrderBy("createdAt", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Message", nil)
		}
		return nil, errors.Internal("Failed to get latest message", err)
	}
	return decodeMessage(doc)
}

// CountUnread runs one collection group query per chunk of conversation ids,
// all chunks in parallel.
func (r *firestoreMessageRepository) CountUnread(ctx context.Context, conversationIDs []string, excludingSender string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(conversationIDs); start += inQueryLimit {
		end := start + inQueryLimit
		if end > len(conversationIDs) {
			end = len(conversationIDs)
		}
		chunk := conversationIDs[start:end]

		g.Go(func() error {
			query := r.client.CollectionGroup(messagesCollection).
				Where("conversationId", "in", chunk).
				Where("isRead", "==", false)

			docs, err := query.Documents(ctx).GetAll()
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, doc := range docs {
				sender, _ := doc.Data()["senderId"].(string)
				if sender == excludingSender {
					continue
				}
				conversationID, _ := doc.Data()["conversationId"].(string)
				counts[conversationID]++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Firestore error while counting unread messages: %v", err)
		return nil, errors.Internal("Failed to count unread messages", err)
	}
	return counts, nil
}

// MarkRead flips every unread message of the counterpart with a BulkWriter.
func (r *firestoreMessageRepository) MarkRead(ctx context.Context, conversationID, excludingSender string) error {
	docs, err := r.messages(conversationID).Where("isRead", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return errors.Internal("Failed to query unread messages", err)
	}

	bw := r.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, doc := range docs {
		if sender, _ := doc.Data()["senderId"].(string); sender == excludingSender {
			continue
		}
		job, err := bw.Update(doc.Ref, []firestore.Update{{Path: "isRead", Value: true}})
		if err != nil {
			bw.End()
			return errors.Internal("Failed to enqueue read update", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	failed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			logger.Warn("MarkRead Warning: Failed to mark message read in conversation %s: %v", conversationID, err)
		}
	}
	if failed > 0 {
		return errors.Internal("Failed to mark messages as read", nil)
	}
	return nil
}

func (r *firestoreMessageRepository) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	_, err := r.messages(conversationID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "isRead", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", err)
		}
		return errors.Internal("Failed to update message read status", err)
	}
	return nil
}

func (r *firestoreMessageRepository) Insert(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Pending = false

	_, err := r.messages(message.ConversationID).Doc(message.ID).Create(ctx, message)
	if err != nil {
		logger.Error("Firestore error while creating message in conversation %s: %v", message.ConversationID, err)
		return errors.Internal("Failed to create message", err)
	}
	return nil
}

func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		logger.Error("Error parsing message %s: %v", doc.Ref.ID, err)
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	if message.Attachments == nil {
		message.Attachments = []entity.Attachment{}
	}
	return &message, nil
}
