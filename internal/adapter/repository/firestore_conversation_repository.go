package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fixmate/internal/domain/entity"
	"fixmate/internal/domain/repository"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

const (
	conversationsCollection = "conversations"
	jobsCollection          = "jobs"
)

type firestoreConversationRepository struct {
	client   *firestore.Client
	profiles repository.ProfileRepository
}

func NewFirestoreConversationRepository(client *firestore.Client, profiles repository.ProfileRepository) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client:   client,
		profiles: profiles,
	}
}

func (r *firestoreConversationRepository) ListForUser(ctx context.Context, userID string) ([]*entity.ConversationDetail, error) {
	// Sorted in memory so no composite index is needed.
	query := r.client.Collection(conversationsCollection).Where("participants", "array-contains", userID)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while listing conversations for user %s: %v", userID, err)
		return nil, errors.Internal("Failed to list conversations", err)
	}

	conversations := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		conversation, err := decodeConversation(doc)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}

	details, err := r.join(ctx, conversations)
	if err != nil {
		return nil, err
	}

	sort.Slice(details, func(i, j int) bool {
		if !details[i].LastMessageAt.Equal(details[j].LastMessageAt) {
			return details[i].LastMessageAt.After(details[j].LastMessageAt)
		}
		return details[i].ID < details[j].ID
	})
	return details, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.ConversationDetail, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	conversation, err := decodeConversation(doc)
	if err != nil {
		return nil, err
	}
	details, err := r.join(ctx, []*entity.Conversation{conversation})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

func (r *firestoreConversationRepository) FindByPair(ctx context.Context, userA, userB string) (*entity.ConversationDetail, error) {
	iter := r.pairQuery(userA, userB).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, errors.Internal("Failed to query conversation by participants", err)
	}

	conversation, err := decodeConversation(doc)
	if err != nil {
		return nil, err
	}
	details, err := r.join(ctx, []*entity.Conversation{conversation})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

// Insert checks for an existing pair and writes the row in one transaction,
// so two processes cannot both create the same pair.
func (r *firestoreConversationRepository) Insert(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.PairKey == "" {
		conversation.PairKey = entity.PairKey(conversation.ParticipantOne, conversation.ParticipantTwo)
	}
	conversation.Participants = []string{conversation.ParticipantOne, conversation.ParticipantTwo}

	query := r.pairQuery(conversation.ParticipantOne, conversation.ParticipantTwo)
	ref := r.client.Collection(conversationsCollection).Doc(conversation.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return errors.Conflict("Conversation for this pair already exists")
		}
		return tx.Create(ref, conversation)
	})
	if err != nil {
		if errors.Is(err, errors.CodeConflict) {
			return err
		}
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists")
		}
		logger.Error("Firestore error while creating conversation %s: %v", conversation.ID, err)
		return errors.Internal("Failed to create conversation", err)
	}
	return nil
}

func (r *firestoreConversationRepository) UpdatePreview(ctx context.Context, id, preview string, at time.Time) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: preview},
		{Path: "lastMessageAt", Value: at},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to update conversation preview", err)
	}
	return nil
}

func (r *firestoreConversationRepository) pairQuery(userA, userB string) firestore.Query {
	return r.client.Collection(conversationsCollection).
		Where("pairKey", "==", entity.PairKey(userA, userB)).
		Limit(1)
}

// join attaches participant profiles and the job in two batched reads.
func (r *firestoreConversationRepository) join(ctx context.Context, conversations []*entity.Conversation) ([]*entity.ConversationDetail, error) {
	details := make([]*entity.ConversationDetail, 0, len(conversations))
	if len(conversations) == 0 {
		return details, nil
	}

	userIDs := make([]string, 0, len(conversations)*2)
	seenUsers := make(map[string]bool)
	var jobRefs []*firestore.DocumentRef
	seenJobs := make(map[string]bool)
	for _, c := range conversations {
		for _, id := range []string{c.ParticipantOne, c.ParticipantTwo} {
			if id != "" && !seenUsers[id] {
				seenUsers[id] = true
				userIDs = append(userIDs, id)
			}
		}
		if c.JobID != "" && !seenJobs[c.JobID] {
			seenJobs[c.JobID] = true
			jobRefs = append(jobRefs, r.client.Collection(jobsCollection).Doc(c.JobID))
		}
	}

	profiles, err := r.profiles.GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	jobs := make(map[string]*entity.JobContext, len(jobRefs))
	if len(jobRefs) > 0 {
		jobDocs, err := r.client.GetAll(ctx, jobRefs)
		if err != nil {
			return nil, errors.Internal("Failed to get jobs", err)
		}
		for _, doc := range jobDocs {
			if !doc.Exists() {
				continue
			}
			var job entity.JobContext
			if err := doc.DataTo(&job); err != nil {
				logger.Warn("Error parsing job %s: %v", doc.Ref.ID, err)
				continue
			}
			job.ID = doc.Ref.ID
			jobs[job.ID] = &job
		}
	}

	for _, c := range conversations {
		details = append(details, &entity.ConversationDetail{
			Conversation:          *c,
			ParticipantOneProfile: profiles[c.ParticipantOne],
			ParticipantTwoProfile: profiles[c.ParticipantTwo],
			Job:                   jobs[c.JobID],
		})
	}
	return details, nil
}

func decodeConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		logger.Error("Error parsing conversation %s: %v", doc.Ref.ID, err)
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conversation.ID = doc.Ref.ID
	return &conversation, nil
}
