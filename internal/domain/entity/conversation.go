package entity

import (
	"sort"
	"strings"
	"time"
)

// PlaceholderPreview is the cached preview of a conversation without messages.
const PlaceholderPreview = "No messages yet"

type Conversation struct {
	ID             string    `json:"id" firestore:"id"`
	ParticipantOne string    `json:"participant_one" firestore:"participantOne"`
	ParticipantTwo string    `json:"participant_two" firestore:"participantTwo"`
	Participants   []string  `json:"-" firestore:"participants"`
	PairKey        string    `json:"-" firestore:"pairKey"`
	JobID          string    `json:"job_id,omitempty" firestore:"jobId,omitempty"`
	LastMessage    string    `json:"last_message" firestore:"lastMessage"`
	LastMessageAt  time.Time `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"updatedAt"`
}

// NewConversation builds an unsaved two-party conversation stamped with now.
func NewConversation(userA, userB, jobID string, now time.Time) *Conversation {
	return &Conversation{
		ParticipantOne: userA,
		ParticipantTwo: userB,
		Participants:   []string{userA, userB},
		PairKey:        PairKey(userA, userB),
		JobID:          jobID,
		LastMessage:    PlaceholderPreview,
		LastMessageAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// PairKey is order independent: PairKey(a, b) == PairKey(b, a).
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantOne == userID || c.ParticipantTwo == userID)
}

// OtherParticipant returns the id that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantOne == userID {
		return c.ParticipantTwo
	}
	return c.ParticipantOne
}

// NeedsPreviewRepair reports whether the cached preview may be missing. An
// empty preview always qualifies. The placeholder only qualifies once the
// conversation has seen activity since it was created, since a new
// conversation shows it legitimately.
func (c *Conversation) NeedsPreviewRepair() bool {
	switch c.LastMessage {
	case "":
		return true
	case PlaceholderPreview:
		return c.CreatedAt.IsZero() || c.LastMessageAt.After(c.CreatedAt)
	}
	return false
}

// ShowsPlaceholder is true while no real preview has been cached.
func (c *Conversation) ShowsPlaceholder() bool {
	return c.LastMessage == "" || c.LastMessage == PlaceholderPreview
}

// ConversationDetail is a conversation as seen by one viewer.
type ConversationDetail struct {
	Conversation
	ParticipantOneProfile *Profile    `json:"participant_one_profile,omitempty"`
	ParticipantTwoProfile *Profile    `json:"participant_two_profile,omitempty"`
	Job                   *JobContext `json:"job,omitempty"`
	UnreadCount           int         `json:"unread_count"`
}

// Counterpart returns the profile of the participant who is not viewerID.
func (d *ConversationDetail) Counterpart(viewerID string) *Profile {
	if d.ParticipantOne == viewerID {
		return d.ParticipantTwoProfile
	}
	return d.ParticipantOneProfile
}

// Clone copies the detail so callers can read it without holding store locks.
func (d *ConversationDetail) Clone() *ConversationDetail {
	out := *d
	out.Participants = append([]string(nil), d.Participants...)
	if d.ParticipantOneProfile != nil {
		p := *d.ParticipantOneProfile
		out.ParticipantOneProfile = &p
	}
	if d.ParticipantTwoProfile != nil {
		p := *d.ParticipantTwoProfile
		out.ParticipantTwoProfile = &p
	}
	if d.Job != nil {
		j := *d.Job
		out.Job = &j
	}
	return &out
}
