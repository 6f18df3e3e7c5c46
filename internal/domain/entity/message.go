package entity

import (
	"strings"
	"time"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaTypeFromContentType maps a MIME type onto an attachment tag.
func MediaTypeFromContentType(contentType string) (MediaType, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo, true
	}
	return "", false
}

type Attachment struct {
	URL  string    `json:"url" firestore:"url"`
	Type MediaType `json:"type" firestore:"type"`
}

type Message struct {
	ID             string       `json:"id" firestore:"id"`
	ConversationID string       `json:"conversation_id" firestore:"conversationId"`
	SenderID       string       `json:"sender_id" firestore:"senderId"`
	ParticipantIDs []string     `json:"-" firestore:"participantIds"`
	Text           string       `json:"text,omitempty" firestore:"text"`
	Attachments    []Attachment `json:"attachments" firestore:"attachments"`
	IsRead         bool         `json:"is_read" firestore:"isRead"`
	CreatedAt      time.Time    `json:"created_at" firestore:"createdAt"`

	// InsertedAt is stamped by the store when the row is written. CreatedAt
	// is the sender's clock and can predate the write by a whole upload.
	InsertedAt time.Time `json:"-" firestore:"insertedAt,serverTimestamp"`

	// Pending marks an optimistic local copy awaiting its persisted row.
	Pending bool `json:"_pending,omitempty" firestore:"-"`
}

func (m *Message) Clone() *Message {
	out := *m
	out.ParticipantIDs = append([]string(nil), m.ParticipantIDs...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	return &out
}
