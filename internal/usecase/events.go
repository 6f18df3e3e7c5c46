package usecase

import (
	"sync"

	"fixmate/internal/domain/entity"
)

type EventType string

const (
	EventConversationsLoaded EventType = "conversations_loaded"
	EventConversationUpdated EventType = "conversation_updated"
	EventMessagesLoaded      EventType = "messages_loaded"
	EventMessageAppended     EventType = "message_appended"
	EventMessageReconciled   EventType = "message_reconciled"
	EventMessageRemoved      EventType = "message_removed"
	EventUnreadChanged       EventType = "unread_changed"
	EventUploadProgress      EventType = "upload_progress"
	EventConversationClosed  EventType = "conversation_closed"
)

// Event is a change to a session's observable state.
type Event struct {
	Type           EventType                    `json:"type"`
	ConversationID string                       `json:"conversation_id,omitempty"`
	Conversation   *entity.ConversationDetail   `json:"conversation,omitempty"`
	Conversations  []*entity.ConversationDetail `json:"conversations,omitempty"`
	Message        *entity.Message              `json:"message,omitempty"`
	Messages       []*entity.Message            `json:"messages,omitempty"`
	TempID         string                       `json:"temp_id,omitempty"`
	UnreadTotal    int                          `json:"unread_total"`
	Progress       float64                      `json:"progress,omitempty"`
}

type eventHub struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Event)
}

func newEventHub() *eventHub {
	return &eventHub{listeners: make(map[int]func(Event))}
}

func (h *eventHub) subscribe(listener func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = listener
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// emit calls listeners synchronously. Callers must not hold store locks.
func (h *eventHub) emit(event Event) {
	h.mu.RLock()
	listeners := make([]func(Event), 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}
