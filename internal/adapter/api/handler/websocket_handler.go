package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"fixmate/internal/adapter/api/middleware"
	"fixmate/internal/infrastructure/websocket"
	"fixmate/internal/usecase"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams session events to the browser.
type WebSocketHandler struct {
	wsManager *websocket.Manager
	registry  *usecase.SessionRegistry
}

func NewWebSocketHandler(wsManager *websocket.Manager, registry *usecase.SessionRegistry) *WebSocketHandler {
	h := &WebSocketHandler{
		wsManager: wsManager,
		registry:  registry,
	}
	registry.OnEvent(h.forward)
	return h
}

// forward pushes a session event to every connection of its user.
func (h *WebSocketHandler) forward(userID string, event usecase.Event) {
	frame, err := websocket.Encode(string(event.Type), event.ConversationID, event)
	if err != nil {
		logger.Error("WebSocket Error: Failed to encode %s event for user %s: %v", event.Type, userID, err)
		return
	}
	h.wsManager.SendToUser(userID, frame)
}

func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	session, _, err := h.registry.Open(userID)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket Error: Failed to upgrade connection for user %s: %v", userID, err)
		return nil
	}

	client := websocket.NewClient(userID, conn)
	client.OnMessage = func(client *websocket.Client, payload []byte) {
		h.handleFrame(session, client, payload)
	}
	h.wsManager.Register <- client

	// The new connection starts from the current state.
	h.reply(client, string(usecase.EventConversationsLoaded), "", usecase.Event{
		Type:          usecase.EventConversationsLoaded,
		Conversations: session.Conversations(),
		UnreadTotal:   session.UnreadTotal(),
	})

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}

func (h *WebSocketHandler) handleFrame(session *usecase.ChatSession, client *websocket.Client, payload []byte) {
	msg, err := websocket.Decode(payload)
	if err != nil {
		h.reply(client, websocket.MessageTypeError, "", map[string]string{"message": "Invalid message format"})
		return
	}

	switch msg.Type {
	case websocket.MessageTypePing:
		h.reply(client, websocket.MessageTypePong, "", nil)
	case websocket.MessageTypeCloseConversation:
		session.CloseConversation()
	default:
		h.reply(client, websocket.MessageTypeError, msg.ConversationID, map[string]string{"message": "Unsupported message type: " + msg.Type})
	}
}

// reply writes to one connection only. A full or closed buffer drops the frame.
func (h *WebSocketHandler) reply(client *websocket.Client, messageType, conversationID string, data interface{}) {
	frame, err := websocket.Encode(messageType, conversationID, data)
	if err != nil {
		logger.Error("WebSocket Error: Failed to encode %s frame: %v", messageType, err)
		return
	}
	if !h.wsManager.SendToClient(client, frame) {
		logger.Warn("WebSocket Warning: Dropping %s frame for user %s", messageType, client.UserID)
	}
}
