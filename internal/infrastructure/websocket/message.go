package websocket

import (
	"encoding/json"
	"time"
)

// Inbound frame types.
const (
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
	MessageTypeCloseConversation = "close_conversation"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

func Encode(messageType, conversationID string, data interface{}) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:           messageType,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

func Decode(payload []byte) (*WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
