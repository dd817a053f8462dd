package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a relayed room message. Nothing is persisted server-side;
// clients keep their own ordered history for the duration of the session.
type ChatMessage struct {
	ID        uuid.UUID
	Room      string
	From      string
	Username  string
	Content   string
	CreatedAt time.Time
}

func NewChatMessage(sender *Client, content string) *ChatMessage {
	msg := &ChatMessage{
		ID:        uuid.New(),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if sender != nil {
		msg.Room = sender.Room
		msg.From = sender.ID
		msg.Username = sender.Username
	}
	return msg
}
