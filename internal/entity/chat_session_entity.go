package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatSession struct {
	Id           uuid.UUID
	DocumentId   string
	DocumentName string
	Messages     []ChatMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a copy whose message slice can be modified freely.
func (s *ChatSession) Clone() *ChatSession {
	out := *s
	out.Messages = append([]ChatMessage(nil), s.Messages...)
	return &out
}
