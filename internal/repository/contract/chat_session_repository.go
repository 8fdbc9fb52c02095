package contract

import (
	"context"
	"errors"

	"docchat/internal/entity"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("chat session not found")

type ChatSessionRepository interface {
	Create(ctx context.Context, session *entity.ChatSession) error
	FindOne(ctx context.Context, id uuid.UUID) (*entity.ChatSession, error)
	// AppendMessages adds messages to the end of the session's conversation.
	AppendMessages(ctx context.Context, id uuid.UUID, messages ...entity.ChatMessage) (*entity.ChatSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
