package mapper

import (
	"docchat/internal/dto"
	"docchat/internal/entity"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToResponse(s *entity.ChatSession) *dto.ChatSessionResponse {
	if s == nil {
		return nil
	}
	return &dto.ChatSessionResponse{
		SessionId:    s.Id.String(),
		DocumentId:   s.DocumentId,
		DocumentName: s.DocumentName,
		Messages:     m.ChatMessagesToDTO(s.Messages),
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToDTO(msg entity.ChatMessage) dto.ChatMessageDTO {
	return dto.ChatMessageDTO{
		Role:    msg.Role,
		Content: msg.Content,
		TurnId:  msg.TurnId,
	}
}

func (m *ChatMapper) ChatMessagesToDTO(msgs []entity.ChatMessage) []dto.ChatMessageDTO {
	out := make([]dto.ChatMessageDTO, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, m.ChatMessageToDTO(msg))
	}
	return out
}
