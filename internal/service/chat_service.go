package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat/internal/constant"
	"docchat/internal/dto"
	"docchat/internal/entity"
	"docchat/internal/mapper"
	"docchat/internal/pkg/logger"
	"docchat/internal/pkg/serverutils"
	"docchat/internal/repository/contract"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Answerer produces the assistant's reply to a question about a session's
// document. The relay never reasons about documents itself.
type Answerer interface {
	Answer(ctx context.Context, session *entity.ChatSession, question string) (string, error)
}

type AnswererFunc func(ctx context.Context, session *entity.ChatSession, question string) (string, error)

func (f AnswererFunc) Answer(ctx context.Context, session *entity.ChatSession, question string) (string, error) {
	return f(ctx, session, question)
}

// EchoAnswerer repeats the question back, optionally after Delay.
type EchoAnswerer struct {
	Delay time.Duration
}

func (a EchoAnswerer) Answer(ctx context.Context, session *entity.ChatSession, question string) (string, error) {
	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("You asked about %s: %s", session.DocumentName, question), nil
}

// FramePublisher delivers a message body to every subscriber of destination.
type FramePublisher interface {
	Publish(destination string, body []byte)
}

type IChatService interface {
	CreateSession(ctx context.Context, req *dto.CreateSessionRequest) (*dto.ChatSessionResponse, error)
	GetSession(ctx context.Context, sessionId string) (*dto.ChatSessionResponse, error)
	// SendMessage runs one turn and returns the updated session with the reply.
	SendMessage(ctx context.Context, req *dto.ChatMessageRequest) (*dto.ChatSessionResponse, error)
	// HandleMessage runs one turn for a push client. The echo, the reply and
	// any failure are published on the session topic.
	HandleMessage(ctx context.Context, req *dto.ChatMessageRequest)
}

type chatService struct {
	repo      contract.ChatSessionRepository
	answerer  Answerer
	publisher FramePublisher
	mapper    *mapper.ChatMapper
	logger    logger.ILogger
}

func NewChatService(repo contract.ChatSessionRepository, answerer Answerer, publisher FramePublisher, log logger.ILogger) IChatService {
	return &chatService{
		repo:      repo,
		answerer:  answerer,
		publisher: publisher,
		mapper:    mapper.NewChatMapper(),
		logger:    log,
	}
}

func (s *chatService) CreateSession(ctx context.Context, req *dto.CreateSessionRequest) (*dto.ChatSessionResponse, error) {
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &entity.ChatSession{
		Id:           uuid.New(),
		DocumentId:   req.DocumentId,
		DocumentName: req.DocumentName,
		Messages: []entity.ChatMessage{{
			Role:      constant.ChatMessageRoleAssistant,
			Content:   fmt.Sprintf(constant.ChatDefaultGreeting, req.DocumentName),
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("ChatService", "Chat session created", map[string]interface{}{
		"session_id":  session.Id.String(),
		"document_id": session.DocumentId,
	})
	return s.mapper.ChatSessionToResponse(session), nil
}

func (s *chatService) GetSession(ctx context.Context, sessionId string) (*dto.ChatSessionResponse, error) {
	session, err := s.find(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return s.mapper.ChatSessionToResponse(session), nil
}

func (s *chatService) SendMessage(ctx context.Context, req *dto.ChatMessageRequest) (*dto.ChatSessionResponse, error) {
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}

	session, answer, err := s.chat(ctx, req)
	if err != nil {
		return nil, err
	}

	res := s.mapper.ChatSessionToResponse(session)
	res.CurrentResponse = answer
	return res, nil
}

func (s *chatService) HandleMessage(ctx context.Context, req *dto.ChatMessageRequest) {
	topic := constant.ChatTopic(req.SessionId)

	if err := serverutils.ValidateRequest(req); err != nil {
		s.logger.Warn("ChatService", "Rejected chat message", map[string]interface{}{
			"session_id": req.SessionId,
			"error":      err.Error(),
		})
		s.publish(topic, constant.ChatMessageRoleError, err.Error(), req.TurnId)
		return
	}

	// Clients confirm their optimistic line from this echo.
	s.publish(topic, constant.ChatMessageRoleUser, req.Question, req.TurnId)

	_, answer, err := s.chat(ctx, req)
	if err != nil {
		s.publish(topic, constant.ChatMessageRoleError, "Error processing message: "+err.Error(), req.TurnId)
		return
	}
	s.publish(topic, constant.ChatMessageRoleAssistant, answer, req.TurnId)
}

func (s *chatService) chat(ctx context.Context, req *dto.ChatMessageRequest) (*entity.ChatSession, string, error) {
	session, err := s.find(ctx, req.SessionId)
	if err != nil {
		return nil, "", err
	}

	answer, err := s.answerer.Answer(ctx, session, req.Question)
	if err != nil {
		s.logger.Error("ChatService", "Answerer failed", map[string]interface{}{
			"session_id": req.SessionId,
			"turn_id":    req.TurnId,
			"error":      err.Error(),
		})
		return nil, "", fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	now := time.Now()
	session, err = s.repo.AppendMessages(ctx, session.Id,
		entity.ChatMessage{Role: constant.ChatMessageRoleUser, Content: req.Question, TurnId: req.TurnId, CreatedAt: now},
		entity.ChatMessage{Role: constant.ChatMessageRoleAssistant, Content: answer, TurnId: req.TurnId, CreatedAt: now},
	)
	if err != nil {
		return nil, "", err
	}

	s.logger.Debug("ChatService", "Turn answered", map[string]interface{}{
		"session_id": req.SessionId,
		"turn_id":    req.TurnId,
		"length":     len(answer),
	})
	return session, answer, nil
}

func (s *chatService) find(ctx context.Context, sessionId string) (*entity.ChatSession, error) {
	id, err := uuid.Parse(sessionId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", contract.ErrSessionNotFound, sessionId)
	}
	session, err := s.repo.FindOne(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, sessionId)
	}
	return session, nil
}

func (s *chatService) publish(topic, role, content, turnId string) {
	body, err := json.Marshal(dto.ChatMessageDTO{Role: role, Content: content, TurnId: turnId})
	if err != nil {
		s.logger.Error("ChatService", "Failed to encode frame", map[string]interface{}{"error": err.Error()})
		return
	}
	s.publisher.Publish(topic, body)
}
