package history

import (
	"context"
	"errors"
	"fmt"

	"docchat/internal/constant"
	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
)

var ErrHistoryUnavailable = errors.New("chat history unavailable")

// SessionFetcher is satisfied by *apiclient.Client.
type SessionFetcher interface {
	GetSession(ctx context.Context, sessionID string) (*dto.ChatSessionResponse, error)
}

// Loader fetches the transcript a session already has on the backend.
type Loader struct {
	fetcher SessionFetcher
	logger  logger.ILogger
}

func NewLoader(fetcher SessionFetcher, log logger.ILogger) *Loader {
	return &Loader{fetcher: fetcher, logger: log}
}

// Load returns the session's prior messages in backend order. Any failure is
// reported as ErrHistoryUnavailable wrapping the cause.
func (l *Loader) Load(ctx context.Context, sessionID string) ([]dto.ChatMessageDTO, error) {
	session, err := l.fetcher.GetSession(ctx, sessionID)
	if err != nil {
		l.logger.Error("HistoryLoader", "Failed to load chat history", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}

	messages := make([]dto.ChatMessageDTO, 0, len(session.Messages))
	for _, msg := range session.Messages {
		// Only conversation lines are history; error frames are never stored.
		if msg.Role != constant.ChatMessageRoleUser && msg.Role != constant.ChatMessageRoleAssistant {
			continue
		}
		messages = append(messages, msg)
	}

	l.logger.Debug("HistoryLoader", "Loaded chat history", map[string]interface{}{
		"session_id": sessionID,
		"count":      len(messages),
	})
	return messages, nil
}
