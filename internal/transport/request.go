package transport

import (
	"context"
	"fmt"
	"sync"

	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
)

// MessageSender performs one HTTP turn. *apiclient.Client satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, req dto.ChatMessageRequest) (*dto.ChatSessionResponse, error)
}

// RequestTransport is the degraded mode: each Send is a full round trip and
// there is nothing to subscribe to.
type RequestTransport struct {
	api    MessageSender
	logger logger.ILogger
}

var _ Transport = (*RequestTransport)(nil)

func NewRequestTransport(api MessageSender, log logger.ILogger) *RequestTransport {
	return &RequestTransport{api: api, logger: log}
}

func (t *RequestTransport) Mode() Mode { return ModeRequest }

// Connect never fails: request/response mode is always logically connected.
func (t *RequestTransport) Connect(ctx context.Context) (Conn, error) {
	return &requestConn{api: t.api, logger: t.logger, done: make(chan struct{})}, nil
}

type requestConn struct {
	api    MessageSender
	logger logger.ILogger
	done   chan struct{}
	once   sync.Once
}

func (c *requestConn) Subscribe(string, FrameHandler) (Subscription, error) {
	return noopSubscription{}, nil
}

func (c *requestConn) Send(ctx context.Context, req dto.ChatMessageRequest) (*Reply, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	res, err := c.api.SendMessage(ctx, req)
	if err != nil {
		c.logger.Warn("RequestTransport", "Turn failed", map[string]interface{}{
			"session_id": req.SessionId,
			"turn_id":    req.TurnId,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("send turn: %w", err)
	}
	return &Reply{Content: res.CurrentResponse, TurnID: req.TurnId}, nil
}

func (c *requestConn) Done() <-chan struct{} { return c.done }

func (c *requestConn) Err() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		return nil
	}
}

func (c *requestConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
