// Package transport hides the two ways a chat turn reaches the backend behind
// one contract: a persistent STOMP/WebSocket connection where replies arrive on
// a subscribed topic (push mode), and a one-shot HTTP call whose response is the
// reply (request/response mode).
package transport

import (
	"context"
	"errors"
	"fmt"

	"docchat/internal/dto"

	"github.com/go-stomp/stomp/v3/frame"
)

type Mode string

const (
	ModePush    Mode = "push"
	ModeRequest Mode = "request"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModePush, ModeRequest:
		return Mode(value), nil
	}
	return "", fmt.Errorf("unknown transport mode %q (want %q or %q)", value, ModePush, ModeRequest)
}

var (
	// ErrClosed is returned by operations on a connection that is gone.
	ErrClosed = errors.New("transport closed")
	// ErrHeartbeatTimeout closes a push connection whose peer went silent.
	ErrHeartbeatTimeout = errors.New("heart-beat timeout")
)

// ProtocolError is an explicit refusal from the peer, such as a STOMP ERROR frame.
type ProtocolError struct {
	Message string
	Detail  string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "protocol error: " + e.Message
	}
	return "protocol error: " + e.Message + ": " + e.Detail
}

func newProtocolError(f *frame.Frame) *ProtocolError {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = "server sent ERROR frame"
	}
	return &ProtocolError{Message: msg, Detail: string(f.Body)}
}

// Frame is one inbound session-scoped message.
type Frame struct {
	Role    string
	Content string
	TurnID  string
}

type FrameHandler func(Frame)

// Reply is the direct result of a request/response Send. Push mode never returns one.
type Reply struct {
	Content string
	TurnID  string
}

type Subscription interface {
	Unsubscribe() error
}

type Conn interface {
	Subscribe(sessionID string, onFrame FrameHandler) (Subscription, error)
	Send(ctx context.Context, req dto.ChatMessageRequest) (*Reply, error)
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err explains why Done was closed.
	Err() error
	Close() error
}

type Transport interface {
	Mode() Mode
	Connect(ctx context.Context) (Conn, error)
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
