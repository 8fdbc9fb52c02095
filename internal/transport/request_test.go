package transport

import (
	"context"
	"errors"
	"testing"

	"docchat/internal/dto"
	"docchat/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	calls int
	res   *dto.ChatSessionResponse
	err   error
}

func (s *stubSender) SendMessage(context.Context, dto.ChatMessageRequest) (*dto.ChatSessionResponse, error) {
	s.calls++
	return s.res, s.err
}

func TestRequestTransportReturnsReply(t *testing.T) {
	api := &stubSender{res: &dto.ChatSessionResponse{CurrentResponse: "Page 2 covers returns."}}
	tr := NewRequestTransport(api, logger.NewNopLogger())
	assert.Equal(t, ModeRequest, tr.Mode())

	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)

	sub, err := conn.Subscribe("s-1", func(Frame) { t.Fatal("request mode never delivers frames") })
	require.NoError(t, err)
	assert.NoError(t, sub.Unsubscribe())

	reply, err := conn.Send(context.Background(), dto.ChatMessageRequest{SessionId: "s-1", Question: "Summarize page 2", TurnId: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, &Reply{Content: "Page 2 covers returns.", TurnID: "t-1"}, reply)
}

func TestRequestTransportWrapsFailures(t *testing.T) {
	cause := errors.New("status 502")
	conn, err := NewRequestTransport(&stubSender{err: cause}, logger.NewNopLogger()).Connect(context.Background())
	require.NoError(t, err)

	_, err = conn.Send(context.Background(), dto.ChatMessageRequest{SessionId: "s-1", Question: "q"})
	assert.ErrorIs(t, err, cause)
}

func TestRequestConnClosed(t *testing.T) {
	api := &stubSender{res: &dto.ChatSessionResponse{}}
	conn, err := NewRequestTransport(api, logger.NewNopLogger()).Connect(context.Background())
	require.NoError(t, err)
	assert.NoError(t, conn.Err())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.Send(context.Background(), dto.ChatMessageRequest{SessionId: "s-1", Question: "q"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Err(), ErrClosed)
	assert.Zero(t, api.calls)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("push")
	require.NoError(t, err)
	assert.Equal(t, ModePush, mode)

	_, err = ParseMode("carrier-pigeon")
	assert.Error(t, err)
}
