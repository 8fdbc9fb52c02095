package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"docchat/internal/apiclient"
	"docchat/internal/bootstrap"
	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/connection"
	"docchat/internal/dto"
	"docchat/internal/history"
	"docchat/internal/pkg/logger"
	"docchat/internal/service"
	"docchat/internal/transport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relay struct {
	addr      string
	container *bootstrap.Container
	api       *apiclient.Client
}

func startRelay(t *testing.T) *relay {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		App: config.AppConfig{Environment: "test", LogFilePath: filepath.Join(dir, "relay.log")},
		Relay: config.RelayConfig{
			CorsAllowedOrigins: "*",
			Broker:             "none",
			SessionTTL:         time.Hour,
			HeartbeatOutgoing:  time.Second,
			HeartbeatIncoming:  time.Second,
			WSLogFilePath:      filepath.Join(dir, "ws.log"),
		},
	}

	container, err := bootstrap.NewContainer(cfg, service.EchoAnswerer{})
	require.NoError(t, err)
	container.Start()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(cfg, container)
	go srv.Serve(ln)

	r := &relay{
		addr:      ln.Addr().String(),
		container: container,
		api:       apiclient.New("http://"+ln.Addr().String(), 5*time.Second),
	}
	t.Cleanup(func() {
		container.Close()
		srv.Shutdown()
	})
	return r
}

func (r *relay) createSession(t *testing.T) chat.Session {
	t.Helper()
	res, err := r.api.CreateSession(context.Background(), dto.CreateSessionRequest{DocumentId: "doc-1", DocumentName: "Handbook"})
	require.NoError(t, err)
	return chat.Session{SessionID: res.SessionId, DocumentID: res.DocumentId, DocumentName: res.DocumentName}
}

func (r *relay) open(t *testing.T, session chat.Session, mode transport.Mode) *chat.Engine {
	t.Helper()
	log := logger.NewNopLogger()
	var tr transport.Transport = transport.NewRequestTransport(r.api, log)
	if mode == transport.ModePush {
		tr = transport.NewPushTransport(transport.PushConfig{
			URL:               "ws://" + r.addr + "/ws",
			HeartbeatOutgoing: time.Second,
			HeartbeatIncoming: time.Second,
		}, log)
	}

	e, err := chat.Open(context.Background(), chat.Options{
		Session:     session,
		Transport:   tr,
		History:     history.NewLoader(r.api, log),
		Logger:      log,
		RetryDelay:  50 * time.Millisecond,
		TurnTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func waitFor(t *testing.T, e *chat.Engine, what string, cond func(chat.Snapshot) bool) chat.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(e.Snapshot()) }, 5*time.Second, 10*time.Millisecond, what)
	return e.Snapshot()
}

func settled(n int) func(chat.Snapshot) bool {
	return func(s chat.Snapshot) bool {
		return s.Pending == nil && len(s.Messages) == n
	}
}

func TestPushTurnsAgainstRelay(t *testing.T) {
	r := startRelay(t)
	session := r.createSession(t)
	e := r.open(t, session, transport.ModePush)

	s := waitFor(t, e, "connected", func(s chat.Snapshot) bool { return s.State == connection.Connected })
	require.Len(t, s.Messages, 1, "greeting from history")

	questions := []string{"What is the refund policy?", "And for digital goods?"}
	for i, q := range questions {
		_, err := e.Submit(context.Background(), q)
		require.NoError(t, err)
		waitFor(t, e, "turn answered", settled(1+2*(i+1)))
	}

	s = e.Snapshot()
	require.Len(t, s.Messages, 5)
	for i, q := range questions {
		user, answer := s.Messages[1+2*i], s.Messages[2+2*i]
		assert.Equal(t, chat.RoleUser, user.Role)
		assert.Equal(t, q, user.Content)
		assert.False(t, user.Optimistic, "echo confirms the question")
		assert.Equal(t, chat.RoleAssistant, answer.Role)
		assert.Equal(t, "You asked about Handbook: "+q, answer.Content)
		assert.Equal(t, user.TurnID, answer.TurnID)
	}
	assert.Nil(t, s.Notice)

	// The relay stored the turns too.
	stored, err := r.api.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 5)
}

func TestRequestTurnAgainstRelay(t *testing.T) {
	r := startRelay(t)
	e := r.open(t, r.createSession(t), transport.ModeRequest)

	assert.Equal(t, connection.Connected, e.Snapshot().State)
	_, err := e.Submit(context.Background(), "Summarize page 2")
	require.NoError(t, err)

	s := waitFor(t, e, "turn answered", settled(3))
	assert.Equal(t, "Summarize page 2", s.Messages[1].Content)
	assert.Equal(t, "You asked about Handbook: Summarize page 2", s.Messages[2].Content)
}

func TestRequestFailureRollsBack(t *testing.T) {
	r := startRelay(t)
	unknown := chat.Session{SessionID: uuid.NewString()}
	e := r.open(t, unknown, transport.ModeRequest)

	s := e.Snapshot()
	assert.Empty(t, s.Messages)
	require.NotNil(t, s.Notice)
	assert.Equal(t, chat.SourceHistory, s.Notice.Source)

	_, err := e.Submit(context.Background(), "Summarize page 2")
	require.NoError(t, err)

	s = waitFor(t, e, "turn failed", func(s chat.Snapshot) bool {
		return s.Pending == nil && s.Notice != nil && s.Notice.Source == chat.SourceRequest
	})
	assert.Empty(t, s.Messages)
	assert.Equal(t, "Failed to send message: chat session not found: "+unknown.SessionID, s.Notice.Message)
}

func TestPushConnectionDrop(t *testing.T) {
	r := startRelay(t)
	e := r.open(t, r.createSession(t), transport.ModePush)
	waitFor(t, e, "connected", func(s chat.Snapshot) bool { return s.State == connection.Connected })

	// Stopping the hub disconnects every client; reconnects are refused after that.
	require.NoError(t, r.container.Close())

	s := waitFor(t, e, "disconnected", func(s chat.Snapshot) bool { return s.State != connection.Connected })
	assert.NotNil(t, s.Notice)

	_, err := e.Submit(context.Background(), "anyone there?")
	assert.ErrorIs(t, err, chat.ErrNotConnected)
	assert.Len(t, e.Snapshot().Messages, 1)
}
