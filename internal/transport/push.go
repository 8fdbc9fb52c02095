package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"docchat/internal/constant"
	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
	"docchat/pkg/stompws"

	"github.com/fasthttp/websocket"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	outboundBuffer = 64
)

type PushConfig struct {
	URL               string
	Host              string
	Destination       string
	TopicPrefix       string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	HandshakeTimeout  time.Duration
}

// PushTransport speaks STOMP over a WebSocket.
type PushTransport struct {
	cfg    PushConfig
	dialer *websocket.Dialer
	logger logger.ILogger
}

var _ Transport = (*PushTransport)(nil)

func NewPushTransport(cfg PushConfig, log logger.ILogger) *PushTransport {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Destination == "" {
		cfg.Destination = constant.ChatMessageDestination
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = constant.ChatTopicPrefix
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &PushTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     stompws.Subprotocols,
		},
		logger: log,
	}
}

func (t *PushTransport) Mode() Mode { return ModePush }

// Connect dials the socket and completes the STOMP CONNECT/CONNECTED exchange.
// Cancelling ctx aborts both the dial and the handshake.
func (t *PushTransport) Connect(ctx context.Context) (Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	sendEvery, expectEvery, err := t.handshake(ws)
	aborted := !stop()
	if err != nil || aborted {
		ws.Close()
		if aborted {
			return nil, ctx.Err()
		}
		return nil, err
	}

	c := &pushConn{
		ws:          ws,
		cfg:         t.cfg,
		sendEvery:   sendEvery,
		expectEvery: expectEvery,
		logger:      t.logger,
		outbound:    make(chan []byte, outboundBuffer),
		subs:        make(map[string]FrameHandler),
		done:        make(chan struct{}),
	}

	t.logger.Info("PushTransport", "STOMP session established", map[string]interface{}{
		"url":          t.cfg.URL,
		"send_every":   sendEvery.String(),
		"expect_every": expectEvery.String(),
	})

	go c.writePump()
	go c.readPump()
	return c, nil
}

func (t *PushTransport) handshake(ws *websocket.Conn) (time.Duration, time.Duration, error) {
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, stompws.AcceptVersions,
		frame.Host, t.cfg.Host,
		frame.HeartBeat, stompws.FormatHeartBeat(t.cfg.HeartbeatOutgoing, t.cfg.HeartbeatIncoming),
	)
	payload, err := stompws.Encode(connect)
	if err != nil {
		return 0, 0, err
	}

	deadline := time.Now().Add(t.cfg.HandshakeTimeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, 0, fmt.Errorf("send CONNECT: %w", err)
	}

	ws.SetReadDeadline(deadline)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("await CONNECTED: %w", err)
		}
		f, err := stompws.Decode(msg)
		if err != nil {
			return 0, 0, err
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			ws.SetReadDeadline(time.Time{})
			ws.SetWriteDeadline(time.Time{})
			return stompws.Negotiate(t.cfg.HeartbeatOutgoing, t.cfg.HeartbeatIncoming, f.Header.Get(frame.HeartBeat))
		case frame.ERROR:
			return 0, 0, newProtocolError(f)
		default:
			return 0, 0, fmt.Errorf("unexpected %s frame before CONNECTED", f.Command)
		}
	}
}

type pushConn struct {
	ws          *websocket.Conn
	cfg         PushConfig
	sendEvery   time.Duration
	expectEvery time.Duration
	logger      logger.ILogger

	outbound chan []byte

	mu   sync.Mutex
	subs map[string]FrameHandler
	err  error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *pushConn) Done() <-chan struct{} { return c.done }

func (c *pushConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pushConn) Close() error {
	c.fail(ErrClosed)
	return nil
}

// fail records the first reason the connection ended and tears it down.
func (c *pushConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.subs = make(map[string]FrameHandler)
		c.mu.Unlock()
		close(c.done)

		if errors.Is(err, ErrClosed) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		c.ws.Close()
	})
}

func (c *pushConn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		if c.expectEvery > 0 {
			c.ws.SetReadDeadline(time.Now().Add(2 * c.expectEvery))
		}
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.fail(ErrHeartbeatTimeout)
			} else {
				c.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		f, err := stompws.Decode(msg)
		if err != nil {
			c.logger.Warn("PushTransport", "Dropping undecodable frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			c.dispatch(f)
		case frame.ERROR:
			perr := newProtocolError(f)
			c.logger.Error("PushTransport", "Server sent ERROR frame", map[string]interface{}{"error": perr.Error()})
			c.fail(perr)
			return
		default:
			c.logger.Debug("PushTransport", "Ignoring frame", map[string]interface{}{"command": f.Command})
		}
	}
}

func (c *pushConn) dispatch(f *frame.Frame) {
	id := f.Header.Get(frame.Subscription)
	c.mu.Lock()
	handler, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("PushTransport", "MESSAGE for unknown subscription", map[string]interface{}{"subscription": id})
		return
	}

	var body dto.ChatMessageDTO
	if err := json.Unmarshal(f.Body, &body); err != nil {
		c.logger.Warn("PushTransport", "MESSAGE body is not a chat message", map[string]interface{}{"error": err.Error()})
		return
	}
	handler(Frame{Role: body.Role, Content: body.Content, TurnID: body.TurnId})
}

func (c *pushConn) writePump() {
	var tick <-chan time.Time
	if c.sendEvery > 0 {
		ticker := time.NewTicker(c.sendEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		var payload []byte
		select {
		case <-c.done:
			return
		case payload = <-c.outbound:
		case <-tick:
			payload = stompws.HeartBeat()
		}

		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.fail(fmt.Errorf("write: %w", err))
			return
		}
	}
}

func (c *pushConn) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pushConn) Subscribe(sessionID string, onFrame FrameHandler) (Subscription, error) {
	id := "sub-" + uuid.NewString()
	payload, err := stompws.Encode(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, c.cfg.TopicPrefix+sessionID,
		frame.Ack, "auto",
	))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs[id] = onFrame
	c.mu.Unlock()

	if err := c.enqueue(context.Background(), payload); err != nil {
		c.removeSub(id)
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	return &pushSubscription{conn: c, id: id}, nil
}

func (c *pushConn) removeSub(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Send publishes the turn. Replies arrive later on the subscribed topic.
func (c *pushConn) Send(ctx context.Context, req dto.ChatMessageRequest) (*Reply, error) {
	f, err := stompws.NewJSONFrame(frame.SEND, req, frame.Destination, c.cfg.Destination)
	if err != nil {
		return nil, err
	}
	payload, err := stompws.Encode(f)
	if err != nil {
		return nil, err
	}
	if err := c.enqueue(ctx, payload); err != nil {
		return nil, fmt.Errorf("publish turn: %w", err)
	}
	return nil, nil
}

type pushSubscription struct {
	conn *pushConn
	id   string
	once sync.Once
}

func (s *pushSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.conn.removeSub(s.id)
		payload, encErr := stompws.Encode(frame.New(frame.UNSUBSCRIBE, frame.Id, s.id))
		if encErr != nil {
			err = encErr
			return
		}
		if qErr := s.conn.enqueue(context.Background(), payload); qErr != nil && !errors.Is(qErr, ErrClosed) {
			err = qErr
		}
	})
	return err
}
