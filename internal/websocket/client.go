package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"docchat/internal/constant"
	"docchat/internal/dto"
	"docchat/pkg/stompws"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	connectWait    = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is a middleman between one STOMP-over-WebSocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	// Buffered channel of outbound frames.
	send       chan []byte
	registered chan struct{}
	writerDone chan struct{}

	// Negotiated outgoing heart-beat interval, handed to writePump.
	heartbeat chan time.Duration

	// Subscription id -> destination. Guarded by hub.mu.
	destinations map[string]string

	// Owned by readPump.
	connected   bool
	expectEvery time.Duration

	closeOnce sync.Once
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() { c.conn.Close() })
}

// readPump parses inbound frames until the peer leaves or breaks the protocol.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.closeConn()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(connectWait))
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Hub", "Client connection lost", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
		c.refreshDeadline()

		f, err := stompws.Decode(msg)
		if err != nil {
			c.sendError("malformed frame", err.Error())
			return
		}
		if f == nil {
			continue
		}
		if !c.handle(f) {
			return
		}
	}
}

func (c *Client) refreshDeadline() {
	switch {
	case !c.connected:
	case c.expectEvery > 0:
		c.conn.SetReadDeadline(time.Now().Add(2 * c.expectEvery))
	default:
		c.conn.SetReadDeadline(time.Time{})
	}
}

// handle applies one frame. It returns false when the connection must end.
func (c *Client) handle(f *frame.Frame) bool {
	if f.Command == frame.CONNECT || f.Command == frame.STOMP {
		return c.handleConnect(f)
	}
	if !c.connected {
		c.sendError("expected CONNECT frame", "")
		return false
	}

	switch f.Command {
	case frame.SUBSCRIBE:
		id, destination := f.Header.Get(frame.Id), f.Header.Get(frame.Destination)
		if id == "" || destination == "" {
			c.sendError("SUBSCRIBE requires id and destination", "")
			return false
		}
		if !strings.HasPrefix(destination, "/topic/") {
			c.sendError("cannot subscribe to "+destination, "")
			return false
		}
		c.hub.subscribe(c, destination, id)

	case frame.UNSUBSCRIBE:
		c.hub.unsubscribe(c, f.Header.Get(frame.Id))

	case frame.SEND:
		destination := f.Header.Get(frame.Destination)
		if destination != constant.ChatMessageDestination {
			c.sendError("unknown destination "+destination, "")
			return false
		}
		var req dto.ChatMessageRequest
		if err := json.Unmarshal(f.Body, &req); err != nil {
			c.sendError("message body is not a chat request", err.Error())
			return false
		}
		// Answers can take a while; keep reading heart-beats meanwhile.
		c.hub.handle(&req)

	case frame.DISCONNECT:
		c.receipt(f)
		return false

	case frame.ACK, frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT:

	default:
		c.sendError("unsupported command "+f.Command, "")
		return false
	}

	c.receipt(f)
	return true
}

func (c *Client) handleConnect(f *frame.Frame) bool {
	if c.connected {
		c.sendError("already connected", "")
		return false
	}
	cfg := c.hub.cfg
	send, recv, err := stompws.Negotiate(cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming, f.Header.Get(frame.HeartBeat))
	if err != nil {
		c.sendError("invalid heart-beat header", err.Error())
		return false
	}

	c.connected = true
	c.expectEvery = recv
	c.refreshDeadline()
	c.heartbeat <- send

	c.write(frame.New(frame.CONNECTED,
		frame.Version, "1.2",
		frame.HeartBeat, stompws.FormatHeartBeat(cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming),
		frame.Server, "docchat-relay",
		frame.Session, c.id,
	))
	c.hub.logger.Debug("Hub", "STOMP session established", map[string]interface{}{
		"client_id":    c.id,
		"send_every":   send.String(),
		"expect_every": recv.String(),
	})
	return true
}

func (c *Client) receipt(f *frame.Frame) {
	if id := f.Header.Get(frame.Receipt); id != "" {
		c.write(frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

func (c *Client) sendError(message, detail string) {
	c.hub.logger.Warn("Hub", "Closing client after protocol error", map[string]interface{}{
		"client_id": c.id,
		"error":     message,
	})
	f := frame.New(frame.ERROR, frame.Message, message)
	if detail != "" {
		f.Body = []byte(detail)
	}
	c.write(f)
}

func (c *Client) write(f *frame.Frame) {
	payload, err := stompws.Encode(f)
	if err != nil {
		c.hub.logger.Error("Hub", "Failed to encode frame", map[string]interface{}{"error": err.Error()})
		return
	}
	c.hub.sendTo(c, payload)
}

// writePump pumps frames from the hub to the websocket connection, one frame
// per message, with heart-beats in between.
func (c *Client) writePump() {
	defer close(c.writerDone)

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.closeConn()
				return
			}

		case every := <-c.heartbeat:
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			if every > 0 {
				ticker = time.NewTicker(every)
				tick = ticker.C
			}

		case <-tick:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, stompws.HeartBeat()); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

// ServeWs runs one client until it disconnects. It blocks, as fiber releases
// the connection when the handler returns.
func ServeWs(hub *Hub, conn *websocket.Conn) {
	client := &Client{
		hub:          hub,
		conn:         conn,
		id:           uuid.NewString(),
		send:         make(chan []byte, sendBuffer),
		registered:   make(chan struct{}),
		writerDone:   make(chan struct{}),
		heartbeat:    make(chan time.Duration, 1),
		destinations: make(map[string]string),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	<-client.registered

	go client.writePump()
	client.readPump()
	<-client.writerDone
}
