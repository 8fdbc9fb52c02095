package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
	"docchat/pkg/stompws"

	"github.com/fasthttp/websocket"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPeer runs a STOMP server that plays script after the socket is
// upgraded, then keeps the socket open until the client goes away.
func startPeer(t *testing.T, script func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: stompws.Subprotocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		script(ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readFrame returns the next frame from ws, skipping heart-beats.
func readFrame(ws *websocket.Conn) (*frame.Frame, error) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := stompws.Decode(msg)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

func writeFrame(ws *websocket.Conn, f *frame.Frame) error {
	payload, err := stompws.Encode(f)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// accept completes the CONNECT exchange, offering heartBeat in CONNECTED.
func accept(ws *websocket.Conn, heartBeat string) bool {
	f, err := readFrame(ws)
	if err != nil || f.Command != frame.CONNECT {
		return false
	}
	return writeFrame(ws, frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, heartBeat)) == nil
}

func awaitDone(t *testing.T, conn Conn) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection still open")
	}
}

func TestPushTransportExchangesFrames(t *testing.T) {
	type seen struct {
		subscribe string
		send      string
		body      []byte
	}
	seenCh := make(chan seen, 1)

	url := startPeer(t, func(ws *websocket.Conn) {
		if !accept(ws, "0,0") {
			return
		}
		sub, err := readFrame(ws)
		if err != nil || sub.Command != frame.SUBSCRIBE {
			return
		}
		msg, err := stompws.NewJSONFrame(frame.MESSAGE,
			dto.ChatMessageDTO{Role: "assistant", Content: "30 days.", TurnId: "t1"},
			frame.Destination, sub.Header.Get(frame.Destination),
			frame.Subscription, sub.Header.Get(frame.Id),
			frame.MessageId, "m-1",
		)
		if err != nil || writeFrame(ws, msg) != nil {
			return
		}
		send, err := readFrame(ws)
		if err != nil || send.Command != frame.SEND {
			return
		}
		seenCh <- seen{
			subscribe: sub.Header.Get(frame.Destination),
			send:      send.Header.Get(frame.Destination),
			body:      send.Body,
		}
	})

	tr := NewPushTransport(PushConfig{URL: url}, logger.NewNopLogger())
	assert.Equal(t, ModePush, tr.Mode())
	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)

	frames := make(chan Frame, 1)
	_, err = conn.Subscribe("s1", func(f Frame) { frames <- f })
	require.NoError(t, err)

	select {
	case f := <-frames:
		assert.Equal(t, Frame{Role: "assistant", Content: "30 days.", TurnID: "t1"}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("no MESSAGE dispatched")
	}

	reply, err := conn.Send(context.Background(), dto.ChatMessageRequest{SessionId: "s1", Question: "refund policy?", TurnId: "t1"})
	require.NoError(t, err)
	assert.Nil(t, reply, "push replies arrive on the topic")

	select {
	case got := <-seenCh:
		assert.Equal(t, "/topic/chat/s1", got.subscribe)
		assert.Equal(t, "/app/chat/message", got.send)
		var req dto.ChatMessageRequest
		require.NoError(t, json.Unmarshal(got.body, &req))
		assert.Equal(t, dto.ChatMessageRequest{SessionId: "s1", Question: "refund policy?", TurnId: "t1"}, req)
	case <-time.After(2 * time.Second):
		t.Fatal("peer saw no SEND")
	}

	require.NoError(t, conn.Close())
	awaitDone(t, conn)
	assert.ErrorIs(t, conn.Err(), ErrClosed)
}

func TestPushTransportHeartbeatTimeout(t *testing.T) {
	url := startPeer(t, func(ws *websocket.Conn) {
		accept(ws, "100,100")
	})

	tr := NewPushTransport(PushConfig{
		URL:               url,
		HeartbeatOutgoing: 100 * time.Millisecond,
		HeartbeatIncoming: 100 * time.Millisecond,
	}, logger.NewNopLogger())
	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)

	awaitDone(t, conn)
	assert.ErrorIs(t, conn.Err(), ErrHeartbeatTimeout)
}

func TestPushTransportHeartbeatsKeepAlive(t *testing.T) {
	url := startPeer(t, func(ws *websocket.Conn) {
		if !accept(ws, "30,100") {
			return
		}
		go func() {
			for {
				time.Sleep(30 * time.Millisecond)
				if ws.WriteMessage(websocket.TextMessage, stompws.HeartBeat()) != nil {
					return
				}
			}
		}()
	})

	tr := NewPushTransport(PushConfig{
		URL:               url,
		HeartbeatOutgoing: 100 * time.Millisecond,
		HeartbeatIncoming: 100 * time.Millisecond,
	}, logger.NewNopLogger())
	conn, err := tr.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Never(t, func() bool {
		select {
		case <-conn.Done():
			return true
		default:
			return false
		}
	}, 500*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, conn.Err())
}

func TestPushTransportErrorFrameAfterConnected(t *testing.T) {
	url := startPeer(t, func(ws *websocket.Conn) {
		if !accept(ws, "0,0") {
			return
		}
		errFrame := frame.New(frame.ERROR, frame.Message, "session expired")
		errFrame.Body = []byte("log in again")
		writeFrame(ws, errFrame)
	})

	conn, err := NewPushTransport(PushConfig{URL: url}, logger.NewNopLogger()).Connect(context.Background())
	require.NoError(t, err)

	awaitDone(t, conn)
	var perr *ProtocolError
	require.ErrorAs(t, conn.Err(), &perr)
	assert.Equal(t, "session expired", perr.Message)
	assert.Equal(t, "log in again", perr.Detail)

	_, err = conn.Send(context.Background(), dto.ChatMessageRequest{SessionId: "s1", Question: "q"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPushTransportHandshakeRefused(t *testing.T) {
	tests := []struct {
		name    string
		reply   *frame.Frame
		message string
		errText string
	}{
		{
			name:    "error frame",
			reply:   frame.New(frame.ERROR, frame.Message, "unsupported version"),
			message: "unsupported version",
		},
		{
			name:    "unexpected frame",
			reply:   frame.New(frame.RECEIPT, frame.ReceiptId, "r-1"),
			errText: "unexpected RECEIPT frame before CONNECTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := startPeer(t, func(ws *websocket.Conn) {
				if f, err := readFrame(ws); err == nil && f.Command == frame.CONNECT {
					writeFrame(ws, tt.reply)
				}
			})

			conn, err := NewPushTransport(PushConfig{URL: url}, logger.NewNopLogger()).Connect(context.Background())
			require.Error(t, err)
			assert.Nil(t, conn)

			if tt.message != "" {
				var perr *ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.message, perr.Message)
			} else {
				assert.EqualError(t, err, tt.errText)
			}
		})
	}
}

func TestPushTransportConnectHonoursContext(t *testing.T) {
	url := startPeer(t, func(ws *websocket.Conn) {
		// Never answer CONNECT.
		readFrame(ws)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	conn, err := NewPushTransport(PushConfig{URL: url}, logger.NewNopLogger()).Connect(ctx)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
