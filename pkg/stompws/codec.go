// Package stompws carries STOMP 1.2 frames over WebSocket text messages, one
// frame per message, the way browser STOMP clients do. A message made only of
// end-of-line bytes is a heart-beat.
package stompws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// AcceptVersions is advertised in CONNECT and checked in CONNECTED.
const AcceptVersions = "1.2,1.1"

// Subprotocols are the WebSocket subprotocol names STOMP clients offer.
var Subprotocols = []string{"v12.stomp", "v11.stomp"}

var (
	ErrEmptyFrame = errors.New("stompws: empty frame")
	heartBeat     = []byte("\n")
)

// HeartBeat returns the payload of a heart-beat message.
func HeartBeat() []byte {
	return heartBeat
}

// IsHeartBeat reports whether payload carries no frame.
func IsHeartBeat(payload []byte) bool {
	return len(bytes.Trim(payload, "\r\n")) == 0
}

// Encode renders f as a single WebSocket payload.
func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one WebSocket payload. Heart-beats decode to (nil, nil).
func Decode(payload []byte) (*frame.Frame, error) {
	if IsHeartBeat(payload) {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(payload)).Read()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f == nil {
		return nil, ErrEmptyFrame
	}
	return f, nil
}

// NewJSONFrame builds a frame whose body is v encoded as JSON.
func NewJSONFrame(command string, v interface{}, headers ...string) (*frame.Frame, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", command, err)
	}
	f := frame.New(command, headers...)
	f.Header.Set(frame.ContentType, "application/json")
	f.Body = body
	return f, nil
}

// FormatHeartBeat renders the heart-beat header value "cx,cy" in milliseconds.
func FormatHeartBeat(send, recv time.Duration) string {
	return strconv.FormatInt(send.Milliseconds(), 10) + "," + strconv.FormatInt(recv.Milliseconds(), 10)
}

// ParseHeartBeat parses a heart-beat header. A missing header means no heart-beats.
func ParseHeartBeat(value string) (send, recv time.Duration, err error) {
	if strings.TrimSpace(value) == "" {
		return 0, 0, nil
	}
	return frame.ParseHeartBeat(value)
}

// Negotiate combines the local (send, recv) wish with the peer's header value,
// following the STOMP rules: each direction uses the larger of the two
// intervals, and is disabled when either side declines it.
func Negotiate(localSend, localRecv time.Duration, remote string) (send, recv time.Duration, err error) {
	remoteSend, remoteRecv, err := ParseHeartBeat(remote)
	if err != nil {
		return 0, 0, err
	}
	if localSend > 0 && remoteRecv > 0 {
		send = max(localSend, remoteRecv)
	}
	if localRecv > 0 && remoteSend > 0 {
		recv = max(localRecv, remoteSend)
	}
	return send, recv, nil
}
