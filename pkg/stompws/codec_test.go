package stompws

import (
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFrameSurvivesTheWire(t *testing.T) {
	body := map[string]string{"sessionId": "s-1", "question": "What is the refund policy?"}
	f, err := NewJSONFrame(frame.SEND, body, frame.Destination, "/app/chat/message")
	require.NoError(t, err)

	payload, err := Encode(f)
	require.NoError(t, err)
	assert.Equal(t, byte(0), payload[len(payload)-1], "frames end with NUL")

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, frame.SEND, decoded.Command)
	assert.Equal(t, "/app/chat/message", decoded.Header.Get(frame.Destination))
	assert.Equal(t, "application/json", decoded.Header.Get(frame.ContentType))
	assert.JSONEq(t, `{"sessionId":"s-1","question":"What is the refund policy?"}`, string(decoded.Body))
}

func TestDecodeHeartBeat(t *testing.T) {
	for _, payload := range [][]byte{HeartBeat(), []byte("\r\n"), {}} {
		f, err := Decode(payload)
		assert.NoError(t, err)
		assert.Nil(t, f)
	}
	assert.False(t, IsHeartBeat([]byte("CONNECTED\n\n\x00")))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("NOT A FRAME"))
	assert.Error(t, err)
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name               string
		localSend, localRx time.Duration
		remote             string
		wantSend, wantRecv time.Duration
	}{
		{"larger interval wins", 4 * time.Second, 4 * time.Second, "10000,2000", 4 * time.Second, 10 * time.Second},
		{"peer declines", 4 * time.Second, 4 * time.Second, "0,0", 0, 0},
		{"header missing", 4 * time.Second, 4 * time.Second, "", 0, 0},
		{"we decline sending", 0, 4 * time.Second, "4000,4000", 0, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send, recv, err := Negotiate(tt.localSend, tt.localRx, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSend, send)
			assert.Equal(t, tt.wantRecv, recv)
		})
	}

	_, _, err := Negotiate(time.Second, time.Second, "soon")
	assert.Error(t, err)
}

func TestFormatHeartBeat(t *testing.T) {
	assert.Equal(t, "4000,4000", FormatHeartBeat(4*time.Second, 4*time.Second))
	assert.Equal(t, "0,250", FormatHeartBeat(0, 250*time.Millisecond))
}
