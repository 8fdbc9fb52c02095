package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "push", cfg.Client.Mode)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Client.WSURL)
	assert.Equal(t, 5*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, 4*time.Second, cfg.Client.HeartbeatOutgoing)
	assert.Equal(t, 4*time.Second, cfg.Client.HeartbeatIncoming)
	assert.Equal(t, 2*time.Minute, cfg.Client.TurnTimeout)
	assert.Equal(t, "none", cfg.Relay.Broker)
	assert.False(t, cfg.Relay.OtelEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAT_MODE", "request")
	t.Setenv("CHAT_RECONNECT_DELAY_MS", "250")
	t.Setenv("CHAT_HEARTBEAT_OUTGOING_MS", "0")
	t.Setenv("RELAY_BROKER", "nats")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "request", cfg.Client.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.ReconnectDelay)
	assert.Zero(t, cfg.Client.HeartbeatOutgoing, "zero disables heart-beats")
	assert.Equal(t, "nats", cfg.Relay.Broker)
	assert.Equal(t, "9090", cfg.Relay.Port)
	assert.True(t, cfg.Relay.OtelEnabled)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CHAT_TURN_TIMEOUT_MS", "soon")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 2*time.Minute, cfg.Client.TurnTimeout)
	assert.False(t, cfg.Relay.OtelEnabled)
}
