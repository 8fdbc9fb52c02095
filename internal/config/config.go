package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	Client ClientConfig
	Relay  RelayConfig
}

type AppConfig struct {
	Environment string
	LogFilePath string
}

// ClientConfig drives the chat engine and its transports.
type ClientConfig struct {
	APIBaseURL        string
	WSURL             string
	Host              string
	Mode              string // "push" or "request"
	ReconnectDelay    time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	TurnTimeout       time.Duration
	RequestTimeout    time.Duration
	LogFilePath       string
}

// RelayConfig drives the development relay backend.
type RelayConfig struct {
	Port               string
	CorsAllowedOrigins string
	Broker             string // "none", "redis" or "nats"
	RedisURL           string
	NatsURL            string
	SessionTTL         time.Duration
	HeartbeatOutgoing  time.Duration
	HeartbeatIncoming  time.Duration
	WSLogFilePath      string
	OtelEnabled        bool
	OtelEndpoint       string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment: getEnv("GO_ENV", "development"),
			LogFilePath: getEnv("LOG_FILE_PATH", "logs/docchat.log"),
		},
		Client: ClientConfig{
			APIBaseURL:        getEnv("CHAT_API_BASE_URL", "http://localhost:8080"),
			WSURL:             getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),
			Host:              getEnv("CHAT_STOMP_HOST", "localhost"),
			Mode:              getEnv("CHAT_MODE", "push"),
			ReconnectDelay:    getEnvAsDuration("CHAT_RECONNECT_DELAY_MS", 5*time.Second),
			HeartbeatOutgoing: getEnvAsDuration("CHAT_HEARTBEAT_OUTGOING_MS", 4*time.Second),
			HeartbeatIncoming: getEnvAsDuration("CHAT_HEARTBEAT_INCOMING_MS", 4*time.Second),
			TurnTimeout:       getEnvAsDuration("CHAT_TURN_TIMEOUT_MS", 2*time.Minute),
			RequestTimeout:    getEnvAsDuration("CHAT_REQUEST_TIMEOUT_MS", 2*time.Minute),
			LogFilePath:       getEnv("CHAT_LOG_FILE_PATH", "logs/chat-client.log"),
		},
		Relay: RelayConfig{
			Port:               getEnv("APP_PORT", "8080"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			Broker:             getEnv("RELAY_BROKER", "none"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			SessionTTL:         getEnvAsDuration("RELAY_SESSION_TTL_MS", time.Hour),
			HeartbeatOutgoing:  getEnvAsDuration("RELAY_HEARTBEAT_OUTGOING_MS", 4*time.Second),
			HeartbeatIncoming:  getEnvAsDuration("RELAY_HEARTBEAT_INCOMING_MS", 4*time.Second),
			WSLogFilePath:      getEnv("RELAY_WS_LOG_FILE_PATH", "logs/relay-ws.log"),
			OtelEnabled:        getEnvAsBool("OTEL_ENABLED", false),
			OtelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration reads a millisecond count.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	ms := getEnvAsInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
