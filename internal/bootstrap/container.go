package bootstrap

import (
	"context"
	"fmt"

	"docchat/internal/config"
	"docchat/internal/constant"
	"docchat/internal/controller"
	"docchat/internal/handler"
	"docchat/internal/pkg/logger"
	"docchat/internal/repository/memory"
	"docchat/internal/service"
	"docchat/internal/websocket"
	pktNats "docchat/pkg/nats"
)

type Container struct {
	// Controllers
	ChatController controller.IChatController

	// WebSockets
	StompHandler *handler.StompHandler
	WebSocketHub *websocket.Hub

	ChatService service.IChatService
	Logger      logger.ILogger

	broker websocket.Broker
	cancel context.CancelFunc
}

// NewContainer wires the relay. A nil answerer falls back to the echo answerer.
func NewContainer(cfg *config.Config, answerer service.Answerer) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	wsLogger := logger.NewIsolatedLogger(cfg.Relay.WSLogFilePath)

	broker, err := newBroker(cfg.Relay, wsLogger)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub(websocket.HubConfig{
		HeartbeatOutgoing: cfg.Relay.HeartbeatOutgoing,
		HeartbeatIncoming: cfg.Relay.HeartbeatIncoming,
	}, broker, wsLogger)

	if answerer == nil {
		answerer = service.EchoAnswerer{}
	}
	sessionRepo := memory.NewSessionRepository(cfg.Relay.SessionTTL)
	chatService := service.NewChatService(sessionRepo, answerer, wsHub, sysLogger)
	wsHub.SetMessageHandler(chatService.HandleMessage)

	return &Container{
		ChatController: controller.NewChatController(chatService),
		StompHandler:   handler.NewStompHandler(wsHub, wsLogger),
		WebSocketHub:   wsHub,
		ChatService:    chatService,
		Logger:         sysLogger,
		broker:         broker,
	}, nil
}

func newBroker(cfg config.RelayConfig, log logger.ILogger) (websocket.Broker, error) {
	switch cfg.Broker {
	case "", "none":
		return nil, nil
	case "redis":
		broker, err := websocket.NewRedisBroker(context.Background(), cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return broker, nil
	case "nats":
		broker, err := pktNats.NewBroker(cfg.NatsURL, constant.ChatClusterSubject, log)
		if err != nil {
			return nil, err
		}
		return broker, nil
	default:
		return nil, fmt.Errorf("unknown relay broker %q (want none, redis or nats)", cfg.Broker)
	}
}

// Start runs the hub until Close.
func (c *Container) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.WebSocketHub.Run(ctx)
}

// Close stops the hub, disconnecting every client, and releases the broker.
func (c *Container) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.WebSocketHub.Done()
	}
	if c.broker != nil {
		if err := c.broker.Close(); err != nil {
			return err
		}
	}
	c.Logger.Sync()
	return nil
}
