package nats

import (
	"context"
	"fmt"
	"time"

	"docchat/internal/pkg/logger"

	"github.com/nats-io/nats.go"
)

// Broker fans relay frames out over a core NATS subject. Every instance gets
// every frame, so no JetStream stream or durable consumer is involved.
type Broker struct {
	nc      *nats.Conn
	subject string
	logger  logger.ILogger
}

// NewBroker connects to url and publishes on subject.
func NewBroker(url, subject string, log logger.ILogger) (*Broker, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NatsBroker", "Disconnected from NATS", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NatsBroker", "Reconnected to NATS", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Broker{nc: nc, subject: subject, logger: log}, nil
}

// Publish sends payload to every subscribed instance.
func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", b.subject, err)
	}
	return nil
}

// Subscribe delivers payloads to handler until ctx ends.
func (b *Broker) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	b.logger.Info("NatsBroker", "Subscribed to cluster subject", map[string]interface{}{"subject": b.subject})
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Broker) Close() error {
	if b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
