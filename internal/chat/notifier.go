package chat

import (
	"context"
	"encoding/json"

	"docchat/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const snapshotTopic = "chat.snapshots"

// Notifier fans snapshots out to observers over an in-process pub/sub.
// Each subscriber receives the latest snapshot; intermediate ones are
// conflated when the reader falls behind.
type Notifier struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewNotifier(log logger.ILogger) *Notifier {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermillLogger{log: log},
	)
	return &Notifier{pubSub: pubSub, logger: log}
}

func (n *Notifier) Publish(s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return n.pubSub.Publish(snapshotTopic, msg)
}

// Subscribe returns a channel of snapshots in increasing version order. It is
// closed when ctx is cancelled or the notifier is closed.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	messages, err := n.pubSub.Subscribe(ctx, snapshotTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		var last uint64
		for msg := range messages {
			var s Snapshot
			err := json.Unmarshal(msg.Payload, &s)
			msg.Ack()
			if err != nil {
				n.logger.Warn("Engine", "Dropping undecodable snapshot", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if s.Version <= last {
				continue
			}
			last = s.Version

			select {
			case out <- s:
			default:
				// Replace the unread snapshot with the newer one.
				select {
				case <-out:
				default:
				}
				out <- s
			}
		}
	}()
	return out, nil
}

func (n *Notifier) Close() error {
	return n.pubSub.Close()
}

// watermillLogger routes watermill's own diagnostics into the module logger.
type watermillLogger struct {
	log    logger.ILogger
	fields watermill.LogFields
}

func (l watermillLogger) details(fields watermill.LogFields) map[string]interface{} {
	out := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	details := l.details(fields)
	if err != nil {
		details["error"] = err.Error()
	}
	l.log.Error("Notifier", msg, details)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Debug("Notifier", msg, l.details(fields))
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug("Notifier", msg, l.details(fields))
}

func (l watermillLogger) Trace(string, watermill.LogFields) {}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{log: l.log, fields: l.details(fields)}
}
