package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aethex/platform/internal/logging"
)

// DefaultSubjectPrefix is prepended to event types to form NATS subjects.
const DefaultSubjectPrefix = "aethex"

type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// NATSPublisher publishes events as JSON on "<prefix>.<event type>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *logging.Logger
}

// ConnectNATS dials url and returns a publisher over the connection.
func ConnectNATS(url, name string, logger *logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithContext(context.Background()).WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithContext(context.Background()).WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSPublisher(nc, DefaultSubjectPrefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *logging.Logger) *NATSPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Forward subscribes to every event under the prefix and hands each one to
// dst. The gateway uses it to feed the local realtime hub from the bus so
// every instance sees every event.
func (p *NATSPublisher) Forward(dst Publisher) (*nats.Subscription, error) {
	return p.conn.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.logger.WithContext(context.Background()).WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed event")
			return
		}
		if err := dst.Publish(context.Background(), event); err != nil {
			p.logger.WithContext(context.Background()).WithError(err).Warn("forward event failed")
		}
	})
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
