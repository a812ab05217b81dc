package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
	"rider-map/pkg/rabbitmq"
)

// envelope is the message body on the rider exchange. The routing key
// carries the event name.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ChangeSubscriber delivers rider exchange messages as channel events.
type ChangeSubscriber struct {
	conn     *rabbitmq.Connection
	exchange string
	log      logger.Logger
}

func NewChangeSubscriber(conn *rabbitmq.Connection, exchange string, log logger.Logger) *ChangeSubscriber {
	return &ChangeSubscriber{
		conn:     conn,
		exchange: exchange,
		log:      log.WithFields(logger.LogFields{"exchange": exchange}),
	}
}

// Subscribe binds a private queue and calls handler for every message
// addressed to channel.
func (s *ChangeSubscriber) Subscribe(ctx context.Context, channel string, handler func(domain.Event)) (domain.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	stopped, err := s.conn.SubscribeFanout(subCtx, s.exchange, func(d amqp.Delivery) {
		ev, ok := decodeDelivery(d.RoutingKey, d.Body, channel)
		if !ok {
			return
		}
		handler(ev)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.exchange, err)
	}

	s.log.WithFields(logger.LogFields{"channel": channel}).Debug("rabbitmq_subscribed", "Listening on rider exchange")
	return &subscription{cancel: cancel, stopped: stopped}, nil
}

type subscription struct {
	cancel  context.CancelFunc
	stopped <-chan struct{}
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.stopped
	})
	return nil
}

// decodeDelivery maps a message to an event on channel. Bodies that are not
// an envelope are delivered as raw data; envelopes for another channel are
// skipped.
func decodeDelivery(routingKey string, body []byte, channel string) (domain.Event, bool) {
	ev := domain.Event{Channel: channel, Name: routingKey, Data: body}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Channel == "" {
		return ev, true
	}
	if env.Channel != channel {
		return domain.Event{}, false
	}
	ev.Data = env.Data
	return ev, true
}

// Notifier publishes change events to the rider exchange.
type Notifier struct {
	conn     *rabbitmq.Connection
	exchange string
}

func NewNotifier(conn *rabbitmq.Connection, exchange string) *Notifier {
	return &Notifier{conn: conn, exchange: exchange}
}

// Notify publishes event on channel. data may be nil.
func (n *Notifier) Notify(ctx context.Context, channel, event string, data []byte) error {
	body, err := encodeEnvelope(channel, data)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(ctx, n.exchange, event, body); err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", event, channel, err)
	}
	return nil
}

func encodeEnvelope(channel string, data []byte) ([]byte, error) {
	env := envelope{Channel: channel}
	if len(data) > 0 {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: event data is not JSON", domain.ErrMalformedPayload)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
