package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rider-map/pkg/config"
	"rider-map/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxRetries    = 10
	retryInterval = 3 * time.Second
	maxBackoff    = 30 * time.Second
)

var ErrNotConnected = errors.New("rabbitmq is not connected")

// Connection is a wrapper around the amqp.Connection that handles auto-reconnection.
type Connection struct {
	logger      logger.Logger
	dsn         string
	exchanges   []string
	conn        *amqp.Connection
	pubChannel  *amqp.Channel // A dedicated channel for publishing
	mu          sync.RWMutex  // Protects conn and pubChannel during reconnects
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan struct{} // Signals graceful shutdown
	closeOnce   sync.Once
}

// DSN builds the AMQP URL for cfg.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.User,
		cfg.RabbitMQ.Password,
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
	)
}

// NewConnection dials the broker with retries and declares the rider
// location fanout exchange.
func NewConnection(ctx context.Context, cfg *config.Config, log logger.Logger) (*Connection, error) {
	c := &Connection{
		logger:    log,
		dsn:       DSN(cfg),
		exchanges: []string{cfg.RabbitMQ.RiderExchange},
		done:      make(chan struct{}),
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		err = c.connect()
		if err != nil {
			log.Error("rabbitmq_connect_retry", fmt.Errorf("failed to connect to RabbitMQ (attempt %d/%d): %w", i+1, maxRetries, err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
			continue
		}
		log.Info("rabbitmq_connect", "Initial RabbitMQ connection established")
		if setupErr := c.SetupTopology(); setupErr != nil {
			c.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ topology: %w", setupErr)
		}
		go c.reconnectLoop()
		return c, nil
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d retries: %w", maxRetries, err)
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.dsn)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	c.pubChannel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open publisher channel: %w", err)
	}

	c.isConnected = true
	c.notifyClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyClose)

	c.logger.Debug("rabbitmq_connect_internal", "Connection and publisher channel established")
	return nil
}

func (c *Connection) reconnectLoop() {
	for {
		c.mu.RLock()
		notify := c.notifyClose
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case err := <-notify:
			if err == nil {
				c.logger.Info("rabbitmq_reconnect_loop", "Connection closed gracefully")
				return
			}
			c.logger.Error("rabbitmq_disconnect", fmt.Errorf("RabbitMQ connection lost: %w", err))
			c.mu.Lock()
			c.isConnected = false
			c.mu.Unlock()

			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect retries with growing backoff until it succeeds or the connection
// is closed. It reports whether the connection is usable again.
func (c *Connection) reconnect() bool {
	backoff := time.Second
	for {
		c.logger.Info("rabbitmq_reconnect_attempt", fmt.Sprintf("Attempting to reconnect in %s...", backoff))
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		if err := c.connect(); err != nil {
			c.logger.Error("rabbitmq_reconnect_failed", fmt.Errorf("failed to reconnect to RabbitMQ: %w", err))
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if err := c.SetupTopology(); err != nil {
			c.logger.Error("rabbitmq_reconnect_setup_failed", fmt.Errorf("failed to re-declare topology: %w", err))
			continue
		}
		c.logger.Info("rabbitmq_reconnect_success", "RabbitMQ connection established")
		return true
	}
}

// SetupTopology declares the fanout exchanges riders-changed events flow through.
func (c *Connection) SetupTopology() error {
	ch, err := c.channel()
	if err != nil {
		return fmt.Errorf("failed to open setup channel: %w", err)
	}
	defer ch.Close()

	for _, ex := range c.exchanges {
		if err := ch.ExchangeDeclare(ex, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex, err)
		}
	}
	c.logger.Info("rabbitmq_setup_success", "Successfully declared RabbitMQ topology")
	return nil
}

func (c *Connection) channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected {
		return nil, ErrNotConnected
	}
	return c.conn.Channel()
}

// Publish sends a message to an exchange. It is goroutine-safe.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
	}
	return c.pubChannel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// SubscribeFanout binds a private, auto-deleted queue to exchange and calls
// handler for every delivery until ctx is cancelled or the connection is
// closed. Consumption resumes on a fresh queue after reconnects. The
// returned channel is closed once the consumer goroutine has exited and its
// AMQP channel is released.
func (c *Connection) SubscribeFanout(ctx context.Context, exchange string, handler func(amqp.Delivery)) (<-chan struct{}, error) {
	log := c.logger.WithFields(logger.LogFields{"exchange": exchange})

	// Fail fast on the first attempt so callers see configuration errors.
	ch, msgs, err := c.bindPrivateQueue(exchange)
	if err != nil {
		return nil, err
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			if ch != nil {
				closed := c.consumeUntilClosed(ctx, ch, msgs, handler)
				ch.Close()
				if !closed {
					log.Debug("consumer_stop", "Subscription released")
					return
				}
				ch = nil
			}

			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(retryInterval):
			}

			ch, msgs, err = c.bindPrivateQueue(exchange)
			if err != nil {
				log.Error("consumer_rebind_failed", err)
				ch = nil
				continue
			}
			log.Info("consumer_running", "Subscription restored")
		}
	}()
	return stopped, nil
}

func (c *Connection) bindPrivateQueue(exchange string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to declare private queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, exchange, err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return ch, msgs, nil
}

// consumeUntilClosed returns true when the broker side went away and a
// rebind should be attempted, false when the caller asked to stop.
func (c *Connection) consumeUntilClosed(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery, handler func(amqp.Delivery)) bool {
	notifyChanClose := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.done:
			return false
		case <-notifyChanClose:
			return true
		case msg, ok := <-msgs:
			if !ok {
				return true
			}
			handler(msg)
		}
	}
}

// Close gracefully shuts down the connection and the reconnect loop.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isConnected {
		return
	}
	c.logger.Info("rabbitmq_close", "Closing RabbitMQ connection")
	c.isConnected = false

	if c.pubChannel != nil {
		c.pubChannel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
