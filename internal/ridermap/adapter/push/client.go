// Package push subscribes to named channels on a Pusher-protocol WebSocket
// service.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
)

const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	handshakeWait = 10 * time.Second
	writeWait     = 5 * time.Second
)

var ErrHandshake = errors.New("push handshake failed")

// frame is one protocol message. Data is either an object or a JSON string
// holding encoded JSON.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client opens one connection per subscription.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    logger.Logger
}

// NewClient targets rawURL. When appKey is set and the URL has no /app/
// path, the standard /app/<key> path is appended.
func NewClient(rawURL, appKey string, log logger.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid push url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid push url scheme %q", u.Scheme)
	}
	if appKey != "" && !strings.Contains(u.Path, "/app/") {
		u.Path = strings.TrimRight(u.Path, "/") + "/app/" + url.PathEscape(appKey)
		q := u.Query()
		if q.Get("protocol") == "" {
			q.Set("protocol", "7")
		}
		u.RawQuery = q.Encode()
	}

	return &Client{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeWait},
		log:    log,
	}, nil
}

// Subscribe connects, joins channel and delivers its events to handler
// from a single goroutine until the subscription is closed.
func (c *Client) Subscribe(ctx context.Context, channel string, handler func(domain.Event)) (domain.Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial push service: %w", err)
	}

	socketID, err := awaitEstablished(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &subscription{
		conn:    conn,
		channel: channel,
		handler: handler,
		log:     c.log.WithFields(logger.LogFields{"channel": channel, "socket_id": socketID}),
		stopped: make(chan struct{}),
	}
	if err := s.send(eventSubscribe, map[string]string{"channel": channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go s.readLoop()
	return s, nil
}

func awaitEstablished(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	defer conn.SetReadDeadline(time.Time{})

	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	switch f.Event {
	case eventConnectionEstablished:
	case eventError:
		return "", fmt.Errorf("%w: %s", ErrHandshake, payload(f.Data))
	default:
		return "", fmt.Errorf("%w: unexpected event %q", ErrHandshake, f.Event)
	}

	var info struct {
		SocketID string `json:"socket_id"`
	}
	_ = json.Unmarshal(payload(f.Data), &info)
	return info.SocketID, nil
}

type subscription struct {
	conn    *websocket.Conn
	channel string
	handler func(domain.Event)
	log     logger.Logger

	writeMu   sync.Mutex
	closing   bool
	closeOnce sync.Once
	stopped   chan struct{}
}

func (s *subscription) readLoop() {
	defer close(s.stopped)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosing() {
				s.log.Error("push_read_failed", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.Warn("push_frame_invalid", err.Error())
			continue
		}

		switch f.Event {
		case eventPing:
			if err := s.send(eventPong, struct{}{}); err != nil {
				s.log.Error("push_pong_failed", err)
			}
		case eventSubscriptionSucceeded:
			s.log.Debug("push_subscribed", "Subscription confirmed")
		case eventError:
			s.log.Warn("push_error", string(payload(f.Data)))
		default:
			if f.Channel != s.channel || strings.HasPrefix(f.Event, "pusher") {
				continue
			}
			s.handler(domain.Event{Channel: f.Channel, Name: f.Event, Data: payload(f.Data)})
		}
	}
}

func (s *subscription) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame{Event: event, Data: raw})
}

// Close unsubscribes, disconnects and waits for the read loop to stop.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closing = true
		s.writeMu.Unlock()

		select {
		case <-s.stopped:
			// The service already dropped the connection.
		default:
			if uerr := s.send(eventUnsubscribe, map[string]string{"channel": s.channel}); uerr != nil {
				err = fmt.Errorf("failed to unsubscribe from %s: %w", s.channel, uerr)
			}
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
		}

		s.conn.Close()
		<-s.stopped
	})
	return err
}

func (s *subscription) isClosing() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closing
}

// payload unwraps data sent as a JSON string.
func payload(data json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return []byte(s)
		}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
