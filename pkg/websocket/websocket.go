package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rider-map/pkg/auth"
	"rider-map/pkg/logger"
)

const (
	// Time allowed to write message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Period of sending Ping messages
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 4096

	// Time allowed to send auth message
	authTime = 5 * time.Second
)

var ErrConnectionClosed = errors.New("connection closed")

var ErrSendBufferFull = errors.New("send buffer full")

type wsErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type authRequest struct {
	Type  string `json:"type"`
	Token string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection is one authenticated admin socket.
type Connection struct {
	ID     string
	Claims *auth.AppClaims

	conn       *websocket.Conn
	log        logger.Logger
	send       chan []byte
	done       chan struct{}
	writeMutex sync.Mutex
	closeOnce  sync.Once
}

func newConnection(conn *websocket.Conn, log logger.Logger, claims *auth.AppClaims) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		Claims: claims,
		conn:   conn,
		log:    log.WithFields(logger.LogFields{"session_id": id, "user_id": claims.UserID}),
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Error("websocket_write", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte{}); err != nil {
				c.log.Error("websocket_ping", err)
				return
			}
		case <-c.done:
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Connection) write(mt int, payload []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(mt, payload)
}

// WriteJSON queues v for the write pump. It never blocks.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.log.Error("websocket_send_buffer_full", errors.New("dropping message"))
		return ErrSendBufferFull
	}
}

// ReadPump blocks reading client messages until the socket fails or is
// closed, then calls onDisconnect exactly once.
func (c *Connection) ReadPump(onMessage func(msgType int, p []byte), onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("websocket_read_error", err)
			} else {
				c.log.Info("websocket_disconnect", "Client disconnected")
			}
			return
		}

		onMessage(msgType, msg)
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close stops the connection. The write pump sends a close frame and
// releases the underlying socket.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Handler upgrades requests, authenticates the first message as an admin
// JWT and hands the connection to onConnect.
type Handler struct {
	log        logger.Logger
	jwtManager *auth.JWTManager
	onConnect  func(conn *Connection)
}

func NewHandler(log logger.Logger, jwtManager *auth.JWTManager, onConnect func(conn *Connection)) *Handler {
	return &Handler{
		log:        log,
		jwtManager: jwtManager,
		onConnect:  onConnect,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket_upgrade_failed", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(authTime))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		h.log.Error("websocket_auth_timeout", err)
		sendErrorAndClose(conn, "Authentication timeout")
		return
	}

	var req authRequest
	if err := json.Unmarshal(msg, &req); err != nil || req.Type != "auth" || req.Token == "" {
		h.log.Error("websocket_auth_format_error", errors.New("invalid auth message format"))
		sendErrorAndClose(conn, "Invalid authentication request format")
		return
	}

	claims, err := h.jwtManager.ParseToken(req.Token)
	if err != nil {
		h.log.Error("websocket_auth_token_invalid", err)
		sendErrorAndClose(conn, "Invalid or expired token")
		return
	}

	if !claims.IsAdmin() {
		h.log.WithFields(logger.LogFields{
			"user_id":  claims.UserID,
			"got_role": claims.Role,
		}).Error("websocket_auth_role_mismatch", errors.New("invalid role"))
		sendErrorAndClose(conn, "Invalid or expired token")
		return
	}

	wsConn := newConnection(conn, h.log, claims)
	wsConn.log.Info("websocket_auth_success", "Client authenticated")
	go wsConn.writePump()
	h.onConnect(wsConn)
}

func sendErrorAndClose(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(wsErrorResponse{
		Type:    "error",
		Message: msg,
	})
	conn.Close()
}
