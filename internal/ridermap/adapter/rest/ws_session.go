package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"rider-map/internal/ridermap/app"
	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
	"rider-map/pkg/logger"
	ws "rider-map/pkg/websocket"
)

const (
	msgMapView            = "map_view"
	msgPendingApps        = "pending_requirements"
	msgError              = "error"
	msgDeviceLocation     = "device_location"
	msgDeviceLocationFail = "device_location_error"
	msgSearch             = "search"
	msgViewport           = "viewport"
	msgDismissError       = "dismiss_error"
	msgDismissWarning     = "dismiss_warning"
	msgRefresh            = "refresh"
)

type mapViewMessage struct {
	Type string         `json:"type"`
	View domain.MapView `json:"view"`
}

type pendingMessage struct {
	Type    string `json:"type"`
	Pending int    `json:"pending"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type clientMessage struct {
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Message   string   `json:"message,omitempty"`
	Query     string   `json:"query,omitempty"`
	Zoom      *int     `json:"zoom,omitempty"`
	Width     float64  `json:"width,omitempty"`
	Height    float64  `json:"height,omitempty"`
}

// PendingBroadcaster returns a callback that pushes the pending
// applications count to every open map socket.
func PendingBroadcaster(sockets *ws.Manager) func(int) {
	return func(n int) {
		sockets.Broadcast(pendingMessage{Type: msgPendingApps, Pending: n})
	}
}

type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// send queues v on conn. A socket that is already closed is not an error.
func send(conn jsonWriter, log logger.Logger, action string, v interface{}) {
	if err := conn.WriteJSON(v); err != nil && !errors.Is(err, ws.ErrConnectionClosed) {
		log.Error(action, err)
	}
}

// serveSession runs one authenticated map socket until it disconnects.
func (h *Handler) serveSession(conn *ws.Connection) {
	h.sockets.AddConnection(conn)
	log := h.log.WithFields(logger.LogFields{"session_id": conn.ID, "user_id": conn.Claims.UserID})

	session, err := h.svc.OpenSession(context.Background(), conn.ID, func(view domain.MapView) {
		send(conn, log, "map_view_send_failed", mapViewMessage{Type: msgMapView, View: view})
	})
	if err != nil {
		log.Error("open_session_failed", err)
		send(conn, log, "error_send_failed", errorMessage{Type: msgError, Message: "map unavailable"})
		h.sockets.RemoveConnection(conn.ID)
		return
	}

	if n, ok := h.pending.Pending(); ok {
		send(conn, log, "pending_send_failed", pendingMessage{Type: msgPendingApps, Pending: n})
	}

	conn.ReadPump(
		func(msgType int, p []byte) {
			if msgType != websocket.TextMessage {
				return
			}
			if err := h.handleClientMessage(conn, session, p); err != nil {
				log.Warn("client_message_rejected", err.Error())
				send(conn, log, "error_send_failed", errorMessage{Type: msgError, Message: err.Error()})
			}
		},
		func() {
			h.svc.CloseSession(conn.ID)
			h.sockets.RemoveConnection(conn.ID)
		},
	)
}

func (h *Handler) handleClientMessage(conn *ws.Connection, s *app.Session, p []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(p, &msg); err != nil {
		return errors.New("invalid message format")
	}

	switch msg.Type {
	case msgDeviceLocation:
		if msg.Latitude == nil || msg.Longitude == nil {
			return errors.New("latitude and longitude are required")
		}
		return ignoreResolved(s.SetDeviceLocation(domain.LatLng{Lat: *msg.Latitude, Lng: *msg.Longitude}))
	case msgDeviceLocationFail:
		return ignoreResolved(s.DeviceLocationFailed(errors.New(msg.Message)))
	case msgSearch:
		return s.SetSearch(msg.Query)
	case msgViewport:
		zoom := -1
		if msg.Zoom != nil {
			zoom = *msg.Zoom
		}
		return s.SetViewport(zoom, geo.Size{Width: msg.Width, Height: msg.Height})
	case msgDismissError:
		return s.DismissError()
	case msgDismissWarning:
		return s.DismissWarning()
	case msgRefresh:
		if !h.limiter.Allow(conn.Claims.UserID) {
			return errors.New("refresh requested too often")
		}
		s.RequestRefresh()
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// ignoreResolved drops the error for a second device location answer; the
// browser may report more than once and only the first one counts.
func ignoreResolved(err error) error {
	if err == nil || errors.Is(err, domain.ErrSessionClosed) {
		return err
	}
	if errors.Is(err, app.ErrDeviceResolved) {
		return nil
	}
	return err
}
