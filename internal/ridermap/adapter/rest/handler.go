package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rider-map/internal/ridermap/app"
	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
	"rider-map/pkg/auth"
	"rider-map/pkg/logger"
	ws "rider-map/pkg/websocket"
)

// PendingCounter reports the pending rider applications count.
type PendingCounter interface {
	Pending() (count int, ok bool)
}

// Handler serves the admin riders map API.
type Handler struct {
	svc     *app.MapService
	pending PendingCounter
	jwt     *auth.JWTManager
	limiter *RateLimiter
	sockets *ws.Manager
	log     logger.Logger
}

func NewHandler(
	svc *app.MapService,
	pending PendingCounter,
	jwt *auth.JWTManager,
	limiter *RateLimiter,
	sockets *ws.Manager,
	log logger.Logger,
) *Handler {
	return &Handler{
		svc:     svc,
		pending: pending,
		jwt:     jwt,
		limiter: limiter,
		sockets: sockets,
		log:     log,
	}
}

// RegisterRoutes mounts the API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	admin := func(fn http.HandlerFunc) http.Handler {
		return h.jwt.AuthMiddleware(auth.AdminOnly(fn))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /admin/riders/map", admin(h.HandleMap))
	mux.Handle("POST /admin/riders/map/refresh", admin(h.HandleRefresh))
	mux.Handle("GET /admin/riders/requirements/pending", admin(h.HandlePending))
	mux.Handle("GET /ws/admin/riders/map", ws.NewHandler(h.log, h.jwt, h.serveSession))
}

// WithRequestID tags every request with an id and logs its outcome.
func (h *Handler) WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		h.log.WithFields(logger.LogFields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http_request", "Request handled")
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Sockets  int    `json:"sockets"`
	Time     string `json:"time"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: h.svc.SessionCount(),
		Sockets:  h.sockets.GetConnectionCount(),
		Time:     nowISO(),
	})
}

// HandleMap renders the current snapshot for the query in the URL.
func (h *Handler) HandleMap(w http.ResponseWriter, r *http.Request) {
	req, err := renderRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.svc.Render(r.Context(), req)
	if err != nil {
		h.log.Error("render_map_failed", err)
		writeError(w, http.StatusBadGateway, domain.MsgFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func renderRequestFromQuery(r *http.Request) (app.RenderRequest, error) {
	q := r.URL.Query()
	req := app.RenderRequest{Search: q.Get("search")}

	if v := q.Get("zoom"); v != "" {
		z, err := strconv.Atoi(v)
		if err != nil || z < 0 || z > geo.MaxZoom {
			return req, errors.New("invalid zoom")
		}
		req.Zoom = &z
	}

	width, err := optionalFloat(q.Get("width"))
	if err != nil {
		return req, errors.New("invalid width")
	}
	height, err := optionalFloat(q.Get("height"))
	if err != nil {
		return req, errors.New("invalid height")
	}
	req.Size = geo.Size{Width: width, Height: height}

	device, err := app.ParseLatLng(q.Get("lat"), q.Get("lng"))
	if err != nil {
		return req, err
	}
	req.Device = device
	return req, nil
}

type refreshResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// HandleRefresh asks every live map to re-read the snapshot now.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetClaims(r.Context())
	if !h.limiter.Allow(claims.UserID) {
		writeError(w, http.StatusTooManyRequests, "refresh requested too often")
		return
	}

	n := h.svc.RefreshAll()
	h.log.WithFields(logger.LogFields{"user_id": claims.UserID, "sessions": n}).
		Info("map_refresh_requested", "Refresh requested for live maps")
	writeJSON(w, http.StatusAccepted, refreshResponse{Status: "accepted", Sessions: n})
}

type pendingResponse struct {
	Pending int `json:"pending"`
}

func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	n, ok := h.pending.Pending()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "pending applications not counted yet")
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Pending: n})
}
