package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rider-map/internal/ridermap/app"
	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/auth"
	"rider-map/pkg/logger"
	ws "rider-map/pkg/websocket"
)

type stubSource struct {
	mu     sync.Mutex
	riders []domain.RiderLocation
	err    error
}

func (s *stubSource) FetchRiderLocations(context.Context) ([]domain.RiderLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.riders, s.err
}

type stubPending struct {
	n  int
	ok bool
}

func (p stubPending) Pending() (int, bool) { return p.n, p.ok }

type testEnv struct {
	srv     *httptest.Server
	jwt     *auth.JWTManager
	svc     *app.MapService
	sockets *ws.Manager
	source  *stubSource
}

func newTestEnv(t *testing.T, pending PendingCounter) *testEnv {
	t.Helper()
	log := logger.NewNop()
	source := &stubSource{riders: []domain.RiderLocation{
		{
			RiderID: "1", Latitude: "8.50", Longitude: "124.60", Availability: domain.AvailabilityAvailable,
			User: &domain.RiderUser{FirstName: "Anna", LastName: "Cruz"},
		},
		{
			RiderID: "2", Latitude: "8.52", Longitude: "124.64", Availability: domain.AvailabilityBooked,
			User: &domain.RiderUser{FirstName: "Ben", LastName: "Sy"},
		},
		{RiderID: "3", Latitude: "abc", Longitude: "124.6"},
	}}

	opts := app.SessionOptions{
		PollInterval:       time.Hour,
		MaxBackoff:         time.Hour,
		GeolocationTimeout: time.Hour,
		LocationChannel:    "riders",
		LocationEvent:      "RIDERS_CHANGED",
		Presenter:          app.DefaultPresenterOptions(),
	}
	svc := app.NewMapService(log, app.NewFetcher(source, time.Second, log), nil, nil, opts)
	jwt := auth.NewJWTManager("test-secret", time.Hour)
	sockets := ws.NewManager(log)

	h := NewHandler(svc, pending, jwt, NewRateLimiter(time.Hour, 1), sockets, log)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(h.WithRequestID(mux))
	t.Cleanup(func() {
		svc.Shutdown()
		sockets.CloseAll()
		srv.Close()
	})

	return &testEnv{srv: srv, jwt: jwt, svc: svc, sockets: sockets, source: source}
}

func (e *testEnv) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken("admin-1", role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, stubPending{})
	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestMap_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t, stubPending{})

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/admin/riders/map", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/admin/riders/map", "garbage").StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/admin/riders/map", env.token(t, auth.Role("PASSENGER"))).StatusCode)
}

func TestMap_Render(t *testing.T) {
	env := newTestEnv(t, stubPending{})
	tok := env.token(t, auth.RoleAdmin)

	resp := env.do(t, http.MethodGet, "/admin/riders/map?search=anna&width=800&height=600", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view domain.MapView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, domain.Counts{Total: 3, Valid: 2, Shown: 1}, view.Counts)
	require.Len(t, view.Markers, 1)
	assert.Equal(t, domain.RiderID("1"), view.Markers[0].RiderID)
	assert.True(t, view.Markers[0].Highlighted)
	assert.Equal(t, domain.ViewportSearch, view.Viewport.Reason)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/admin/riders/map?zoom=99", tok).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/admin/riders/map?lat=100&lng=1", tok).StatusCode)

	env.source.mu.Lock()
	env.source.err = domain.ErrUnexpectedStatus
	env.source.mu.Unlock()
	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodGet, "/admin/riders/map", env.token(t, auth.RoleSuperAdmin)).StatusCode)
}

func TestRefresh_RateLimited(t *testing.T) {
	env := newTestEnv(t, stubPending{})
	tok := env.token(t, auth.RoleAdmin)

	resp := env.do(t, http.MethodPost, "/admin/riders/map/refresh", tok)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/admin/riders/map/refresh", tok)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestPending(t *testing.T) {
	env := newTestEnv(t, stubPending{})
	tok := env.token(t, auth.RoleAdmin)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/admin/riders/requirements/pending", tok).StatusCode)

	env = newTestEnv(t, stubPending{n: 4, ok: true})
	tok = env.token(t, auth.RoleAdmin)
	resp := env.do(t, http.MethodGet, "/admin/riders/requirements/pending", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body pendingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 4, body.Pending)
}

type wsFrame struct {
	Type    string         `json:"type"`
	View    domain.MapView `json:"view"`
	Pending int            `json:"pending"`
	Message string         `json:"message"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestMapSocket(t *testing.T) {
	env := newTestEnv(t, stubPending{n: 2, ok: true})
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/admin/riders/map"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "message": "Bearer " + env.token(t, auth.RoleAdmin)}))

	ready := readUntil(t, conn, func(f wsFrame) bool {
		return f.Type == msgMapView && f.View.Status == domain.StatusReady
	})
	assert.Equal(t, 3, ready.View.Counts.Total)
	assert.Equal(t, 2, ready.View.Counts.Valid)
	assert.Equal(t, 1, env.svc.SessionCount())

	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgSearch, Query: "ben"}))
	searched := readUntil(t, conn, func(f wsFrame) bool { return f.Type == msgMapView && f.View.Search == "ben" })
	require.Len(t, searched.View.Markers, 1)
	assert.Equal(t, domain.RiderID("2"), searched.View.Markers[0].RiderID)

	lat, lng := 8.49, 124.62
	require.NoError(t, conn.WriteJSON(clientMessage{Type: msgDeviceLocation, Latitude: &lat, Longitude: &lng}))
	located := readUntil(t, conn, func(f wsFrame) bool { return f.Type == msgMapView && f.View.DeviceMarker != nil })
	assert.Equal(t, domain.LatLng{Lat: lat, Lng: lng}, located.View.DeviceMarker.Position)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "bogus"}))
	bad := readUntil(t, conn, func(f wsFrame) bool { return f.Type == msgError })
	assert.Contains(t, bad.Message, "unknown message type")

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.Eventually(t, func() bool {
		return env.svc.SessionCount() == 0 && env.sockets.GetConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMapSocket_RejectsNonAdmin(t *testing.T) {
	env := newTestEnv(t, stubPending{})
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/admin/riders/map"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "message": env.token(t, auth.Role("DRIVER"))}))
	f := readUntil(t, conn, func(wsFrame) bool { return true })
	assert.Equal(t, msgError, f.Type)
	assert.Zero(t, env.svc.SessionCount())
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10*time.Second, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(10 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}
