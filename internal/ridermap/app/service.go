package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
	"rider-map/pkg/logger"
)

// MapService owns the live map sessions and answers one-shot renders.
type MapService struct {
	log        logger.Logger
	fetcher    *Fetcher
	subscriber domain.ChangeSubscriber
	locator    domain.DeviceLocator
	opts       SessionOptions

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewMapService(
	log logger.Logger,
	fetcher *Fetcher,
	subscriber domain.ChangeSubscriber,
	locator domain.DeviceLocator,
	opts SessionOptions,
) *MapService {
	return &MapService{
		log:        log,
		fetcher:    fetcher,
		subscriber: subscriber,
		locator:    locator,
		opts:       opts,
		sessions:   make(map[string]*Session),
	}
}

// OpenSession creates and activates a live view. The session stays
// registered until CloseSession or Shutdown.
func (m *MapService) OpenSession(ctx context.Context, id string, onChange func(domain.MapView)) (*Session, error) {
	s := NewSession(id, m.log, m.fetcher, m.subscriber, m.locator, m.opts, onChange)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	if _, dup := m.sessions[id]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already open", id)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.Activate(ctx); err != nil {
		m.CloseSession(id)
		return nil, err
	}
	return s, nil
}

// CloseSession tears down and forgets a session. Unknown ids are ignored.
func (m *MapService) CloseSession(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// RefreshAll asks every live session for an immediate refresh and returns
// how many were asked.
func (m *MapService) RefreshAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.RequestRefresh()
	}
	return len(m.sessions)
}

func (m *MapService) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and refuses new ones.
func (m *MapService) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// RenderRequest describes a one-shot render.
type RenderRequest struct {
	Search string
	Zoom   *int
	Size   geo.Size
	Device *domain.LatLng
}

// Render fetches the current snapshot and presents it without keeping any
// session state.
func (m *MapService) Render(ctx context.Context, req RenderRequest) (domain.MapView, error) {
	riders, err := m.fetcher.Fetch(ctx)
	if err != nil {
		return domain.MapView{}, err
	}
	now := time.Now().UTC()
	return Present(PresentInput{
		Status:    domain.StatusReady,
		Riders:    riders,
		FetchedAt: &now,
		Search:    req.Search,
		Device:    req.Device,
		Zoom:      req.Zoom,
		Size:      req.Size,
	}, m.opts.Presenter), nil
}
