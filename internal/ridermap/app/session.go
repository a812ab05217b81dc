package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"rider-map/internal/ridermap/domain"
	"rider-map/internal/ridermap/geo"
	"rider-map/pkg/logger"
)

// SessionOptions configure one live map view.
type SessionOptions struct {
	PollInterval       time.Duration
	MaxBackoff         time.Duration
	GeolocationTimeout time.Duration
	LocationChannel    string
	LocationEvent      string
	Presenter          PresenterOptions
}

// Session is one live map view, from activation until teardown. It owns
// the poll loop, the change subscription and the view state. All state
// writes happen under mu and are refused once the session is closed.
type Session struct {
	id         string
	log        logger.Logger
	fetcher    *Fetcher
	subscriber domain.ChangeSubscriber
	locator    domain.DeviceLocator
	opts       SessionOptions
	onChange   func(domain.MapView)

	mu       sync.Mutex
	state    viewState
	closed   bool
	started  bool
	cancel   context.CancelFunc
	deviceCh chan struct{}

	// notifyMu orders view deliveries and lets Close wait out the last one.
	notifyMu sync.Mutex
	kick     chan struct{}
	wg       sync.WaitGroup
}

type viewState struct {
	status    domain.ViewStatus
	riders    []domain.RiderLocation
	fetchedAt time.Time
	failures  int

	search string
	zoom   *int
	size   geo.Size

	device         *domain.LatLng
	deviceResolved bool

	fetchError string
	warning    string
}

// NewSession builds an idle session. subscriber and locator may be nil:
// without a subscriber the view relies on polling alone, and without a
// locator the device position must be reported with SetDeviceLocation.
// onChange receives every new view; it is never called after Close
// returns.
func NewSession(
	id string,
	log logger.Logger,
	fetcher *Fetcher,
	subscriber domain.ChangeSubscriber,
	locator domain.DeviceLocator,
	opts SessionOptions,
	onChange func(domain.MapView),
) *Session {
	if onChange == nil {
		onChange = func(domain.MapView) {}
	}
	return &Session{
		id:         id,
		log:        log.WithFields(logger.LogFields{"session_id": id}),
		fetcher:    fetcher,
		subscriber: subscriber,
		locator:    locator,
		opts:       opts,
		onChange:   onChange,
		state:      viewState{status: domain.StatusIdle},
		deviceCh:   make(chan struct{}),
		kick:       make(chan struct{}, 1),
	}
}

func (s *Session) ID() string { return s.id }

// Activate starts polling, subscribes to change notifications and asks for
// the device location. It returns at once; the first snapshot arrives
// through onChange.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.state.status = domain.StatusLoading
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Info("session_activated", "Map view activated")
	s.notify()

	s.wg.Add(3)
	go s.pollLoop(ctx)
	go s.listen(ctx)
	go s.resolveDevice(ctx)
	return nil
}

// Close tears the session down: polling stops, the subscription is
// released and no further state change or onChange call happens once it
// returns. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	// Wait out a delivery that started before closed was set.
	s.notifyMu.Lock()
	s.notifyMu.Unlock() //nolint:staticcheck

	s.log.Info("session_closed", "Map view torn down")
}

// Refresh re-reads the full snapshot and reconciles the view with it. A
// failed fetch keeps the previous snapshot and raises the error alert.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return domain.ErrSessionClosed
	}

	riders, err := s.fetcher.Fetch(ctx)
	if ctx.Err() != nil {
		// The caller went away; that says nothing about the backend.
		return ctx.Err()
	}

	if !s.apply(riders, err) {
		return domain.ErrSessionClosed
	}
	s.notify()
	return err
}

// RequestRefresh asks the poll loop for an immediate refresh. Requests made
// while one is pending collapse into it.
func (s *Session) RequestRefresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) apply(riders []domain.RiderLocation, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	// Loading ends with the first attempt either way; a failed first fetch
	// leaves the collection empty.
	s.state.status = domain.StatusReady
	if err != nil {
		s.state.failures++
		s.state.fetchError = domain.MsgFetchFailed
		s.log.WithFields(logger.LogFields{"failures": s.state.failures}).
			Error("snapshot_fetch_failed", err)
		return true
	}

	s.state.riders = riders
	s.state.fetchedAt = time.Now().UTC()
	s.state.failures = 0
	s.state.fetchError = ""
	return true
}

func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		_ = s.Refresh(ctx)

		s.mu.Lock()
		failures := s.state.failures
		s.mu.Unlock()

		timer := time.NewTimer(PollDelay(s.opts.PollInterval, s.opts.MaxBackoff, failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// PollDelay is the wait before the next poll after failures consecutive
// failed fetches: interval doubled per failure, capped at maxBackoff.
func PollDelay(interval, maxBackoff time.Duration, failures int) time.Duration {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	d := interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (s *Session) listen(ctx context.Context) {
	defer s.wg.Done()
	if s.subscriber == nil {
		return
	}

	log := s.log.WithFields(logger.LogFields{"channel": s.opts.LocationChannel})
	sub, err := s.subscriber.Subscribe(ctx, s.opts.LocationChannel, func(ev domain.Event) {
		if ev.Name != s.opts.LocationEvent {
			return
		}
		s.RequestRefresh()
	})
	if err != nil {
		// Polling alone keeps the view correct, only later.
		log.Error("subscribe_failed", err)
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Error("unsubscribe_failed", err)
		}
	}()

	log.Debug("subscribed", "Listening for rider location changes")
	<-ctx.Done()
}

func (s *Session) resolveDevice(ctx context.Context) {
	defer s.wg.Done()

	timeout := s.opts.GeolocationTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.locator != nil {
		pos, err := s.locator.Locate(lctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			_ = s.DeviceLocationFailed(err)
			return
		}
		_ = s.SetDeviceLocation(pos)
		return
	}

	select {
	case <-s.deviceCh:
	case <-lctx.Done():
		if ctx.Err() == nil {
			_ = s.DeviceLocationFailed(domain.ErrLocationUnavailable)
		}
	}
}

// SetDeviceLocation records the device position and recenters the view on
// it. Only the first answer (position or failure) counts.
func (s *Session) SetDeviceLocation(pos domain.LatLng) error {
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
		return s.DeviceLocationFailed(domain.ErrLocationUnavailable)
	}
	return s.resolve(func(st *viewState) {
		st.device = &pos
	})
}

// DeviceLocationFailed falls back to the default center and raises the
// warning alert.
func (s *Session) DeviceLocationFailed(cause error) error {
	err := s.resolve(func(st *viewState) {
		st.warning = domain.MsgDeviceLocationUnset
	})
	if err == nil {
		s.log.WithFields(logger.LogFields{"cause": errString(cause)}).
			Warn("device_location_unavailable", "Falling back to default map center")
	}
	return err
}

// ErrDeviceResolved is returned for device location answers after the first.
var ErrDeviceResolved = errors.New("device location already resolved")

func (s *Session) resolve(fn func(*viewState)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state.deviceResolved {
		s.mu.Unlock()
		return ErrDeviceResolved
	}
	s.state.deviceResolved = true
	fn(&s.state)
	close(s.deviceCh)
	s.mu.Unlock()

	s.notify()
	return nil
}

// SetSearch replaces the search query.
func (s *Session) SetSearch(query string) error {
	return s.update(func(st *viewState) { st.search = query })
}

// SetViewport records the zoom and container size the client shows.
// A negative zoom clears the override.
func (s *Session) SetViewport(zoom int, size geo.Size) error {
	return s.update(func(st *viewState) {
		if zoom < 0 {
			st.zoom = nil
		} else {
			z := min(zoom, geo.MaxZoom)
			st.zoom = &z
		}
		st.size = size
	})
}

func (s *Session) DismissError() error {
	return s.update(func(st *viewState) { st.fetchError = "" })
}

func (s *Session) DismissWarning() error {
	return s.update(func(st *viewState) { st.warning = "" })
}

func (s *Session) update(fn func(*viewState)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	fn(&s.state)
	s.mu.Unlock()

	s.notify()
	return nil
}

// View renders the current state.
func (s *Session) View() domain.MapView {
	s.mu.Lock()
	in := s.presentInputLocked()
	s.mu.Unlock()
	return Present(in, s.opts.Presenter)
}

func (s *Session) presentInputLocked() PresentInput {
	st := s.state
	in := PresentInput{
		Status: st.status,
		Riders: st.riders,
		Search: st.search,
		Device: st.device,
		Zoom:   st.zoom,
		Size:   st.size,
	}
	if !st.fetchedAt.IsZero() {
		at := st.fetchedAt
		in.FetchedAt = &at
	}
	if st.fetchError != "" {
		in.Alerts = append(in.Alerts, domain.Alert{Type: domain.AlertError, Message: st.fetchError})
	}
	if st.warning != "" {
		in.Alerts = append(in.Alerts, domain.Alert{Type: domain.AlertWarning, Message: st.warning})
	}
	return in
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	in := s.presentInputLocked()
	s.mu.Unlock()

	s.onChange(Present(in, s.opts.Presenter))
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
