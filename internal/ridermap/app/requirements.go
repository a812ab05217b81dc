package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
)

// RequirementsWatcher keeps the count of rider applications awaiting
// verification. It reads the list once, then recounts from every
// requirements event. Events with an unreadable payload trigger a re-read.
type RequirementsWatcher struct {
	source     domain.RequirementsSource
	subscriber domain.ChangeSubscriber
	channel    string
	event      string
	timeout    time.Duration
	log        logger.Logger
	onChange   func(int)

	mu      sync.RWMutex
	pending int
	known   bool

	refetch chan struct{}
}

func NewRequirementsWatcher(
	source domain.RequirementsSource,
	subscriber domain.ChangeSubscriber,
	channel, event string,
	timeout time.Duration,
	log logger.Logger,
	onChange func(int),
) *RequirementsWatcher {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &RequirementsWatcher{
		source:     source,
		subscriber: subscriber,
		channel:    channel,
		event:      event,
		timeout:    timeout,
		log:        log.WithFields(logger.LogFields{"channel": channel}),
		onChange:   onChange,
		refetch:    make(chan struct{}, 1),
	}
}

// Pending returns the last known count. ok is false until the first count.
func (w *RequirementsWatcher) Pending() (count int, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pending, w.known
}

// Run blocks until ctx is done. The subscription is released on return.
func (w *RequirementsWatcher) Run(ctx context.Context) error {
	w.fetch(ctx)

	if w.subscriber != nil {
		sub, err := w.subscriber.Subscribe(ctx, w.channel, w.handle)
		if err != nil {
			w.log.Error("requirements_subscribe_failed", err)
		} else {
			defer func() {
				if err := sub.Close(); err != nil {
					w.log.Error("requirements_unsubscribe_failed", err)
				}
			}()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.refetch:
			w.fetch(ctx)
		}
	}
}

func (w *RequirementsWatcher) handle(ev domain.Event) {
	if ev.Name != w.event {
		return
	}

	count, err := CountPendingPayload(ev.Data)
	if err != nil {
		w.log.WithFields(logger.LogFields{"event": ev.Name}).Warn("requirements_payload_unreadable", err.Error())
		select {
		case w.refetch <- struct{}{}:
		default:
		}
		return
	}
	w.set(count)
}

func (w *RequirementsWatcher) fetch(ctx context.Context) {
	if w.source == nil {
		return
	}
	fctx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	apps, err := w.source.FetchRequirements(fctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("requirements_fetch_failed", err)
		}
		return
	}
	w.set(domain.CountPending(apps))
}

func (w *RequirementsWatcher) set(count int) {
	w.mu.Lock()
	changed := !w.known || w.pending != count
	w.pending = count
	w.known = true
	w.mu.Unlock()

	if changed {
		w.log.WithFields(logger.LogFields{"pending": count}).Debug("requirements_counted", "Pending applications updated")
		w.onChange(count)
	}
}

// CountPendingPayload counts pending applications in an event payload that
// carries the full applications list.
func CountPendingPayload(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty payload: %w", domain.ErrMalformedPayload)
	}
	var apps []domain.RiderApplication
	if err := json.Unmarshal(data, &apps); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return domain.CountPending(apps), nil
}
