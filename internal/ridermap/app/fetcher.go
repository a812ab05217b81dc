package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
)

const fetchKey = "rider_locations"

// Fetcher is the one path to the snapshot source. Concurrent callers share
// a single in-flight request and its result. Every request is bounded by
// timeout and is not cancelled when the caller that started it goes away,
// so the remaining callers still get an answer.
type Fetcher struct {
	source  domain.SnapshotSource
	timeout time.Duration
	log     logger.Logger
	group   singleflight.Group
}

func NewFetcher(source domain.SnapshotSource, timeout time.Duration, log logger.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{source: source, timeout: timeout, log: log}
}

// Fetch returns the current snapshot. The slice is shared between callers
// of the same flight and must be treated as read-only.
func (f *Fetcher) Fetch(ctx context.Context) ([]domain.RiderLocation, error) {
	ch := f.group.DoChan(fetchKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		start := time.Now()
		riders, err := f.source.FetchRiderLocations(fctx)
		if err != nil {
			return nil, fmt.Errorf("fetch rider locations: %w", err)
		}
		f.log.WithFields(logger.LogFields{
			"riders":      len(riders),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("snapshot_fetched", "Fetched rider locations")
		return riders, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.RiderLocation), nil
	}
}
