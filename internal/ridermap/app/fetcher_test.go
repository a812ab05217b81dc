package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
)

func TestFetcher_SharesInFlightRequest(t *testing.T) {
	src := &fakeSource{
		riders: []domain.RiderLocation{rider("1", "Ann", "Lee", "8.5", "124.6", domain.AvailabilityAvailable)},
		gate:   make(chan struct{}),
	}
	f := NewFetcher(src, time.Second, logger.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]domain.RiderLocation, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.callCount())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 1)
	}
}

func TestFetcher_CallerCancelLeavesFlightRunning(t *testing.T) {
	src := &fakeSource{
		riders: []domain.RiderLocation{rider("1", "Ann", "Lee", "8.5", "124.6", "")},
		gate:   make(chan struct{}),
	}
	f := NewFetcher(src, time.Second, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)

	second := make(chan []domain.RiderLocation, 1)
	go func() {
		riders, _ := f.Fetch(context.Background())
		second <- riders
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(src.gate)
	assert.Len(t, <-second, 1)
}

func TestFetcher_TimeoutBoundsRequest(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	defer close(src.gate)
	f := NewFetcher(src, 20*time.Millisecond, logger.NewNop())

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_WrapsSourceError(t *testing.T) {
	src := &fakeSource{err: domain.ErrUnexpectedStatus}
	f := NewFetcher(src, time.Second, logger.NewNop())

	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnexpectedStatus))
}
