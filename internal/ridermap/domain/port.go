package domain

import (
	"context"
	"errors"
)

var (
	// ErrMalformedPayload marks a snapshot response that is not a JSON array.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnexpectedStatus marks a non-2xx response from the backend.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrSessionClosed is returned by operations on a torn-down view session.
	ErrSessionClosed = errors.New("view session closed")
	// ErrLocationUnavailable is reported when no device location can be had.
	ErrLocationUnavailable = errors.New("device location unavailable")
)

// SnapshotSource returns the full, current set of rider locations.
type SnapshotSource interface {
	FetchRiderLocations(ctx context.Context) ([]RiderLocation, error)
}

// RequirementsSource returns the rider applications list.
type RequirementsSource interface {
	FetchRequirements(ctx context.Context) ([]RiderApplication, error)
}

// Event is a named push notification. Data is the raw payload, possibly empty.
type Event struct {
	Channel string
	Name    string
	Data    []byte
}

// Subscription is a live push-channel subscription. Close unsubscribes,
// disconnects and waits for delivery to stop; it is safe to call more than
// once.
type Subscription interface {
	Close() error
}

// ChangeSubscriber opens subscriptions on a named-channel pub/sub service.
// handler is called for every event on channel; it must not block for long.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(Event)) (Subscription, error)
}

// DeviceLocator answers a one-shot device position query.
type DeviceLocator interface {
	Locate(ctx context.Context) (LatLng, error)
}
