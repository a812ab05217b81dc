package app

import (
	"context"
	"fmt"
	"strings"

	"rider-map/internal/ridermap/domain"
)

// StaticLocator reports a fixed device position. It stands in for a
// browser geolocation answer on hosts that know where they are.
type StaticLocator struct {
	pos domain.LatLng
}

// NewStaticLocator parses lat and lng. Both empty returns (nil, nil): no
// static position is configured.
func NewStaticLocator(lat, lng string) (*StaticLocator, error) {
	lat, lng = strings.TrimSpace(lat), strings.TrimSpace(lng)
	if lat == "" && lng == "" {
		return nil, nil
	}

	pos := domain.RiderLocation{
		Latitude:  domain.Coordinate(lat),
		Longitude: domain.Coordinate(lng),
	}
	p, ok := pos.Position()
	if !ok {
		return nil, fmt.Errorf("invalid static device location %q,%q", lat, lng)
	}
	return &StaticLocator{pos: p}, nil
}

func (l *StaticLocator) Locate(ctx context.Context) (domain.LatLng, error) {
	if err := ctx.Err(); err != nil {
		return domain.LatLng{}, err
	}
	return l.pos, nil
}

// ParseLatLng parses a lat/lng pair such as query parameters. Both empty
// returns (nil, nil).
func ParseLatLng(lat, lng string) (*domain.LatLng, error) {
	if lat == "" && lng == "" {
		return nil, nil
	}
	r := domain.RiderLocation{Latitude: domain.Coordinate(lat), Longitude: domain.Coordinate(lng)}
	p, ok := r.Position()
	if !ok {
		return nil, fmt.Errorf("invalid coordinates %q,%q", lat, lng)
	}
	return &p, nil
}
