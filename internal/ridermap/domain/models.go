package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Availability is the rider status reported by the backend. Values other
// than Available and Booked are treated as offline.
type Availability string

const (
	AvailabilityAvailable Availability = "Available"
	AvailabilityBooked    Availability = "Booked"
	AvailabilityOffline   Availability = "Offline"
)

// RiderID is opaque. The backend sends it as a number or a string.
type RiderID string

func (id *RiderID) UnmarshalJSON(b []byte) error {
	s, err := scalarText(b)
	if err != nil {
		return fmt.Errorf("rider_id: %w", err)
	}
	*id = RiderID(s)
	return nil
}

// Coordinate keeps the raw wire text of a latitude or longitude. The
// backend sends decimal degrees either as JSON strings or numbers; parsing
// is deferred to validation so a bad value drops the record instead of the
// whole snapshot.
type Coordinate string

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	s, err := scalarText(b)
	if err != nil {
		// Objects and arrays are kept as unparseable text.
		*c = Coordinate(b)
		return nil
	}
	*c = Coordinate(s)
	return nil
}

// scalarText returns the text of a JSON string or number, "" for null.
func scalarText(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		return "", nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported value %s", b)
	}
}

type RiderUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RiderLocation is one record of the fetch-locations snapshot.
type RiderLocation struct {
	RiderID      RiderID      `json:"rider_id"`
	Latitude     Coordinate   `json:"rider_latitude"`
	Longitude    Coordinate   `json:"rider_longitude"`
	Availability Availability `json:"availability"`
	User         *RiderUser   `json:"user"`
}

// RiderApplication is one entry of the requirements payload.
type RiderApplication struct {
	RiderID            RiderID `json:"rider_id"`
	VerificationStatus string  `json:"verification_status"`
}

const VerificationPending = "Pending"

// LatLng is a position in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Icon names the marker image a client should draw.
type Icon string

const (
	IconAvailable Icon = "rider_available"
	IconBooked    Icon = "rider_booked"
	IconOffline   Icon = "rider_offline"
	IconDevice    Icon = "device"
	IconCluster   Icon = "cluster"
)

// HighlightZIndex lifts markers matching the active search above the rest.
const HighlightZIndex = 1000

type Marker struct {
	RiderID      RiderID      `json:"rider_id,omitempty"`
	Position     LatLng       `json:"position"`
	Icon         Icon         `json:"icon"`
	Availability Availability `json:"availability,omitempty"`
	Name         string       `json:"name,omitempty"`
	Highlighted  bool         `json:"highlighted,omitempty"`
	ZIndexOffset int          `json:"z_index_offset,omitempty"`
}

type Cluster struct {
	Center   LatLng    `json:"center"`
	Count    int       `json:"count"`
	Icon     Icon      `json:"icon"`
	RiderIDs []RiderID `json:"rider_ids"`
}

// Bounds is a lat/lng rectangle.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.South && p.Lat <= b.North &&
		p.Lng >= b.West && p.Lng <= b.East
}

type ViewportReason string

const (
	ViewportDefault ViewportReason = "default"
	ViewportDevice  ViewportReason = "device"
	ViewportSearch  ViewportReason = "search"
)

type Viewport struct {
	Center LatLng         `json:"center"`
	Zoom   int            `json:"zoom"`
	Reason ViewportReason `json:"reason"`
	// Fit is the matched riders' bounding box; Padded is the area the
	// viewport shows once the fit padding is applied at Zoom.
	Fit    *Bounds `json:"fit,omitempty"`
	Padded *Bounds `json:"padded,omitempty"`
}

type ViewStatus string

const (
	StatusIdle    ViewStatus = "idle"
	StatusLoading ViewStatus = "loading"
	StatusReady   ViewStatus = "ready"
)

type AlertType string

const (
	AlertError   AlertType = "error"
	AlertWarning AlertType = "warning"
)

type Alert struct {
	Type    AlertType `json:"type"`
	Message string    `json:"message"`
}

const (
	MsgFetchFailed         = "Failed to fetch riders locations."
	MsgDeviceLocationUnset = "Using default location as device location is unavailable."
)

// Counts are the debug figures shown next to the map.
type Counts struct {
	Total int `json:"total"` // records in the last snapshot
	Valid int `json:"valid"` // structurally valid, independent of search
	Shown int `json:"shown"` // valid and matching the search
}

type TileLayer struct {
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
}

// MapView is everything a client needs to draw the riders map.
type MapView struct {
	Status       ViewStatus `json:"status"`
	Search       string     `json:"search"`
	Markers      []Marker   `json:"markers"`
	Clusters     []Cluster  `json:"clusters"`
	DeviceMarker *Marker    `json:"device_marker,omitempty"`
	Viewport     Viewport   `json:"viewport"`
	Counts       Counts     `json:"counts"`
	Alerts       []Alert    `json:"alerts"`
	Tiles        TileLayer  `json:"tiles"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
}
