package domain

import (
	"math"
	"strconv"
	"strings"
)

// Value parses the coordinate as decimal degrees. ok is false for empty,
// non-numeric, hexadecimal or non-finite text.
func (c Coordinate) Value() (v float64, ok bool) {
	s := strings.TrimSpace(string(c))
	if s == "" || isHex(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isHex(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// Position returns the parsed position when both coordinates parse and are
// within range.
func (r RiderLocation) Position() (LatLng, bool) {
	lat, ok := r.Latitude.Value()
	if !ok || lat < -90 || lat > 90 {
		return LatLng{}, false
	}
	lng, ok := r.Longitude.Value()
	if !ok || lng < -180 || lng > 180 {
		return LatLng{}, false
	}
	return LatLng{Lat: lat, Lng: lng}, true
}

// IsValid reports structural validity: a usable position and a user record.
func (r RiderLocation) IsValid() bool {
	if r.User == nil {
		return false
	}
	_, ok := r.Position()
	return ok
}

// FullName is "First Last" with missing parts dropped.
func (r RiderLocation) FullName() string {
	if r.User == nil {
		return ""
	}
	return strings.TrimSpace(r.User.FirstName + " " + r.User.LastName)
}

// MatchesSearch is a case-insensitive substring match on first or last
// name. An empty (or blank) query matches every rider.
func (r RiderLocation) MatchesSearch(query string) bool {
	q := NormalizeSearch(query)
	if q == "" {
		return true
	}
	if r.User == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.User.FirstName), q) ||
		strings.Contains(strings.ToLower(r.User.LastName), q)
}

// NormalizeSearch lowercases and trims a query.
func NormalizeSearch(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// FilterValid keeps structurally valid riders, preserving order.
func FilterValid(riders []RiderLocation) []RiderLocation {
	out := make([]RiderLocation, 0, len(riders))
	for _, r := range riders {
		if r.IsValid() {
			out = append(out, r)
		}
	}
	return out
}

// FilterSearch keeps riders matching query, preserving order.
func FilterSearch(riders []RiderLocation, query string) []RiderLocation {
	out := make([]RiderLocation, 0, len(riders))
	for _, r := range riders {
		if r.MatchesSearch(query) {
			out = append(out, r)
		}
	}
	return out
}

// SelectIcon maps an availability to its marker icon. Anything that is not
// Available or Booked, including the empty string, is drawn as offline.
func SelectIcon(a Availability) Icon {
	switch a {
	case AvailabilityAvailable:
		return IconAvailable
	case AvailabilityBooked:
		return IconBooked
	default:
		return IconOffline
	}
}

// CountPending counts applications still awaiting verification.
func CountPending(apps []RiderApplication) int {
	n := 0
	for _, a := range apps {
		if a.VerificationStatus == VerificationPending {
			n++
		}
	}
	return n
}
