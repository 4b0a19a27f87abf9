// Package telemetry defines the location report accepted from mobile clients
// and the envelope it is forwarded in to downstream map consumers.
package telemetry

import (
	"errors"
	"fmt"
	"math"
)

const (
	// EventName tags every forwarded envelope so map consumers can route it.
	EventName = "duty_location_update"

	// DefaultChannel is the pub/sub channel map consumers subscribe to.
	DefaultChannel = "map_updates"
)

var (
	// ErrNonFiniteCoordinates is returned when lat or lon is NaN or infinite.
	ErrNonFiniteCoordinates = errors.New("coordinates must be finite numbers")
	// ErrCoordinatesOutOfRange is returned when lat is outside [-90, 90] or lon outside [-180, 180].
	ErrCoordinatesOutOfRange = errors.New("lat/lon out of range")
	// ErrMissingUserID is returned when a report has no user identifier.
	ErrMissingUserID = errors.New("user_id is required")
)

// Report is a single location update submitted by a client device.
//
// Optional fields are pointers so an absent value is forwarded as JSON null
// rather than being dropped or turned into a zero.
type Report struct {
	UserID    string   `json:"user_id"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AccuracyM *float64 `json:"accuracy_m"`
	UnitLabel *string  `json:"unit_label"`
}

// Validate checks the invariants a report must satisfy before it may be forwarded.
// AccuracyM and UnitLabel are opaque to the relay and are not inspected.
func (r Report) Validate() error {
	if r.UserID == "" {
		return ErrMissingUserID
	}
	if !isFinite(r.Lat) || !isFinite(r.Lon) {
		return ErrNonFiniteCoordinates
	}
	if r.Lat < -90 || r.Lat > 90 || r.Lon < -180 || r.Lon > 180 {
		return fmt.Errorf("%w: lat=%g lon=%g", ErrCoordinatesOutOfRange, r.Lat, r.Lon)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
