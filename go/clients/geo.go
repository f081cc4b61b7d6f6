package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidCoordinate is returned when a provider answers with a
	// missing, non-numeric, zero or out-of-range coordinate.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrProviderFailed marks an explicit failure flag in a provider body.
	ErrProviderFailed = errors.New("provider reported failure")
)

// GeoLocation is what every geo provider resolves to.
type GeoLocation struct {
	Lat    float64
	Lng    float64
	City   string
	Source ExternalSource
}

// GeoProvider is a single IP/approximate geolocation lookup.
type GeoProvider interface {
	Source() ExternalSource
	Locate(ctx context.Context) (GeoLocation, error)
}

// NewGeoLocation validates lat/lng and builds a location for source.
func NewGeoLocation(source ExternalSource, lat, lng float64, city string) (GeoLocation, error) {
	if err := ValidateCoordinate(lat, lng); err != nil {
		return GeoLocation{}, fmt.Errorf("%s: %w", source, err)
	}
	return GeoLocation{
		Lat:    lat,
		Lng:    lng,
		City:   strings.TrimSpace(city),
		Source: source,
	}, nil
}

// ValidateCoordinate rejects NaN/Inf, exact zeros and out-of-range values.
// Providers answer 0,0 when they could not place an address, so a zero on
// either axis is treated as "no answer".
func ValidateCoordinate(lat, lng float64) error {
	switch {
	case math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0):
		return fmt.Errorf("%w: not a number", ErrInvalidCoordinate)
	case lat == 0 || lng == 0:
		return fmt.Errorf("%w: zero value (lat=%v lng=%v)", ErrInvalidCoordinate, lat, lng)
	case lat < -90 || lat > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	case lng < -180 || lng > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, lng)
	}
	return nil
}

// Number decodes a JSON value that may be a number, a numeric string or null.
// Anything else leaves it invalid instead of failing the whole body.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	n.Value = v
	n.Valid = true
	return nil
}

// Float returns the value or an ErrInvalidCoordinate naming field.
func (n Number) Float(field string) (float64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("%w: %s is missing or not numeric", ErrInvalidCoordinate, field)
	}
	return n.Value, nil
}

// ParseCoordinate extracts a validated location from two Number fields.
func ParseCoordinate(source ExternalSource, lat, lng Number, city string) (GeoLocation, error) {
	la, err := lat.Float("lat")
	if err != nil {
		return GeoLocation{}, fmt.Errorf("%s: %w", source, err)
	}
	lo, err := lng.Float("lng")
	if err != nil {
		return GeoLocation{}, fmt.Errorf("%s: %w", source, err)
	}
	return NewGeoLocation(source, la, lo, city)
}
