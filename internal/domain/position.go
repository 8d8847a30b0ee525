package domain

import (
	"math"
	"time"
)

// Unknown is the value the GPS sensor reports for a field it could not measure.
const Unknown = -1.0

// MpsToKmh converts the sensor's m/s speed to the km/h every threshold is configured in.
const MpsToKmh = 3.6

type PositionSample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"` // m/s

	CapturedAt time.Time `json:"captured_at"`
}

func (p PositionSample) SpeedKmh() float64 {
	return p.Speed * MpsToKmh
}

// HasUnknownField reports whether any sensor-origin field carries the Unknown sentinel.
// Latitude and longitude are excluded: -1 is a valid coordinate.
func (p PositionSample) HasUnknownField() bool {
	return p.Altitude == Unknown ||
		p.Accuracy == Unknown ||
		p.Heading == Unknown ||
		p.Speed == Unknown
}

// NoLimit is the threshold used wherever a limit is not configured.
var NoLimit = math.Inf(1)

// Limit returns the configured threshold or NoLimit when v is unset or not positive.
func Limit(v *float64) float64 {
	if v == nil || *v <= 0 {
		return NoLimit
	}
	return *v
}
