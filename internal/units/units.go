// Package units provides shared speed units and the travel-time arithmetic
// used by the route, alternatives and handoff packages.
package units

import "math"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ToKmph converts a speed in the given units to km/h. Unknown units are
// treated as km/h.
func ToKmph(speed float64, from string) float64 {
	switch from {
	case MPS:
		return speed * 3.6
	case MPH:
		return speed * 1.609344
	default:
		return speed
	}
}

// KmphToMPS converts km/h to metres per second.
func KmphToMPS(kmph float64) float64 {
	return kmph / 3.6
}

// TravelMinutes returns whole minutes needed to cover distanceKm at
// speedKmph, truncated toward zero. Non-positive speeds and distances give 0.
func TravelMinutes(distanceKm, speedKmph float64) int {
	if speedKmph <= 0 || distanceKm <= 0 || math.IsNaN(distanceKm) {
		return 0
	}
	return int(distanceKm / speedKmph * 60)
}

// RoundCents rounds a fare to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
