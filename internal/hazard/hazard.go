// Package hazard classifies perception actor tags into hazard types and
// grades their severity from visibility, distance and vehicle speed.
package hazard

import (
	"fmt"
	"strings"
)

// Type is the hazard category of a tracked actor.
type Type string

const (
	TypePolice           Type = "police"
	TypeAccident         Type = "accident"
	TypeConstruction     Type = "construction"
	TypeTrafficJam       Type = "traffic_jam"
	TypeEmergencyVehicle Type = "emergency_vehicle"
	TypeRoadHazard       Type = "road_hazard"
	TypeWeather          Type = "weather"
	TypeUnknown          Type = "unknown"
)

// Types lists every hazard type in declaration order.
var Types = []Type{
	TypePolice, TypeAccident, TypeConstruction, TypeTrafficJam,
	TypeEmergencyVehicle, TypeRoadHazard, TypeWeather, TypeUnknown,
}

// Severity is an ordered hazard level; higher values are worse.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Thresholds (metres, km/h) used by AssessSeverity and ShouldReroute.
const (
	CloseRangeM          = 50.0
	FarRangeM            = 200.0
	CrawlSpeedKmph       = 5.0
	RerouteMinDistanceM  = 100.0
	MediumRerouteMinDist = 500.0
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText encodes the severity as its lower-case name.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a lower-case severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	*s = v
	return nil
}

// Valid reports whether s is one of the four defined levels.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// escalate moves one level up, stopping at critical.
func (s Severity) escalate() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// deescalate moves one level down, stopping at low.
func (s Severity) deescalate() Severity {
	if s <= SeverityLow {
		return SeverityLow
	}
	return s - 1
}

// AlertLevel maps severity onto the infotainment alert levels.
func (s Severity) AlertLevel() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "warning"
	case SeverityLow, SeverityMedium:
		return "info"
	}
	return "info"
}

// Icon names the display icon for the hazard type.
func (t Type) Icon() string {
	switch t {
	case TypePolice:
		return "ic_police"
	case TypeAccident:
		return "ic_accident"
	case TypeConstruction:
		return "ic_construction"
	case TypeTrafficJam:
		return "ic_traffic"
	case TypeEmergencyVehicle:
		return "ic_emergency"
	case TypeRoadHazard:
		return "ic_warning"
	case TypeWeather:
		return "ic_weather"
	case TypeUnknown:
		return "ic_alert"
	}
	return "ic_alert"
}

// Title is the short human label used in notifications.
func (t Type) Title() string {
	switch t {
	case TypePolice:
		return "Police Activity"
	case TypeAccident:
		return "Accident"
	case TypeConstruction:
		return "Construction Zone"
	case TypeTrafficJam:
		return "Traffic Jam"
	case TypeEmergencyVehicle:
		return "Emergency Vehicle"
	case TypeRoadHazard:
		return "Road Hazard"
	case TypeWeather:
		return "Weather Hazard"
	case TypeUnknown:
		return "Hazard"
	}
	return "Hazard"
}

// ParseType decodes a hazard type name. Unknown text maps to TypeUnknown
// with ok false.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, true
		}
	}
	return TypeUnknown, false
}

// ParseSeverity decodes a severity name. Unknown text maps to SeverityLow
// with ok false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	case "critical":
		return SeverityCritical, true
	}
	return SeverityLow, false
}

// keywordTable is matched in order; the first substring hit wins.
var keywordTable = []struct {
	keyword string
	typ     Type
}{
	{"police", TypePolice},
	{"police_car", TypePolice},
	{"ambulance", TypeEmergencyVehicle},
	{"fire_truck", TypeEmergencyVehicle},
	{"construction", TypeConstruction},
	{"construction_vehicle", TypeConstruction},
	{"accident", TypeAccident},
	{"vehicle_stopped", TypeRoadHazard},
	{"debris", TypeRoadHazard},
	{"traffic_jam", TypeTrafficJam},
	{"congestion", TypeTrafficJam},
	{"weather", TypeWeather},
	{"flood", TypeWeather},
	{"black_ice", TypeWeather},
	{"icy", TypeWeather},
	{"fog", TypeWeather},
}

// Classify maps a raw actor tag to a hazard type by case-insensitive
// keyword substring match.
func Classify(actorTag string) Type {
	tag := strings.ToLower(actorTag)
	for _, entry := range keywordTable {
		if strings.Contains(tag, entry.keyword) {
			return entry.typ
		}
	}
	return TypeUnknown
}

// BaseSeverity is the starting severity for a hazard type before
// visibility, distance and speed adjustments.
func BaseSeverity(t Type) Severity {
	switch t {
	case TypeAccident:
		return SeverityHigh
	case TypeConstruction, TypeTrafficJam, TypeEmergencyVehicle, TypeRoadHazard:
		return SeverityMedium
	case TypePolice, TypeWeather, TypeUnknown:
		return SeverityLow
	}
	return SeverityLow
}

// AssessSeverity grades a hazard. A hidden actor is always low. Otherwise
// the base severity is escalated one level inside CloseRangeM (never past
// high), de-escalated one level at FarRangeM or beyond when it is high or
// critical, and escalated once more when the vehicle crawls below
// CrawlSpeedKmph.
func AssessSeverity(t Type, visible bool, distanceM, speedKmph float64) Severity {
	if !visible {
		return SeverityLow
	}

	sev := BaseSeverity(t)
	switch {
	case distanceM < CloseRangeM:
		if sev < SeverityHigh {
			sev = sev.escalate()
		}
	case distanceM >= FarRangeM:
		if sev >= SeverityHigh {
			sev = sev.deescalate()
		}
	}

	if speedKmph < CrawlSpeedKmph && sev != SeverityLow {
		sev = sev.escalate()
	}
	return sev
}

// ShouldReroute reports whether a hazard is serious and far enough away for
// a detour to pay off.
func ShouldReroute(sev Severity, distanceM float64) bool {
	switch sev {
	case SeverityHigh, SeverityCritical:
		return distanceM > RerouteMinDistanceM
	case SeverityMedium:
		return distanceM > MediumRerouteMinDist
	case SeverityLow:
		return false
	}
	return false
}

// ShouldSuggestAlternatives reports whether the hazard is severe enough to
// offer other ways to reach the destination.
func ShouldSuggestAlternatives(sev Severity) bool {
	switch sev {
	case SeverityHigh, SeverityCritical:
		return true
	case SeverityLow, SeverityMedium:
		return false
	}
	return false
}

// EstimateDelayMinutes is the expected hold-up caused by a hazard of the
// given severity.
func EstimateDelayMinutes(sev Severity) int {
	switch sev {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	case SeverityCritical:
		return 60
	}
	return 5
}

// Classification is the per-update result for one track.
type Classification struct {
	Type      Type     `json:"hazard_type"`
	Severity  Severity `json:"severity"`
	Visible   bool     `json:"is_visible"`
	DistanceM float64  `json:"distance_m"`
}

// Assess classifies a tag and grades its severity in one step.
func Assess(actorTag string, visible bool, distanceM, speedKmph float64) Classification {
	t := Classify(actorTag)
	return Classification{
		Type:      t,
		Severity:  AssessSeverity(t, visible, distanceM, speedKmph),
		Visible:   visible,
		DistanceM: distanceM,
	}
}
