// Package contracts defines the JSON messages exchanged with the display
// and vehicle-to-vehicle collaborators.
package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names an outbound message in an Envelope.
type MessageType string

const (
	TypeHazardNotification     MessageType = "hazard_notification"
	TypeTrackClosed            MessageType = "track_closed"
	TypeReroute                MessageType = "reroute"
	TypeAlternativeSuggestion  MessageType = "alternative_suggestion"
	TypeAutonomousConfirmation MessageType = "autonomous_confirmation"
	TypeExitRejected           MessageType = "exit_rejected"
	TypeVehicleStatus          MessageType = "vehicle_status"
	TypeDecision               MessageType = "decision"
	TypeSessionEnded           MessageType = "session_ended"
)

// Envelope wraps every message published to the display stream.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(t MessageType, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Timestamp: at, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// SharedHazard is the V2V hazard broadcast. Severity and type are free
// text so vehicles running other taxonomies can still share.
type SharedHazard struct {
	EventID      string     `json:"event_id"`
	VehicleID    string     `json:"vehicle_id"`
	Center       []float64  `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
	Severity     string     `json:"severity"`
	HazardType   string     `json:"hazard_type"`
	ActorTag     string     `json:"actor_tag,omitempty"`
	ReportedAt   time.Time  `json:"reported_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// PassengerExit tells nearby vehicles a driverless session started.
type PassengerExit struct {
	VehicleID      string    `json:"vehicle_id"`
	SessionID      string    `json:"session_id"`
	ExitLocation   []float64 `json:"exit_location"`
	TransportMode  string    `json:"transport_mode"`
	AutonomousMode string    `json:"autonomous_mode"`
	Timestamp      time.Time `json:"timestamp"`
}

// HazardNotification is shown to the passenger on each track update.
type HazardNotification struct {
	TrackID    string    `json:"track_id"`
	ActorTag   string    `json:"actor_tag"`
	HazardType string    `json:"hazard_type"`
	Severity   string    `json:"severity"`
	AlertLevel string    `json:"alert_level"`
	Icon       string    `json:"icon"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	DistanceM  float64   `json:"distance_m"`
	Location   []float64 `json:"location"`
	NewTrack   bool      `json:"new_track"`
	// EstimatedDelayMinutes is the expected hold-up if the vehicle drives
	// through the hazard zone.
	EstimatedDelayMinutes int  `json:"estimated_delay_minutes"`
	RerouteAdvised        bool `json:"reroute_advised"`
}

// TrackClosedNotification tells the display a hazard is gone.
type TrackClosedNotification struct {
	TrackID   string    `json:"track_id"`
	ActorTag  string    `json:"actor_tag"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Sightings int       `json:"sightings"`
}

// RerouteNotification carries a committed corridor change.
type RerouteNotification struct {
	RouteID              string      `json:"route_id"`
	Waypoints            [][]float64 `json:"waypoints"`
	TotalDistanceKm      float64     `json:"total_distance_km"`
	EstimatedTimeMinutes int         `json:"estimated_time_minutes"`
	TimeSavedMinutes     int         `json:"time_saved_minutes"`
	HazardsAvoided       []string    `json:"hazards_avoided"`
	Reason               string      `json:"reason"`
}

// TransportAlternative is one ranked option on the display.
type TransportAlternative struct {
	Mode             string   `json:"mode"`
	ETAMinutes       int      `json:"eta_minutes"`
	Cost             float64  `json:"cost"`
	DistanceKm       float64  `json:"distance_km"`
	Description      string   `json:"description"`
	Instructions     []string `json:"instructions"`
	Confidence       float64  `json:"confidence"`
	TimeSavedMinutes int      `json:"time_saved_minutes"`
}

// AlternativeSuggestion offers the passenger other ways to finish the trip.
type AlternativeSuggestion struct {
	Reasoning           string                 `json:"reasoning"`
	RemainingDistanceKm float64                `json:"remaining_distance_km"`
	CurrentETAMinutes   int                    `json:"current_eta_minutes"`
	DelayEstimate       int                    `json:"delay_estimate_minutes"`
	Alternatives        []TransportAlternative `json:"alternatives"`
	AutonomousModes     []string               `json:"autonomous_modes"`
}

// AutonomousConfirmation is sent once a session has started.
type AutonomousConfirmation struct {
	SessionID        string    `json:"session_id"`
	Mode             string    `json:"mode"`
	TargetLocation   []float64 `json:"target_location"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
	TransportMode    string    `json:"transport_mode"`
	TrackingURL      string    `json:"tracking_url"`
}

// ExitRejected reports a denied exit request.
type ExitRejected struct {
	Reason        string `json:"reason"`
	RequestedMode string `json:"requested_mode"`
}

// VehicleStatus is the periodic telemetry echo.
type VehicleStatus struct {
	VehicleID        string    `json:"vehicle_id"`
	Location         []float64 `json:"location"`
	SpeedKmph        float64   `json:"speed_kmh"`
	HasPassenger     bool      `json:"has_passenger"`
	TimeStuckMinutes float64   `json:"time_stuck_minutes"`
	AutonomyStatus   string    `json:"autonomy_status"`
	ActiveTracks     int       `json:"active_tracks"`
	ActiveHazards    int       `json:"active_hazards"`
}

// DecisionNotice mirrors a decision for the display.
type DecisionNotice struct {
	Action           string  `json:"action"`
	VehicleState     string  `json:"vehicle_state"`
	Reasoning        string  `json:"reasoning"`
	Confidence       float64 `json:"confidence"`
	TimeSavedMinutes int     `json:"time_saved_minutes,omitempty"`
	Notify           bool    `json:"notify"`
}

// SessionEnded reports the passenger took the vehicle back.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	EndTime   time.Time `json:"end_time"`
}
