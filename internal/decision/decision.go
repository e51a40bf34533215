// Package decision turns one hazard context into a vehicle state and a
// recommended action: reroute while still far enough away to benefit, or
// offer alternative transport once the vehicle is stuck.
package decision

import (
	"fmt"
	"time"

	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/monitoring"
)

var logf = monitoring.Prefixed("decision")

// VehicleState is the vehicle's situation relative to a hazard.
type VehicleState string

const (
	StateUnaffected       VehicleState = "unaffected"
	StateApproaching      VehicleState = "approaching"
	StateAffected         VehicleState = "affected"
	StateRerouting        VehicleState = "rerouting"
	StatePassengerExiting VehicleState = "passenger_exiting"
)

// Action is the recommendation surfaced to the passenger.
type Action string

const (
	ActionNoAction            Action = "no_action"
	ActionReroute             Action = "reroute"
	ActionSuggestAlternatives Action = "suggest_alternatives"
	ActionMonitor             Action = "monitor"
	ActionAutonomousHandoff   Action = "autonomous_handoff"
)

// Thresholds used to place the vehicle relative to a hazard.
const (
	AffectedDistanceM    = 100.0
	ApproachingDistanceM = 500.0
	StuckSpeedKmph       = 10.0
	StuckMinutes         = 5.0
	// ReroutePenaltyMinutes is the time a detour itself is assumed to cost.
	ReroutePenaltyMinutes = 5
)

// Per-branch confidence reported to consumers.
const (
	confidenceNoAction         = 0.9
	confidenceMonitorClear     = 0.8
	confidenceReroute          = 0.85
	confidenceSuggest          = 0.9
	confidenceMonitorAffected  = 0.7
	confidenceHandoff          = 1.0
	confidenceRerouteCommitted = 0.85
)

// Context is the snapshot used for one decision.
type Context struct {
	Location          geo.Point       `json:"location"`
	SpeedKmph         float64         `json:"speed_kmh"`
	HazardType        hazard.Type     `json:"hazard_type"`
	Severity          hazard.Severity `json:"severity"`
	DistanceToHazardM float64         `json:"distance_to_hazard_m"`
	TimeStuckMinutes  float64         `json:"time_stuck_minutes"`
	RouteAffected     bool            `json:"route_affected"`
	AlternativeRoutes int             `json:"alternative_routes"`
	HasPassenger      bool            `json:"has_passenger"`
	At                time.Time       `json:"at"`
}

// Decision is the engine output.
type Decision struct {
	Action           Action          `json:"action"`
	VehicleState     VehicleState    `json:"vehicle_state"`
	Reasoning        string          `json:"reasoning"`
	RerouteAvailable bool            `json:"reroute_available"`
	TimeSavedMinutes int             `json:"time_saved_minutes"`
	Confidence       float64         `json:"confidence"`
	HazardType       hazard.Type     `json:"hazard_type,omitempty"`
	Severity         hazard.Severity `json:"severity,omitempty"`
	At               time.Time       `json:"at"`
}

// Config tunes the engine.
type Config struct {
	HistorySize    int
	StuckSpeedKmph float64
}

// DefaultHistorySize bounds the decision history.
const DefaultHistorySize = 256

// Engine decides and keeps a bounded history of its decisions. The history
// is for observers only and never feeds back into Decide.
type Engine struct {
	stuckSpeed float64
	history    *ring
}

// NewEngine creates an Engine. Zero config values take defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.StuckSpeedKmph <= 0 {
		cfg.StuckSpeedKmph = StuckSpeedKmph
	}
	return &Engine{
		stuckSpeed: cfg.StuckSpeedKmph,
		history:    newRing(cfg.HistorySize),
	}
}

// DetermineState places the vehicle relative to the hazard. It is
// recomputed from scratch on every call.
func (e *Engine) DetermineState(c Context) VehicleState {
	if c.DistanceToHazardM < AffectedDistanceM &&
		(c.SpeedKmph < e.stuckSpeed || c.TimeStuckMinutes >= StuckMinutes) {
		return StateAffected
	}
	if c.DistanceToHazardM > ApproachingDistanceM &&
		(c.Severity == hazard.SeverityHigh || c.Severity == hazard.SeverityCritical) {
		return StateApproaching
	}
	return StateUnaffected
}

// Evaluate computes the decision for c without recording it.
func (e *Engine) Evaluate(c Context) Decision {
	state := e.DetermineState(c)
	d := Decision{
		VehicleState:     state,
		HazardType:       c.HazardType,
		Severity:         c.Severity,
		RerouteAvailable: c.AlternativeRoutes > 0,
		At:               c.At,
	}

	switch state {
	case StateUnaffected:
		if c.Severity == hazard.SeverityLow {
			d.Action = ActionNoAction
			d.Confidence = confidenceNoAction
			d.Reasoning = fmt.Sprintf("Low severity %s at %.0fm; no impact on the trip.", c.HazardType, c.DistanceToHazardM)
		} else {
			d.Action = ActionMonitor
			d.Confidence = confidenceMonitorClear
			d.Reasoning = fmt.Sprintf("%s severity %s at %.0fm; monitoring.", c.Severity, c.HazardType, c.DistanceToHazardM)
		}

	case StateApproaching:
		saved := hazard.EstimateDelayMinutes(c.Severity) - ReroutePenaltyMinutes
		if saved < 0 {
			saved = 0
		}
		d.Action = ActionReroute
		d.Confidence = confidenceReroute
		d.TimeSavedMinutes = saved
		d.Reasoning = fmt.Sprintf("%s severity %s %.0fm ahead. Rerouting saves about %d minutes.",
			c.Severity, c.HazardType, c.DistanceToHazardM, saved)

	case StateAffected:
		if hazard.ShouldSuggestAlternatives(c.Severity) {
			d.Action = ActionSuggestAlternatives
			d.Confidence = confidenceSuggest
			d.Reasoning = fmt.Sprintf("Stuck at %s severity %s for %.0f minutes. Alternative transport may be faster.",
				c.Severity, c.HazardType, c.TimeStuckMinutes)
		} else {
			d.Action = ActionMonitor
			d.Confidence = confidenceMonitorAffected
			d.Reasoning = fmt.Sprintf("Slowed by %s severity %s; delay should be short.", c.Severity, c.HazardType)
		}

	case StateRerouting, StatePassengerExiting:
		// never produced by DetermineState
		d.Action = ActionMonitor
		d.Confidence = confidenceMonitorAffected
	}

	return d
}

// Decide evaluates c and appends the result to the history.
func (e *Engine) Decide(c Context) Decision {
	d := e.Evaluate(c)
	e.history.push(d)
	logf("%s -> %s (%s/%s at %.0fm, %.0f km/h)", d.VehicleState, d.Action, c.HazardType, c.Severity, c.DistanceToHazardM, c.SpeedKmph)
	return d
}

// RecordReroute appends the decision taken when a new corridor was
// committed.
func (e *Engine) RecordReroute(corridorID string, savedMinutes int, at time.Time) Decision {
	d := Decision{
		Action:           ActionReroute,
		VehicleState:     StateRerouting,
		Reasoning:        fmt.Sprintf("Switched to corridor %s, %d minutes faster.", corridorID, savedMinutes),
		RerouteAvailable: true,
		TimeSavedMinutes: savedMinutes,
		Confidence:       confidenceRerouteCommitted,
		At:               at,
	}
	e.history.push(d)
	return d
}

// RecordHandoff appends the decision taken when the passenger exits and the
// vehicle continues on its own.
func (e *Engine) RecordHandoff(sessionID, mode, transport string, at time.Time) Decision {
	d := Decision{
		Action:       ActionAutonomousHandoff,
		VehicleState: StatePassengerExiting,
		Reasoning:    fmt.Sprintf("Passenger continues by %s; vehicle session %s in %s mode.", transport, sessionID, mode),
		Confidence:   confidenceHandoff,
		At:           at,
	}
	e.history.push(d)
	logf("%s -> %s (session %s)", d.VehicleState, d.Action, sessionID)
	return d
}

// History returns recorded decisions oldest first.
func (e *Engine) History() []Decision {
	return e.history.items()
}

// Last returns the most recent decision.
func (e *Engine) Last() (Decision, bool) {
	return e.history.last()
}

// Len returns the number of retained decisions.
func (e *Engine) Len() int {
	return e.history.len()
}

// Consistent reports whether action is allowed for state.
func Consistent(state VehicleState, action Action) bool {
	switch state {
	case StateUnaffected:
		return action == ActionNoAction || action == ActionMonitor
	case StateApproaching:
		return action == ActionReroute
	case StateAffected:
		return action == ActionSuggestAlternatives || action == ActionMonitor
	case StateRerouting:
		return action == ActionReroute || action == ActionMonitor
	case StatePassengerExiting:
		return action == ActionAutonomousHandoff
	}
	return false
}

// ShouldNotify reports whether the decision warrants a passenger prompt.
func ShouldNotify(d Decision) bool {
	switch d.Action {
	case ActionReroute, ActionSuggestAlternatives, ActionAutonomousHandoff:
		return true
	case ActionNoAction, ActionMonitor:
		return false
	}
	return false
}
