package navigator

import (
	"errors"
	"fmt"

	"github.com/banshee-data/faslit/internal/contracts"
	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/handoff"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/route"
	"github.com/banshee-data/faslit/internal/tracker"
	"github.com/banshee-data/faslit/internal/v2v"
)

// User action names accepted by UserActionEvent.
const (
	ActionSelectAlternative = "select_alternative"
	ActionCancelAutonomous  = "cancel_autonomous"
	ActionEndSession        = "end_session"
	ActionUpdateStatus      = "update_status"
	ActionAcceptReroute     = "accept_reroute"
	ActionDismissAlert      = "dismiss_alert"
)

var (
	// ErrUnknownAction rejects user actions the loop does not handle.
	ErrUnknownAction = errors.New("unknown user action")
	// ErrUnknownMode rejects an unparseable autonomous mode.
	ErrUnknownMode = errors.New("unknown autonomous mode")
)

// Event is one unit of input to the loop.
type Event interface {
	kind() string
}

// ObservationEvent carries one perception sample.
type ObservationEvent struct {
	Observation tracker.Observation
}

// TelemetryEvent updates the vehicle kinematics. A nil HasPassenger leaves
// the passenger flag unchanged.
type TelemetryEvent struct {
	Location     geo.Point
	SpeedKmph    float64
	HasPassenger *bool
}

// SharedHazardEvent is a hazard zone broadcast by another vehicle.
type SharedHazardEvent struct {
	VehicleID string
	Zone      route.HazardZone
}

// DestinationEvent sets a new destination. A nil Start uses the current
// vehicle location.
type DestinationEvent struct {
	Start       *geo.Point
	Destination geo.Point
}

// UserActionEvent is passenger input from the display.
type UserActionEvent struct {
	Action         string
	TransportMode  string
	AutonomousMode string
	Status         string
}

type funcEvent func() error

func (ObservationEvent) kind() string  { return "observation" }
func (TelemetryEvent) kind() string    { return "telemetry" }
func (SharedHazardEvent) kind() string { return "shared_hazard" }
func (DestinationEvent) kind() string  { return "destination" }
func (UserActionEvent) kind() string   { return "user_action" }
func (funcEvent) kind() string         { return "call" }

func (n *Navigator) handleObservation(e ObservationEvent) error {
	obs := e.Observation
	deltas, err := n.tracker.Observe(obs)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		n.recordTrack(d)
		switch d.Kind {
		case tracker.Created, tracker.StillActive:
			n.onTrackUpdate(d, obs)
		case tracker.Closed:
			n.onTrackClosed(d)
		}
	}
	return nil
}

// onTrackUpdate runs classification, zone bookkeeping and the decision for
// one live track.
func (n *Navigator) onTrackUpdate(d tracker.Delta, obs tracker.Observation) {
	tr := d.Track
	created := d.Kind == tracker.Created
	distance := geo.PlanarDistance(n.location, tr.LastLocation)
	cls := hazard.Assess(tr.ActorTag, obs.Visible, distance, n.speedKmph)

	zone := route.HazardZone{
		ID:           tr.ID,
		Center:       tr.LastLocation,
		RadiusMeters: n.zoneRadius,
		Severity:     cls.Severity,
		Type:         cls.Type,
		Source:       route.SourceOwn,
		ReportedAt:   obs.Timestamp,
	}
	if n.zoneTTL > 0 {
		exp := n.clock.Now().Add(n.zoneTTL)
		zone.ExpiresAt = &exp
	}
	n.publish(contracts.TypeHazardNotification, contracts.HazardNotification{
		TrackID:    tr.ID,
		ActorTag:   tr.ActorTag,
		HazardType: string(cls.Type),
		Severity:   cls.Severity.String(),
		AlertLevel: cls.Severity.AlertLevel(),
		Icon:       cls.Type.Icon(),
		Title:      cls.Type.Title(),
		Message:    fmt.Sprintf("%s detected %.0fm ahead", cls.Type.Title(), distance),
		DistanceM:  distance,
		Location:   tr.LastLocation.Slice(),
		NewTrack:   created,

		EstimatedDelayMinutes: n.routes.EstimateHazardDelay(zone),
		RerouteAdvised:        hazard.ShouldReroute(cls.Severity, distance),
	})

	affects, err := n.routes.AddHazard(zone)
	if err != nil {
		logf("hazard zone for %s: %v", tr.ID, err)
	}
	if created && err == nil {
		n.v2v.BroadcastHazard(v2v.SharedFromZone(n.vehicleID, tr.ActorTag, zone))
	}

	dec := n.engine.Decide(decision.Context{
		Location:          n.location,
		SpeedKmph:         n.speedKmph,
		HazardType:        cls.Type,
		Severity:          cls.Severity,
		DistanceToHazardM: distance,
		TimeStuckMinutes:  n.timeStuck,
		RouteAffected:     affects,
		AlternativeRoutes: n.routes.AlternativeRouteCount(),
		HasPassenger:      n.hasPassenger,
		At:                n.clock.Now(),
	})
	n.recordDecision(dec)

	switch dec.Action {
	case decision.ActionReroute:
		n.reroute(string(cls.Type))
	case decision.ActionSuggestAlternatives:
		n.suggestAlternatives(dec)
	case decision.ActionNoAction, decision.ActionMonitor, decision.ActionAutonomousHandoff:
	}
}

func (n *Navigator) onTrackClosed(d tracker.Delta) {
	tr := d.Track
	n.routes.RemoveHazard(tr.ID)
	n.publish(contracts.TypeTrackClosed, contracts.TrackClosedNotification{
		TrackID:   tr.ID,
		ActorTag:  tr.ActorTag,
		FirstSeen: tr.FirstSeen,
		LastSeen:  tr.LastSeen,
		Sightings: tr.Sightings,
	})
}

// reroute asks the corridor manager for a better corridor from the current
// location and announces it when one is committed.
func (n *Navigator) reroute(reason string) {
	old, hadOld := n.routes.Current()
	c, ok := n.routes.Recalculate(n.location)
	if !ok {
		return
	}
	saved := 0
	if hadOld {
		saved = old.EstimatedTimeMinutes - c.EstimatedTimeMinutes
	}
	n.recordDecision(n.engine.RecordReroute(c.ID, saved, n.clock.Now()))
	n.publish(contracts.TypeReroute, rerouteNotification(c, saved, reason))
}

func rerouteNotification(c *route.Corridor, saved int, reason string) contracts.RerouteNotification {
	wps := make([][]float64, len(c.Waypoints))
	for i, w := range c.Waypoints {
		wps[i] = w.Location.Slice()
	}
	return contracts.RerouteNotification{
		RouteID:              c.ID,
		Waypoints:            wps,
		TotalDistanceKm:      c.TotalDistanceKm,
		EstimatedTimeMinutes: c.EstimatedTimeMinutes,
		TimeSavedMinutes:     saved,
		HazardsAvoided:       append([]string{}, c.HazardsAvoided...),
		Reason:               reason,
	}
}

// suggestAlternatives offers the options that beat staying in the vehicle.
func (n *Navigator) suggestAlternatives(dec decision.Decision) {
	if !n.hasPassenger {
		logf("no passenger aboard, not suggesting alternatives")
		return
	}
	remainingKm, err := n.routes.RemainingDistanceKm(n.location)
	if err != nil {
		logf("cannot suggest alternatives: %v", err)
		return
	}
	currentETA, _ := n.routes.RemainingMinutes(n.location)

	options := n.estimator.Suggest(remainingKm, n.timeStuck)
	worth := n.estimator.CompareToStaying(options, currentETA, n.delayEstimate)
	if len(worth) == 0 {
		logf("no alternative beats staying (%d min + %d min delay)", currentETA, n.delayEstimate)
		return
	}

	alts := make([]contracts.TransportAlternative, len(worth))
	for i, c := range worth {
		alts[i] = contracts.TransportAlternative{
			Mode:             string(c.Option.Mode),
			ETAMinutes:       c.Option.ETAMinutes,
			Cost:             c.Option.Cost,
			DistanceKm:       c.Option.DistanceKm,
			Description:      c.Option.Description,
			Instructions:     c.Option.Instructions,
			Confidence:       c.Option.Confidence,
			TimeSavedMinutes: c.TimeSavedMinutes,
		}
	}
	modes := []string{string(handoff.ModeContinueToDestination), string(handoff.ModeParkNearby), string(handoff.ModeAwaitInstructions)}
	if _, ok := n.handoff.HomeLocation(); ok {
		modes = append(modes, string(handoff.ModeReturnHome))
	}
	n.publish(contracts.TypeAlternativeSuggestion, contracts.AlternativeSuggestion{
		Reasoning:           dec.Reasoning,
		RemainingDistanceKm: remainingKm,
		CurrentETAMinutes:   currentETA,
		DelayEstimate:       n.delayEstimate,
		Alternatives:        alts,
		AutonomousModes:     modes,
	})
}

func (n *Navigator) handleTelemetry(e TelemetryEvent) error {
	if err := e.Location.Validate(); err != nil {
		return err
	}
	now := n.clock.Now()
	if e.SpeedKmph < n.stuckSpeed {
		if !n.lastTelemetry.IsZero() {
			n.timeStuck += now.Sub(n.lastTelemetry).Minutes()
		}
	} else {
		n.timeStuck = 0
	}
	n.lastTelemetry = now
	n.location = e.Location
	n.speedKmph = e.SpeedKmph
	if e.HasPassenger != nil {
		n.hasPassenger = *e.HasPassenger
	}

	n.tracker.UpdateVehicleLocation(e.Location)
	if pruned := n.routes.PruneExpired(); pruned > 0 {
		logf("pruned %d expired hazard zones", pruned)
	}

	n.publish(contracts.TypeVehicleStatus, contracts.VehicleStatus{
		VehicleID:        n.vehicleID,
		Location:         n.location.Slice(),
		SpeedKmph:        n.speedKmph,
		HasPassenger:     n.hasPassenger,
		TimeStuckMinutes: n.timeStuck,
		AutonomyStatus:   string(n.handoff.Status()),
		ActiveTracks:     n.tracker.Len(),
		ActiveHazards:    len(n.routes.ActiveHazards()),
	})
	return nil
}

func (n *Navigator) handleSharedHazard(e SharedHazardEvent) error {
	if e.VehicleID == n.vehicleID {
		return nil
	}
	affects, err := n.routes.AddHazard(e.Zone)
	if err != nil {
		return err
	}
	logf("shared %s hazard %s from %s, affects route: %t", e.Zone.Type, e.Zone.ID, e.VehicleID, affects)
	if affects {
		n.reroute("shared " + string(e.Zone.Type))
	}
	return nil
}

func (n *Navigator) handleDestination(e DestinationEvent) error {
	start := n.location
	if e.Start != nil {
		start = *e.Start
	}
	if err := start.Validate(); err != nil {
		return err
	}
	if err := e.Destination.Validate(); err != nil {
		return err
	}
	c := n.routes.SetDestination(start, e.Destination)
	logf("destination %v: %.1f km, %d min", e.Destination, c.TotalDistanceKm, c.EstimatedTimeMinutes)
	n.publish(contracts.TypeReroute, rerouteNotification(&c, 0, "destination set"))
	return nil
}

func (n *Navigator) handleUserAction(e UserActionEvent) error {
	switch e.Action {
	case ActionSelectAlternative:
		return n.selectAlternative(e)
	case ActionCancelAutonomous, ActionEndSession:
		n.hasPassenger = true
		s, err := n.handoff.EndSession()
		if err != nil {
			if e.Action == ActionCancelAutonomous && errors.Is(err, handoff.ErrNoSession) {
				return nil
			}
			return err
		}
		n.recordSession(s)
		n.publish(contracts.TypeSessionEnded, contracts.SessionEnded{SessionID: s.ID, EndTime: s.EndTime})
		return nil
	case ActionUpdateStatus:
		s, err := n.handoff.UpdateStatus(handoff.Status(e.Status))
		if err != nil {
			return err
		}
		n.recordSession(s)
		return nil
	case ActionAcceptReroute, ActionDismissAlert:
		logf("user action %s", e.Action)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
}

func (n *Navigator) selectAlternative(e UserActionEvent) error {
	modeText := e.AutonomousMode
	if modeText == "" {
		modeText = string(handoff.ModeReturnHome)
	}
	mode, ok := handoff.ParseMode(modeText)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, e.AutonomousMode)
	}
	transport := e.TransportMode
	if transport == "" {
		transport = "walk"
	}

	req := handoff.Request{
		ExitLocation:  n.location,
		TransportMode: transport,
		Mode:          mode,
	}
	if dest, ok := n.routes.Destination(); ok {
		req.Destination = &dest
	}

	s, err := n.handoff.Initiate(req)
	if err != nil {
		var rej *handoff.RejectionError
		if errors.As(err, &rej) {
			n.publish(contracts.TypeExitRejected, contracts.ExitRejected{
				Reason:        string(rej.Reason),
				RequestedMode: string(mode),
			})
		}
		return err
	}

	n.hasPassenger = false
	n.recordDecision(n.engine.RecordHandoff(s.ID, string(s.Mode), s.PassengerTransportMode, n.clock.Now()))
	n.recordSession(s)

	url, _ := n.handoff.TrackingURL()
	n.publish(contracts.TypeAutonomousConfirmation, contracts.AutonomousConfirmation{
		SessionID:        s.ID,
		Mode:             string(s.Mode),
		TargetLocation:   s.TargetLocation.Slice(),
		EstimatedArrival: s.EstimatedArrival,
		TransportMode:    s.PassengerTransportMode,
		TrackingURL:      url,
	})
	n.v2v.BroadcastExit(contracts.PassengerExit{
		VehicleID:      n.vehicleID,
		SessionID:      s.ID,
		ExitLocation:   s.StartLocation.Slice(),
		TransportMode:  s.PassengerTransportMode,
		AutonomousMode: string(s.Mode),
		Timestamp:      s.StartTime,
	})
	return nil
}
