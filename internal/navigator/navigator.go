// Package navigator runs the hazard pipeline as a single serialized loop.
// Perception, telemetry, V2V and passenger input all arrive as events on a
// bounded queue; one goroutine owns the tracker, corridor manager, decision
// engine, estimator and handoff manager, so none of them need locks.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/faslit/internal/alternatives"
	"github.com/banshee-data/faslit/internal/config"
	"github.com/banshee-data/faslit/internal/contracts"
	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/handoff"
	"github.com/banshee-data/faslit/internal/ident"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/route"
	"github.com/banshee-data/faslit/internal/timeutil"
	"github.com/banshee-data/faslit/internal/tracker"
)

var logf = monitoring.Prefixed("navigator")

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("navigator stopped")

// Sink receives messages for the passenger display.
type Sink interface {
	Publish(t contracts.MessageType, payload any) error
}

// Broadcaster shares hazards and passenger exits with other vehicles. Calls
// must not block.
type Broadcaster interface {
	BroadcastHazard(h contracts.SharedHazard)
	BroadcastExit(e contracts.PassengerExit)
}

// Journal records what the loop did. It is never read back.
type Journal interface {
	RecordTrackDelta(d tracker.Delta) error
	RecordDecision(d decision.Decision) error
	RecordSession(s handoff.Session) error
}

type discardSink struct{}

func (discardSink) Publish(contracts.MessageType, any) error { return nil }

type discardBroadcaster struct{}

func (discardBroadcaster) BroadcastHazard(contracts.SharedHazard) {}
func (discardBroadcaster) BroadcastExit(contracts.PassengerExit)  {}

// Option configures a Navigator.
type Option func(*Navigator)

// WithClock injects the time source shared by every component.
func WithClock(c timeutil.Clock) Option {
	return func(n *Navigator) { n.clock = c }
}

// WithIDSource injects the id source for tracks, corridors and sessions.
func WithIDSource(s ident.Source) Option {
	return func(n *Navigator) { n.ids = s }
}

// WithSink sets the display sink.
func WithSink(s Sink) Option {
	return func(n *Navigator) { n.sink = s }
}

// WithBroadcaster sets the V2V broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(n *Navigator) { n.v2v = b }
}

// WithJournal sets the journal.
func WithJournal(j Journal) Option {
	return func(n *Navigator) { n.journal = j }
}

// WithSafetyCheck replaces the exit safety predicate.
func WithSafetyCheck(f handoff.SafetyCheck) Option {
	return func(n *Navigator) { n.safety = f }
}

// request is one queued unit of work. done is nil for fire-and-forget
// submissions.
type request struct {
	ev   Event
	done chan error
}

// Navigator is the orchestrator. Only Run's goroutine touches the fields
// below the queue.
type Navigator struct {
	cfg     *config.TuningConfig
	clock   timeutil.Clock
	ids     ident.Source
	sink    Sink
	v2v     Broadcaster
	journal Journal
	safety  handoff.SafetyCheck

	queue   chan request
	stopped chan struct{}

	vehicleID     string
	zoneRadius    float64
	zoneTTL       time.Duration
	stuckSpeed    float64
	delayEstimate int
	tracker       *tracker.Tracker
	routes        *route.Manager
	engine        *decision.Engine
	estimator     *alternatives.Estimator
	handoff       *handoff.Manager
	location      geo.Point
	speedKmph     float64
	hasPassenger  bool
	timeStuck     float64
	lastTelemetry time.Time
}

// New builds a Navigator from the tuning config. A nil config uses the
// defaults.
func New(cfg *config.TuningConfig, opts ...Option) *Navigator {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	n := &Navigator{
		cfg:          cfg,
		sink:         discardSink{},
		v2v:          discardBroadcaster{},
		stopped:      make(chan struct{}),
		hasPassenger: true,
	}
	for _, o := range opts {
		o(n)
	}
	n.clock = timeutil.OrReal(n.clock)
	n.ids = ident.OrUUID(n.ids)

	queueSize := cfg.GetEventQueueSize()
	if queueSize <= 0 {
		queueSize = 1
	}
	n.queue = make(chan request, queueSize)

	n.vehicleID = cfg.GetVehicleID()
	n.zoneRadius = cfg.GetHazardZoneRadiusM()
	n.zoneTTL = cfg.GetHazardZoneTTL()
	n.stuckSpeed = cfg.GetStuckSpeedKmph()
	n.delayEstimate = cfg.GetAlternativeDelayEstimateMinutes()

	n.tracker = tracker.New(
		tracker.WithClusterRadius(cfg.GetTrackClusterRadiusM()),
		tracker.WithIDSource(n.ids),
	)
	n.routes = route.NewManager(route.Config{
		AverageSpeedKmph:     cfg.GetRouteAverageSpeedKmph(),
		DetourFactor:         cfg.GetDetourDistanceFactor(),
		DetourPenaltyMinutes: cfg.GetDetourPenaltyMinutes(),
		MinSavingsMinutes:    cfg.GetMinRerouteSavingsMinutes(),
	}, n.clock, n.ids)
	n.engine = decision.NewEngine(decision.Config{
		HistorySize:    cfg.GetDecisionHistorySize(),
		StuckSpeedKmph: n.stuckSpeed,
	})
	n.estimator = alternatives.NewEstimator(alternatives.Config{
		WalkMaxDistanceKm: cfg.GetWalkMaxDistanceKm(),
		IncludeBike:       cfg.GetIncludeBike(),
		BikeMaxDistanceKm: alternatives.DefaultConfig().BikeMaxDistanceKm,
		MinSavingsMinutes: cfg.GetMinAlternativeSavingsMinutes(),
	})

	hcfg := handoff.Config{
		VehicleID:         n.vehicleID,
		AutonomousCapable: cfg.GetAutonomousCapable(),
		SpeedKmph:         cfg.GetAutonomousSpeedKmph(),
		TrackingURLBase:   cfg.GetTrackingURLBase(),
		Safety:            n.safety,
	}
	hcfg.ParkOffsetX, hcfg.ParkOffsetY = cfg.GetParkingOffsetM()
	if home, ok := cfg.GetHomeLocation(); ok {
		hcfg.Home = &home
	}
	n.handoff = handoff.NewManager(hcfg, n.clock, n.ids)

	return n
}

// VehicleID returns the configured vehicle id.
func (n *Navigator) VehicleID() string {
	return n.vehicleID
}

// Run processes events until ctx is cancelled. It must be called exactly
// once; Submit and Do return ErrStopped after it returns.
func (n *Navigator) Run(ctx context.Context) error {
	defer close(n.stopped)
	logf("vehicle %s ready, queue size %d", n.vehicleID, cap(n.queue))
	for {
		select {
		case <-ctx.Done():
			logf("stopping: %v", ctx.Err())
			return nil
		case req := <-n.queue:
			err := n.handle(req.ev)
			if req.done != nil {
				req.done <- err
			} else if err != nil {
				logf("%s: %v", req.ev.kind(), err)
			}
		}
	}
}

// Submit queues ev without waiting for it to be processed. It blocks while
// the queue is full.
func (n *Navigator) Submit(ctx context.Context, ev Event) error {
	return n.enqueue(ctx, request{ev: ev})
}

// Do queues ev and waits for the loop to process it, returning the
// processing error.
func (n *Navigator) Do(ctx context.Context, ev Event) error {
	req := request{ev: ev, done: make(chan error, 1)}
	if err := n.enqueue(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		// The loop may have finished this request just before exiting.
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (n *Navigator) enqueue(ctx context.Context, req request) error {
	if req.ev == nil {
		return fmt.Errorf("nil event")
	}
	select {
	case <-n.stopped:
		return ErrStopped
	default:
	}
	select {
	case n.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		return ErrStopped
	}
}

// call runs fn on the loop goroutine.
func (n *Navigator) call(ctx context.Context, fn func() error) error {
	return n.Do(ctx, funcEvent(fn))
}

func (n *Navigator) handle(ev Event) error {
	switch e := ev.(type) {
	case ObservationEvent:
		return n.handleObservation(e)
	case TelemetryEvent:
		return n.handleTelemetry(e)
	case SharedHazardEvent:
		return n.handleSharedHazard(e)
	case DestinationEvent:
		return n.handleDestination(e)
	case UserActionEvent:
		return n.handleUserAction(e)
	case funcEvent:
		return e()
	}
	return fmt.Errorf("unhandled event %T", ev)
}

// State is a point-in-time copy of the loop's state.
type State struct {
	VehicleID        string             `json:"vehicle_id"`
	Location         geo.Point          `json:"location"`
	SpeedKmph        float64            `json:"speed_kmh"`
	HasPassenger     bool               `json:"has_passenger"`
	TimeStuckMinutes float64            `json:"time_stuck_minutes"`
	AutonomyStatus   handoff.Status     `json:"autonomy_status"`
	Tracks           []tracker.Track    `json:"tracks"`
	Hazards          []route.HazardZone `json:"hazards"`
	Destination      *geo.Point         `json:"destination,omitempty"`
	Corridor         *route.Corridor    `json:"corridor,omitempty"`
	Session          *handoff.Session   `json:"session,omitempty"`
	LastDecision     *decision.Decision `json:"last_decision,omitempty"`
	DecisionCount    int                `json:"decision_count"`
}

// Snapshot returns the current state, read on the loop goroutine.
func (n *Navigator) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := n.call(ctx, func() error {
		s = n.state()
		return nil
	})
	return s, err
}

func (n *Navigator) state() State {
	s := State{
		VehicleID:        n.vehicleID,
		Location:         n.location,
		SpeedKmph:        n.speedKmph,
		HasPassenger:     n.hasPassenger,
		TimeStuckMinutes: n.timeStuck,
		AutonomyStatus:   n.handoff.Status(),
		Tracks:           n.tracker.Tracks(),
		Hazards:          n.routes.ActiveHazards(),
		DecisionCount:    n.engine.Len(),
	}
	if dest, ok := n.routes.Destination(); ok {
		s.Destination = &dest
	}
	if c, ok := n.routes.Current(); ok {
		s.Corridor = &c
	}
	if sess, ok := n.handoff.Active(); ok {
		s.Session = &sess
	}
	if d, ok := n.engine.Last(); ok {
		s.LastDecision = &d
	}
	return s
}

// History returns the retained decisions, oldest first.
func (n *Navigator) History(ctx context.Context) ([]decision.Decision, error) {
	var out []decision.Decision
	err := n.call(ctx, func() error {
		out = n.engine.History()
		return nil
	})
	return out, err
}

// TrackingQRCode renders the active session's tracking URL.
func (n *Navigator) TrackingQRCode(ctx context.Context, size int) ([]byte, error) {
	var png []byte
	err := n.call(ctx, func() error {
		var err error
		png, err = n.handoff.TrackingQRCode(size)
		return err
	})
	return png, err
}

func (n *Navigator) publish(t contracts.MessageType, payload any) {
	if err := n.sink.Publish(t, payload); err != nil {
		logf("publish %s: %v", t, err)
	}
}

func (n *Navigator) recordDecision(d decision.Decision) {
	if !decision.Consistent(d.VehicleState, d.Action) {
		logf("decision %s in state %s breaks the transition table", d.Action, d.VehicleState)
	}
	n.publish(contracts.TypeDecision, contracts.DecisionNotice{
		Action:           string(d.Action),
		VehicleState:     string(d.VehicleState),
		Reasoning:        d.Reasoning,
		Confidence:       d.Confidence,
		TimeSavedMinutes: d.TimeSavedMinutes,
		Notify:           decision.ShouldNotify(d),
	})
	if n.journal == nil {
		return
	}
	if err := n.journal.RecordDecision(d); err != nil {
		logf("journal decision: %v", err)
	}
}

func (n *Navigator) recordTrack(d tracker.Delta) {
	if n.journal == nil {
		return
	}
	if err := n.journal.RecordTrackDelta(d); err != nil {
		logf("journal track %s: %v", d.Track.ID, err)
	}
}

func (n *Navigator) recordSession(s handoff.Session) {
	if n.journal == nil {
		return
	}
	if err := n.journal.RecordSession(s); err != nil {
		logf("journal session %s: %v", s.ID, err)
	}
}
