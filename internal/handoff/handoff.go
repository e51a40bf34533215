// Package handoff validates passenger-exit requests and manages the single
// autonomous session a vehicle may run after its passenger leaves.
package handoff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/ident"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/timeutil"
	"github.com/banshee-data/faslit/internal/units"
)

var logf = monitoring.Prefixed("handoff")

// Mode is what the vehicle does once the passenger is out.
type Mode string

const (
	ModeContinueToDestination Mode = "continue_to_destination"
	ModeReturnHome            Mode = "return_home"
	ModeParkNearby            Mode = "park_nearby"
	ModeAwaitInstructions     Mode = "await_instructions"
)

// ParseMode decodes a mode name; "continue" and "await" are accepted as
// short forms.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continue_to_destination", "continue":
		return ModeContinueToDestination, true
	case "return_home", "home":
		return ModeReturnHome, true
	case "park_nearby", "park":
		return ModeParkNearby, true
	case "await_instructions", "await", "wait":
		return ModeAwaitInstructions, true
	}
	return "", false
}

// Status is the vehicle's autonomy status.
type Status string

const (
	StatusPassengerPresent  Status = "passenger_present"
	StatusAutonomousDriving Status = "autonomous_driving"
	StatusParked            Status = "parked"
	StatusWaiting           Status = "waiting"
)

// Reason explains a rejected exit request.
type Reason string

const (
	ReasonNoCapability Reason = "vehicle does not support autonomous driving"
	ReasonNoHome       Reason = "home location not set"
	ReasonUnsafeExit   Reason = "current location not safe for passenger exit"
)

// RejectionError is returned when policy denies an exit request. No session
// is created and the passenger state is unchanged.
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return "exit request rejected: " + string(e.Reason)
}

var (
	// ErrSessionActive is returned when a session is requested while one is
	// running. The running session is left untouched.
	ErrSessionActive = errors.New("autonomous session already active")
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active autonomous session")
	// ErrNoDestination is returned for continue-to-destination without a
	// destination.
	ErrNoDestination = errors.New("continue to destination requires a destination")
	// ErrInvalidStatus rejects status updates outside the autonomous states.
	ErrInvalidStatus = errors.New("invalid session status")
)

// Request is a passenger exit request.
type Request struct {
	ExitLocation  geo.Point  `json:"exit_location"`
	TransportMode string     `json:"chosen_transport_mode"`
	Mode          Mode       `json:"preferred_mode"`
	Destination   *geo.Point `json:"destination,omitempty"`
}

// Session is one driverless trip.
type Session struct {
	ID                     string    `json:"session_id"`
	VehicleID              string    `json:"vehicle_id"`
	StartTime              time.Time `json:"start_time"`
	StartLocation          geo.Point `json:"start_location"`
	TargetLocation         geo.Point `json:"target_location"`
	Mode                   Mode      `json:"mode"`
	Status                 Status    `json:"status"`
	PassengerTransportMode string    `json:"passenger_transport_mode"`
	EstimatedArrival       time.Time `json:"estimated_arrival"`
	EndTime                time.Time `json:"end_time,omitempty"`
}

// SafetyCheck reports whether a passenger may safely exit at p.
type SafetyCheck func(p geo.Point) bool

// AlwaysSafe is the default SafetyCheck.
func AlwaysSafe(geo.Point) bool { return true }

// Config describes the vehicle's handoff policy.
type Config struct {
	VehicleID         string
	AutonomousCapable bool
	Home              *geo.Point
	SpeedKmph         float64
	ParkOffsetX       float64
	ParkOffsetY       float64
	TrackingURLBase   string
	Safety            SafetyCheck
}

// DefaultConfig returns a capable vehicle with no home set.
func DefaultConfig() Config {
	return Config{
		VehicleID:         "vehicle_001",
		AutonomousCapable: true,
		SpeedKmph:         30,
		ParkOffsetX:       100,
		ParkOffsetY:       50,
		TrackingURLBase:   "https://vehicle-tracking.app/track",
	}
}

// Manager owns the vehicle's autonomy status and at most one session. It is
// not safe for concurrent use.
type Manager struct {
	cfg    Config
	clock  timeutil.Clock
	ids    ident.Source
	status Status
	active *Session
}

// NewManager creates a Manager with the vehicle in passenger_present.
func NewManager(cfg Config, clock timeutil.Clock, ids ident.Source) *Manager {
	if cfg.Safety == nil {
		cfg.Safety = AlwaysSafe
	}
	if cfg.SpeedKmph <= 0 {
		cfg.SpeedKmph = DefaultConfig().SpeedKmph
	}
	if cfg.TrackingURLBase == "" {
		cfg.TrackingURLBase = DefaultConfig().TrackingURLBase
	}
	if cfg.Home != nil {
		h := *cfg.Home
		cfg.Home = &h
	}
	return &Manager{
		cfg:    cfg,
		clock:  timeutil.OrReal(clock),
		ids:    ident.OrUUID(ids),
		status: StatusPassengerPresent,
	}
}

// SetHomeLocation configures the return-home target.
func (m *Manager) SetHomeLocation(p geo.Point) {
	m.cfg.Home = &p
}

// HomeLocation returns the configured home, if any.
func (m *Manager) HomeLocation() (geo.Point, bool) {
	if m.cfg.Home == nil {
		return geo.Point{}, false
	}
	return *m.cfg.Home, true
}

// SetSafetyCheck replaces the exit safety predicate. Nil restores
// AlwaysSafe.
func (m *Manager) SetSafetyCheck(f SafetyCheck) {
	if f == nil {
		f = AlwaysSafe
	}
	m.cfg.Safety = f
}

// Validate applies the exit policy. Failures are *RejectionError.
func (m *Manager) Validate(req Request) error {
	if !m.cfg.AutonomousCapable {
		return &RejectionError{Reason: ReasonNoCapability}
	}
	if req.Mode == ModeReturnHome && m.cfg.Home == nil {
		return &RejectionError{Reason: ReasonNoHome}
	}
	if !m.cfg.Safety(req.ExitLocation) {
		return &RejectionError{Reason: ReasonUnsafeExit}
	}
	return nil
}

func (m *Manager) target(req Request) (geo.Point, error) {
	switch req.Mode {
	case ModeContinueToDestination:
		if req.Destination == nil {
			return geo.Point{}, ErrNoDestination
		}
		return *req.Destination, nil
	case ModeReturnHome:
		return *m.cfg.Home, nil
	case ModeParkNearby:
		return geo.Offset(req.ExitLocation, m.cfg.ParkOffsetX, m.cfg.ParkOffsetY), nil
	case ModeAwaitInstructions:
		return req.ExitLocation, nil
	}
	return geo.Point{}, fmt.Errorf("unknown autonomous mode %q", req.Mode)
}

// Initiate validates req and starts a session. Starting a second session
// while one is active fails with ErrSessionActive.
func (m *Manager) Initiate(req Request) (Session, error) {
	if m.active != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionActive, m.active.ID)
	}
	if err := req.ExitLocation.Validate(); err != nil {
		return Session{}, err
	}
	if err := m.Validate(req); err != nil {
		return Session{}, err
	}
	target, err := m.target(req)
	if err != nil {
		return Session{}, err
	}

	now := m.clock.Now()
	minutes := units.TravelMinutes(geo.PlanarDistanceKm(req.ExitLocation, target), m.cfg.SpeedKmph)
	s := &Session{
		ID:                     m.ids.NewID("auto"),
		VehicleID:              m.cfg.VehicleID,
		StartTime:              now,
		StartLocation:          req.ExitLocation,
		TargetLocation:         target,
		Mode:                   req.Mode,
		Status:                 StatusAutonomousDriving,
		PassengerTransportMode: req.TransportMode,
		EstimatedArrival:       now.Add(time.Duration(minutes) * time.Minute),
	}
	m.active = s
	m.status = StatusAutonomousDriving
	logf("session %s started: %s to %v, eta %s", s.ID, s.Mode, s.TargetLocation, s.EstimatedArrival.Format(time.RFC3339))
	return *s, nil
}

// EndSession closes the active session and returns the vehicle to
// passenger_present. The returned session carries its end time.
func (m *Manager) EndSession() (Session, error) {
	if m.active == nil {
		return Session{}, ErrNoSession
	}
	s := *m.active
	s.EndTime = m.clock.Now()
	s.Status = StatusPassengerPresent
	m.active = nil
	m.status = StatusPassengerPresent
	logf("session %s ended after %s", s.ID, s.EndTime.Sub(s.StartTime))
	return s, nil
}

// UpdateStatus moves the active session between the autonomous states.
// Use EndSession to return to passenger_present.
func (m *Manager) UpdateStatus(st Status) (Session, error) {
	if m.active == nil {
		return Session{}, ErrNoSession
	}
	switch st {
	case StatusAutonomousDriving, StatusParked, StatusWaiting:
	case StatusPassengerPresent:
		return Session{}, fmt.Errorf("%w: end the session instead", ErrInvalidStatus)
	default:
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
	}
	m.active.Status = st
	m.status = st
	return *m.active, nil
}

// Status returns the vehicle's current autonomy status.
func (m *Manager) Status() Status {
	return m.status
}

// Active returns a copy of the active session, if any.
func (m *Manager) Active() (Session, bool) {
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// TrackingURL is where the passenger follows the active session.
func (m *Manager) TrackingURL() (string, error) {
	if m.active == nil {
		return "", ErrNoSession
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(m.cfg.TrackingURLBase, "/"), m.cfg.VehicleID, m.active.ID), nil
}

// TrackingQRCode renders TrackingURL as a size x size PNG.
func (m *Manager) TrackingQRCode(size int) ([]byte, error) {
	url, err := m.TrackingURL()
	if err != nil {
		return nil, err
	}
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode tracking url: %w", err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("render tracking qr: %w", err)
	}
	return png, nil
}
