// Package route holds the vehicle's destination, its abstract route
// corridor and the hazard zones known to affect it. It does no road-network
// routing: a corridor is a straight start, midpoint, end polyline whose
// time is derived from an average speed, and a detour is modelled as a
// distance factor plus a fixed penalty.
package route

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/ident"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/timeutil"
	"github.com/banshee-data/faslit/internal/units"
)

var (
	// ErrInvalidRadius rejects zones whose radius is not a positive number.
	ErrInvalidRadius = errors.New("hazard zone radius must be positive")
	// ErrNoDestination is returned when an operation needs a destination.
	ErrNoDestination = errors.New("no destination set")
)

var logf = monitoring.Prefixed("route")

// Zone sources.
const (
	SourceOwn = "own"
	SourceV2V = "v2v"
)

// HazardZone is a hazard projected onto the route plane as a circle.
type HazardZone struct {
	ID           string          `json:"zone_id"`
	Center       geo.Point       `json:"center"`
	RadiusMeters float64         `json:"radius_meters"`
	Severity     hazard.Severity `json:"severity"`
	Type         hazard.Type     `json:"hazard_type"`
	Source       string          `json:"source"`
	ReportedAt   time.Time       `json:"reported_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the zone has an expiry at or before now.
func (z HazardZone) Expired(now time.Time) bool {
	return z.ExpiresAt != nil && !now.Before(*z.ExpiresAt)
}

// Contains reports whether p lies within the zone (boundary inclusive).
func (z HazardZone) Contains(p geo.Point) bool {
	return geo.Within(z.Center, p, z.RadiusMeters)
}

// Validate checks the zone radius and center.
func (z HazardZone) Validate() error {
	if !(z.RadiusMeters > 0) || math.IsInf(z.RadiusMeters, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, z.RadiusMeters)
	}
	return z.Center.Validate()
}

// Waypoint is one corridor vertex.
type Waypoint struct {
	Location            geo.Point `json:"location"`
	ETA                 time.Time `json:"eta"`
	DistanceFromStartKm float64   `json:"distance_from_start_km"`
}

// Corridor is the abstract path the vehicle intends to follow.
type Corridor struct {
	ID                   string     `json:"route_id"`
	Waypoints            []Waypoint `json:"waypoints"`
	TotalDistanceKm      float64    `json:"total_distance_km"`
	EstimatedTimeMinutes int        `json:"estimated_time_minutes"`
	HazardsAvoided       []string   `json:"hazards_avoided"`
	IsOptimal            bool       `json:"is_optimal"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Start returns the first waypoint location.
func (c Corridor) Start() geo.Point {
	if len(c.Waypoints) == 0 {
		return geo.Point{}
	}
	return c.Waypoints[0].Location
}

// End returns the last waypoint location.
func (c Corridor) End() geo.Point {
	if len(c.Waypoints) == 0 {
		return geo.Point{}
	}
	return c.Waypoints[len(c.Waypoints)-1].Location
}

func (c Corridor) clone() Corridor {
	c.Waypoints = append([]Waypoint(nil), c.Waypoints...)
	c.HazardsAvoided = append([]string(nil), c.HazardsAvoided...)
	return c
}

// Config holds corridor timing and reroute thresholds.
type Config struct {
	AverageSpeedKmph     float64
	DetourFactor         float64
	DetourPenaltyMinutes int
	MinSavingsMinutes    int
}

// DefaultConfig returns the stock corridor parameters.
func DefaultConfig() Config {
	return Config{
		AverageSpeedKmph:     50,
		DetourFactor:         1.3,
		DetourPenaltyMinutes: 10,
		MinSavingsMinutes:    3,
	}
}

// Manager owns the destination, the current corridor and the hazard zones.
// It is not safe for concurrent use.
type Manager struct {
	cfg   Config
	clock timeutil.Clock
	ids   ident.Source

	destination *geo.Point
	current     *Corridor
	zones       []HazardZone
}

// NewManager creates a Manager. Nil clock or id source fall back to the
// real clock and UUIDs.
func NewManager(cfg Config, clock timeutil.Clock, ids ident.Source) *Manager {
	if cfg.AverageSpeedKmph <= 0 {
		cfg.AverageSpeedKmph = DefaultConfig().AverageSpeedKmph
	}
	if cfg.DetourFactor < 1 {
		cfg.DetourFactor = 1
	}
	return &Manager{
		cfg:   cfg,
		clock: timeutil.OrReal(clock),
		ids:   ident.OrUUID(ids),
	}
}

// SetDestination replaces the destination and builds a fresh corridor from
// start. Known hazard zones are kept.
func (m *Manager) SetDestination(start, end geo.Point) Corridor {
	dest := end
	m.destination = &dest
	c := m.build(start, end, nil)
	m.current = &c
	logf("destination %v, corridor %s %.2f km %d min", end, c.ID, c.TotalDistanceKm, c.EstimatedTimeMinutes)
	return c.clone()
}

// Destination returns the destination, if any.
func (m *Manager) Destination() (geo.Point, bool) {
	if m.destination == nil {
		return geo.Point{}, false
	}
	return *m.destination, true
}

// Current returns a copy of the current corridor, if any.
func (m *Manager) Current() (Corridor, bool) {
	if m.current == nil {
		return Corridor{}, false
	}
	return m.current.clone(), true
}

// build makes a three-waypoint corridor. Non-empty avoided applies the
// detour distance factor and time penalty.
func (m *Manager) build(start, end geo.Point, avoided []string) Corridor {
	now := m.clock.Now()
	straightKm := geo.PlanarDistanceKm(start, end)
	distanceKm := straightKm
	detour := len(avoided) > 0
	if detour {
		distanceKm *= m.cfg.DetourFactor
	}
	minutes := units.TravelMinutes(distanceKm, m.cfg.AverageSpeedKmph)
	if detour {
		minutes += m.cfg.DetourPenaltyMinutes
	}

	points := []geo.Point{start, geo.Midpoint(start, end), end}
	waypoints := make([]Waypoint, len(points))
	for i, p := range points {
		frac := float64(i) / float64(len(points)-1)
		waypoints[i] = Waypoint{
			Location:            p,
			ETA:                 now.Add(time.Duration(frac * float64(minutes) * float64(time.Minute))),
			DistanceFromStartKm: frac * distanceKm,
		}
	}

	return Corridor{
		ID:                   m.ids.NewID("route"),
		Waypoints:            waypoints,
		TotalDistanceKm:      distanceKm,
		EstimatedTimeMinutes: minutes,
		HazardsAvoided:       append([]string{}, avoided...),
		IsOptimal:            !detour,
		CreatedAt:            now,
	}
}

// AddHazard records z, replacing any zone with the same id, and reports
// whether any current waypoint lies inside it. Expired zones are not
// recorded.
func (m *Manager) AddHazard(z HazardZone) (bool, error) {
	if err := z.Validate(); err != nil {
		return false, err
	}
	if z.Expired(m.clock.Now()) {
		return false, nil
	}

	replaced := false
	for i := range m.zones {
		if m.zones[i].ID == z.ID {
			m.zones[i] = z
			replaced = true
			break
		}
	}
	if !replaced {
		m.zones = append(m.zones, z)
	}

	affects := m.affectsCurrent(z)
	logf("zone %s %s/%s r=%.0fm at %v affects_route=%v", z.ID, z.Type, z.Severity, z.RadiusMeters, z.Center, affects)
	return affects, nil
}

func (m *Manager) affectsCurrent(z HazardZone) bool {
	if m.current == nil {
		return false
	}
	for _, wp := range m.current.Waypoints {
		if z.Contains(wp.Location) {
			return true
		}
	}
	return false
}

// RemoveHazard drops the zone with the given id.
func (m *Manager) RemoveHazard(id string) bool {
	for i := range m.zones {
		if m.zones[i].ID == id {
			m.zones = append(m.zones[:i], m.zones[i+1:]...)
			return true
		}
	}
	return false
}

// PruneExpired drops expired zones and returns how many were removed.
func (m *Manager) PruneExpired() int {
	now := m.clock.Now()
	kept := m.zones[:0]
	for _, z := range m.zones {
		if !z.Expired(now) {
			kept = append(kept, z)
		}
	}
	n := len(m.zones) - len(kept)
	for i := len(kept); i < len(m.zones); i++ {
		m.zones[i] = HazardZone{}
	}
	m.zones = kept
	return n
}

// Hazards returns every recorded zone in insertion order.
func (m *Manager) Hazards() []HazardZone {
	return append([]HazardZone(nil), m.zones...)
}

// ActiveHazards returns the non-expired zones in insertion order.
func (m *Manager) ActiveHazards() []HazardZone {
	now := m.clock.Now()
	out := make([]HazardZone, 0, len(m.zones))
	for _, z := range m.zones {
		if !z.Expired(now) {
			out = append(out, z)
		}
	}
	return out
}

// Recalculate rebuilds the corridor from start. When a live zone contains
// start or the destination the new corridor carries the detour penalty.
// The new corridor replaces the current one only if it is at least
// MinSavingsMinutes faster; otherwise the current corridor is kept and
// (nil, false) is returned.
func (m *Manager) Recalculate(start geo.Point) (*Corridor, bool) {
	if m.destination == nil {
		return nil, false
	}
	dest := *m.destination

	var avoided []string
	for _, z := range m.ActiveHazards() {
		if z.Contains(start) || z.Contains(dest) {
			avoided = append(avoided, z.ID)
		}
	}

	candidate := m.build(start, dest, avoided)
	if m.current != nil {
		saved := m.current.EstimatedTimeMinutes - candidate.EstimatedTimeMinutes
		if saved < m.cfg.MinSavingsMinutes {
			logf("reroute from %v saves %d min, keeping %s", start, saved, m.current.ID)
			return nil, false
		}
	}

	m.current = &candidate
	out := candidate.clone()
	logf("rerouted: %s %.2f km %d min avoiding %v", out.ID, out.TotalDistanceKm, out.EstimatedTimeMinutes, out.HazardsAvoided)
	return &out, true
}

// DistanceToHazard is the planar distance from p to the zone center.
func (m *Manager) DistanceToHazard(p geo.Point, z HazardZone) float64 {
	return geo.PlanarDistance(p, z.Center)
}

// NearestHazard returns the live zone whose center is closest to p.
func (m *Manager) NearestHazard(p geo.Point) (HazardZone, float64, bool) {
	var best HazardZone
	bestDist := math.Inf(1)
	found := false
	for _, z := range m.ActiveHazards() {
		if d := m.DistanceToHazard(p, z); d < bestDist {
			best, bestDist, found = z, d, true
		}
	}
	return best, bestDist, found
}

// typeDelayFactor scales the severity delay for hazard types that tend to
// hold traffic longer.
func typeDelayFactor(t hazard.Type) float64 {
	switch t {
	case hazard.TypeAccident:
		return 1.5
	case hazard.TypeConstruction, hazard.TypeRoadHazard:
		return 1.2
	case hazard.TypeTrafficJam:
		return 1.3
	case hazard.TypeEmergencyVehicle:
		return 1.1
	case hazard.TypePolice, hazard.TypeWeather, hazard.TypeUnknown:
		return 1.0
	}
	return 1.0
}

// EstimateHazardDelay returns the expected delay in minutes for driving
// through z.
func (m *Manager) EstimateHazardDelay(z HazardZone) int {
	return int(float64(hazard.EstimateDelayMinutes(z.Severity)) * typeDelayFactor(z.Type))
}

// AlternativeRouteCount is a rough count of alternatives a real router
// would offer: none without a route, fewer when hazards are known.
func (m *Manager) AlternativeRouteCount() int {
	if m.current == nil {
		return 0
	}
	if len(m.ActiveHazards()) > 0 {
		return 2
	}
	return 3
}

// RemainingDistanceKm is the straight-line distance from p to the
// destination.
func (m *Manager) RemainingDistanceKm(p geo.Point) (float64, error) {
	if m.destination == nil {
		return 0, ErrNoDestination
	}
	return geo.PlanarDistanceKm(p, *m.destination), nil
}

// RemainingMinutes is the driving time from p to the destination at the
// corridor's average speed.
func (m *Manager) RemainingMinutes(p geo.Point) (int, error) {
	km, err := m.RemainingDistanceKm(p)
	if err != nil {
		return 0, err
	}
	return units.TravelMinutes(km, m.cfg.AverageSpeedKmph), nil
}
