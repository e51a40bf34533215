package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/faslit/internal/geo"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultTrackingURLBase is where passengers follow a driverless vehicle.
const DefaultTrackingURLBase = "https://vehicle-tracking.app/track"

// TuningConfig is the vehicle's configuration: identity, the handoff policy
// inputs and every threshold used by the hazard pipeline. Unset fields fall
// back to the defaults returned by the Get* accessors.
type TuningConfig struct {
	// Vehicle identity and capability
	VehicleID         *string   `json:"vehicle_id,omitempty"`
	HomeLocation      []float64 `json:"home_location,omitempty"` // [x, y, z]
	AutonomousCapable *bool     `json:"autonomous_capable,omitempty"`

	// Tracker
	TrackClusterRadiusM *float64 `json:"track_cluster_radius_m,omitempty"`

	// Hazard zones
	HazardZoneRadiusM       *float64 `json:"hazard_zone_radius_m,omitempty"`
	SharedHazardZoneRadiusM *float64 `json:"shared_hazard_zone_radius_m,omitempty"`
	HazardZoneTTL           *string  `json:"hazard_zone_ttl,omitempty"` // duration string like "15m"

	// Route corridor
	RouteAverageSpeedKmph    *float64 `json:"route_average_speed_kmph,omitempty"`
	DetourDistanceFactor     *float64 `json:"detour_distance_factor,omitempty"`
	DetourPenaltyMinutes     *int     `json:"detour_penalty_minutes,omitempty"`
	MinRerouteSavingsMinutes *int     `json:"min_reroute_savings_minutes,omitempty"`

	// Decisions
	DecisionHistorySize *int     `json:"decision_history_size,omitempty"`
	StuckSpeedKmph      *float64 `json:"stuck_speed_kmph,omitempty"`

	// Alternatives
	WalkMaxDistanceKm               *float64 `json:"walk_max_distance_km,omitempty"`
	IncludeBike                     *bool    `json:"include_bike,omitempty"`
	AlternativeDelayEstimateMinutes *int     `json:"alternative_delay_estimate_minutes,omitempty"`
	MinAlternativeSavingsMinutes    *int     `json:"min_alternative_savings_minutes,omitempty"`

	// Autonomous handoff
	AutonomousSpeedKmph *float64  `json:"autonomous_speed_kmph,omitempty"`
	ParkingOffsetM      []float64 `json:"parking_offset_m,omitempty"` // [dx, dy]
	TrackingURLBase     *string   `json:"tracking_url_base,omitempty"`

	// Event loop
	EventQueueSize *int `json:"event_queue_size,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	positive := map[string]*float64{
		"track_cluster_radius_m":      c.TrackClusterRadiusM,
		"hazard_zone_radius_m":        c.HazardZoneRadiusM,
		"shared_hazard_zone_radius_m": c.SharedHazardZoneRadiusM,
		"route_average_speed_kmph":    c.RouteAverageSpeedKmph,
		"autonomous_speed_kmph":       c.AutonomousSpeedKmph,
	}
	for name, v := range positive {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.DetourDistanceFactor != nil && *c.DetourDistanceFactor < 1 {
		return fmt.Errorf("detour_distance_factor must be at least 1, got %f", *c.DetourDistanceFactor)
	}

	nonNegative := map[string]*int{
		"detour_penalty_minutes":             c.DetourPenaltyMinutes,
		"min_reroute_savings_minutes":        c.MinRerouteSavingsMinutes,
		"alternative_delay_estimate_minutes": c.AlternativeDelayEstimateMinutes,
		"min_alternative_savings_minutes":    c.MinAlternativeSavingsMinutes,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	if c.DecisionHistorySize != nil && *c.DecisionHistorySize < 1 {
		return fmt.Errorf("decision_history_size must be at least 1, got %d", *c.DecisionHistorySize)
	}
	if c.EventQueueSize != nil && *c.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be at least 1, got %d", *c.EventQueueSize)
	}
	if c.WalkMaxDistanceKm != nil && *c.WalkMaxDistanceKm < 0 {
		return fmt.Errorf("walk_max_distance_km must be non-negative, got %f", *c.WalkMaxDistanceKm)
	}
	if c.StuckSpeedKmph != nil && *c.StuckSpeedKmph < 0 {
		return fmt.Errorf("stuck_speed_kmph must be non-negative, got %f", *c.StuckSpeedKmph)
	}

	if c.HazardZoneTTL != nil && *c.HazardZoneTTL != "" {
		d, err := time.ParseDuration(*c.HazardZoneTTL)
		if err != nil {
			return fmt.Errorf("invalid hazard_zone_ttl '%s': %w", *c.HazardZoneTTL, err)
		}
		if d < 0 {
			return fmt.Errorf("hazard_zone_ttl must be non-negative, got %s", d)
		}
	}

	if c.HomeLocation != nil {
		p, err := geo.FromSlice(c.HomeLocation)
		if err != nil {
			return fmt.Errorf("invalid home_location: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid home_location: %w", err)
		}
	}

	if c.ParkingOffsetM != nil {
		if len(c.ParkingOffsetM) != 2 {
			return fmt.Errorf("parking_offset_m needs 2 values, got %d", len(c.ParkingOffsetM))
		}
		for _, v := range c.ParkingOffsetM {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("parking_offset_m must be finite, got %v", c.ParkingOffsetM)
			}
		}
	}

	return nil
}

// GetVehicleID returns the vehicle_id value or the default.
func (c *TuningConfig) GetVehicleID() string {
	if c.VehicleID == nil || *c.VehicleID == "" {
		return "vehicle_001"
	}
	return *c.VehicleID
}

// GetHomeLocation returns the configured home and whether one is set.
func (c *TuningConfig) GetHomeLocation() (geo.Point, bool) {
	if c.HomeLocation == nil {
		return geo.Point{}, false
	}
	p, err := geo.FromSlice(c.HomeLocation)
	if err != nil {
		return geo.Point{}, false
	}
	return p, true
}

// GetAutonomousCapable returns the autonomous_capable value or the default.
func (c *TuningConfig) GetAutonomousCapable() bool {
	if c.AutonomousCapable == nil {
		return true
	}
	return *c.AutonomousCapable
}

// GetTrackClusterRadiusM returns the track_cluster_radius_m value or the default.
func (c *TuningConfig) GetTrackClusterRadiusM() float64 {
	if c.TrackClusterRadiusM == nil {
		return 50
	}
	return *c.TrackClusterRadiusM
}

// GetHazardZoneRadiusM returns the hazard_zone_radius_m value or the default.
func (c *TuningConfig) GetHazardZoneRadiusM() float64 {
	if c.HazardZoneRadiusM == nil {
		return 100
	}
	return *c.HazardZoneRadiusM
}

// GetSharedHazardZoneRadiusM returns the shared_hazard_zone_radius_m value or the default.
func (c *TuningConfig) GetSharedHazardZoneRadiusM() float64 {
	if c.SharedHazardZoneRadiusM == nil {
		return 150
	}
	return *c.SharedHazardZoneRadiusM
}

// GetHazardZoneTTL parses hazard_zone_ttl. Zero means zones never expire.
func (c *TuningConfig) GetHazardZoneTTL() time.Duration {
	if c.HazardZoneTTL == nil || *c.HazardZoneTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.HazardZoneTTL)
	if err != nil {
		return 0
	}
	return d
}

// GetRouteAverageSpeedKmph returns the route_average_speed_kmph value or the default.
func (c *TuningConfig) GetRouteAverageSpeedKmph() float64 {
	if c.RouteAverageSpeedKmph == nil {
		return 50
	}
	return *c.RouteAverageSpeedKmph
}

// GetDetourDistanceFactor returns the detour_distance_factor value or the default.
func (c *TuningConfig) GetDetourDistanceFactor() float64 {
	if c.DetourDistanceFactor == nil {
		return 1.3
	}
	return *c.DetourDistanceFactor
}

// GetDetourPenaltyMinutes returns the detour_penalty_minutes value or the default.
func (c *TuningConfig) GetDetourPenaltyMinutes() int {
	if c.DetourPenaltyMinutes == nil {
		return 10
	}
	return *c.DetourPenaltyMinutes
}

// GetMinRerouteSavingsMinutes returns the min_reroute_savings_minutes value or the default.
func (c *TuningConfig) GetMinRerouteSavingsMinutes() int {
	if c.MinRerouteSavingsMinutes == nil {
		return 3
	}
	return *c.MinRerouteSavingsMinutes
}

// GetDecisionHistorySize returns the decision_history_size value or the default.
func (c *TuningConfig) GetDecisionHistorySize() int {
	if c.DecisionHistorySize == nil {
		return 256
	}
	return *c.DecisionHistorySize
}

// GetStuckSpeedKmph returns the stuck_speed_kmph value or the default.
func (c *TuningConfig) GetStuckSpeedKmph() float64 {
	if c.StuckSpeedKmph == nil {
		return 10
	}
	return *c.StuckSpeedKmph
}

// GetWalkMaxDistanceKm returns the walk_max_distance_km value or the default.
func (c *TuningConfig) GetWalkMaxDistanceKm() float64 {
	if c.WalkMaxDistanceKm == nil {
		return 5
	}
	return *c.WalkMaxDistanceKm
}

// GetIncludeBike returns the include_bike value or the default.
func (c *TuningConfig) GetIncludeBike() bool {
	if c.IncludeBike == nil {
		return false
	}
	return *c.IncludeBike
}

// GetAlternativeDelayEstimateMinutes returns the alternative_delay_estimate_minutes value or the default.
func (c *TuningConfig) GetAlternativeDelayEstimateMinutes() int {
	if c.AlternativeDelayEstimateMinutes == nil {
		return 20
	}
	return *c.AlternativeDelayEstimateMinutes
}

// GetMinAlternativeSavingsMinutes returns the min_alternative_savings_minutes value or the default.
func (c *TuningConfig) GetMinAlternativeSavingsMinutes() int {
	if c.MinAlternativeSavingsMinutes == nil {
		return 5
	}
	return *c.MinAlternativeSavingsMinutes
}

// GetAutonomousSpeedKmph returns the autonomous_speed_kmph value or the default.
func (c *TuningConfig) GetAutonomousSpeedKmph() float64 {
	if c.AutonomousSpeedKmph == nil {
		return 30
	}
	return *c.AutonomousSpeedKmph
}

// GetParkingOffsetM returns the parking offset (dx, dy) or the default.
func (c *TuningConfig) GetParkingOffsetM() (float64, float64) {
	if len(c.ParkingOffsetM) != 2 {
		return 100, 50
	}
	return c.ParkingOffsetM[0], c.ParkingOffsetM[1]
}

// GetTrackingURLBase returns the tracking_url_base value or the default.
func (c *TuningConfig) GetTrackingURLBase() string {
	if c.TrackingURLBase == nil || *c.TrackingURLBase == "" {
		return DefaultTrackingURLBase
	}
	return *c.TrackingURLBase
}

// GetEventQueueSize returns the event_queue_size value or the default.
func (c *TuningConfig) GetEventQueueSize() int {
	if c.EventQueueSize == nil {
		return 64
	}
	return *c.EventQueueSize
}
