package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/faslit/internal/geo"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetVehicleID(); got != "vehicle_001" {
		t.Errorf("GetVehicleID() = %q, want vehicle_001", got)
	}
	if _, ok := cfg.GetHomeLocation(); ok {
		t.Error("GetHomeLocation() should report no home by default")
	}
	if !cfg.GetAutonomousCapable() {
		t.Error("GetAutonomousCapable() = false, want true")
	}
	if got := cfg.GetTrackClusterRadiusM(); got != 50 {
		t.Errorf("GetTrackClusterRadiusM() = %f, want 50", got)
	}
	if got := cfg.GetHazardZoneRadiusM(); got != 100 {
		t.Errorf("GetHazardZoneRadiusM() = %f, want 100", got)
	}
	if got := cfg.GetSharedHazardZoneRadiusM(); got != 150 {
		t.Errorf("GetSharedHazardZoneRadiusM() = %f, want 150", got)
	}
	if got := cfg.GetHazardZoneTTL(); got != 0 {
		t.Errorf("GetHazardZoneTTL() = %s, want 0", got)
	}
	if got := cfg.GetRouteAverageSpeedKmph(); got != 50 {
		t.Errorf("GetRouteAverageSpeedKmph() = %f, want 50", got)
	}
	if got := cfg.GetDetourDistanceFactor(); got != 1.3 {
		t.Errorf("GetDetourDistanceFactor() = %f, want 1.3", got)
	}
	if got := cfg.GetDetourPenaltyMinutes(); got != 10 {
		t.Errorf("GetDetourPenaltyMinutes() = %d, want 10", got)
	}
	if got := cfg.GetMinRerouteSavingsMinutes(); got != 3 {
		t.Errorf("GetMinRerouteSavingsMinutes() = %d, want 3", got)
	}
	if got := cfg.GetDecisionHistorySize(); got != 256 {
		t.Errorf("GetDecisionHistorySize() = %d, want 256", got)
	}
	if got := cfg.GetStuckSpeedKmph(); got != 10 {
		t.Errorf("GetStuckSpeedKmph() = %f, want 10", got)
	}
	if got := cfg.GetWalkMaxDistanceKm(); got != 5 {
		t.Errorf("GetWalkMaxDistanceKm() = %f, want 5", got)
	}
	if cfg.GetIncludeBike() {
		t.Error("GetIncludeBike() = true, want false")
	}
	if got := cfg.GetAlternativeDelayEstimateMinutes(); got != 20 {
		t.Errorf("GetAlternativeDelayEstimateMinutes() = %d, want 20", got)
	}
	if got := cfg.GetMinAlternativeSavingsMinutes(); got != 5 {
		t.Errorf("GetMinAlternativeSavingsMinutes() = %d, want 5", got)
	}
	if got := cfg.GetAutonomousSpeedKmph(); got != 30 {
		t.Errorf("GetAutonomousSpeedKmph() = %f, want 30", got)
	}
	if dx, dy := cfg.GetParkingOffsetM(); dx != 100 || dy != 50 {
		t.Errorf("GetParkingOffsetM() = (%f, %f), want (100, 50)", dx, dy)
	}
	if got := cfg.GetTrackingURLBase(); got != DefaultTrackingURLBase {
		t.Errorf("GetTrackingURLBase() = %q", got)
	}
	if got := cfg.GetEventQueueSize(); got != 64 {
		t.Errorf("GetEventQueueSize() = %d, want 64", got)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "vehicle.json", `{
  "vehicle_id": "car_42",
  "home_location": [10, 20, 0],
  "autonomous_capable": false,
  "hazard_zone_ttl": "15m",
  "include_bike": true,
  "parking_offset_m": [30, -20]
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetVehicleID(); got != "car_42" {
		t.Errorf("GetVehicleID() = %q, want car_42", got)
	}
	home, ok := cfg.GetHomeLocation()
	if !ok || home != geo.Pt(10, 20, 0) {
		t.Errorf("GetHomeLocation() = %v, %v", home, ok)
	}
	if cfg.GetAutonomousCapable() {
		t.Error("GetAutonomousCapable() = true, want false")
	}
	if got := cfg.GetHazardZoneTTL(); got != 15*time.Minute {
		t.Errorf("GetHazardZoneTTL() = %s, want 15m", got)
	}
	if !cfg.GetIncludeBike() {
		t.Error("GetIncludeBike() = false, want true")
	}
	if dx, dy := cfg.GetParkingOffsetM(); dx != 30 || dy != -20 {
		t.Errorf("GetParkingOffsetM() = (%f, %f)", dx, dy)
	}
	// untouched fields keep defaults
	if got := cfg.GetTrackClusterRadiusM(); got != 50 {
		t.Errorf("GetTrackClusterRadiusM() = %f, want 50", got)
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "config.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{not json`, "failed to parse"},
		{"zero radius", "r.json", `{"track_cluster_radius_m": 0}`, "track_cluster_radius_m must be positive"},
		{"negative penalty", "p.json", `{"detour_penalty_minutes": -1}`, "detour_penalty_minutes"},
		{"detour factor below one", "f.json", `{"detour_distance_factor": 0.5}`, "detour_distance_factor"},
		{"bad ttl", "ttl.json", `{"hazard_zone_ttl": "soon"}`, "invalid hazard_zone_ttl"},
		{"short home", "home.json", `{"home_location": [1]}`, "invalid home_location"},
		{"bad parking offset", "park.json", `{"parking_offset_m": [1, 2, 3]}`, "parking_offset_m"},
		{"zero history", "h.json", `{"decision_history_size": 0}`, "decision_history_size"},
		{"zero queue", "q.json", `{"event_queue_size": 0}`, "event_queue_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_Missing(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	big := `{"vehicle_id": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", big)
	_, err := LoadTuningConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The defaults file must agree with the accessor fallbacks.
	empty := EmptyTuningConfig()
	if cfg.GetTrackClusterRadiusM() != empty.GetTrackClusterRadiusM() {
		t.Errorf("track_cluster_radius_m: file %f, fallback %f", cfg.GetTrackClusterRadiusM(), empty.GetTrackClusterRadiusM())
	}
	if cfg.GetRouteAverageSpeedKmph() != empty.GetRouteAverageSpeedKmph() {
		t.Errorf("route_average_speed_kmph differs")
	}
	if cfg.GetDetourPenaltyMinutes() != empty.GetDetourPenaltyMinutes() {
		t.Errorf("detour_penalty_minutes differs")
	}
	if cfg.GetAutonomousSpeedKmph() != empty.GetAutonomousSpeedKmph() {
		t.Errorf("autonomous_speed_kmph differs")
	}
	if cfg.GetHazardZoneTTL() != 0 {
		t.Errorf("hazard_zone_ttl should be empty in defaults, got %s", cfg.GetHazardZoneTTL())
	}
	if _, ok := cfg.GetHomeLocation(); ok {
		t.Error("defaults should not configure a home location")
	}
}
