package hazard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want Type
	}{
		{"police", TypePolice},
		{"police_car", TypePolice},
		{"POLICE_CAR", TypePolice},
		{"ambulance", TypeEmergencyVehicle},
		{"fire_truck", TypeEmergencyVehicle},
		{"construction", TypeConstruction},
		{"construction_vehicle", TypeConstruction},
		{"accident", TypeAccident},
		{"accident_debris", TypeAccident},
		{"vehicle_stopped", TypeRoadHazard},
		{"debris", TypeRoadHazard},
		{"traffic_jam", TypeTrafficJam},
		{"heavy_congestion", TypeTrafficJam},
		{"weather_alert", TypeWeather},
		{"black_ice", TypeWeather},
		{"police_service_vehicle", TypePolice},
		{"pedestrian", TypeUnknown},
		{"", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.tag))
		})
	}
}

func TestBaseSeverity(t *testing.T) {
	t.Parallel()

	want := map[Type]Severity{
		TypePolice:           SeverityLow,
		TypeAccident:         SeverityHigh,
		TypeConstruction:     SeverityMedium,
		TypeTrafficJam:       SeverityMedium,
		TypeEmergencyVehicle: SeverityMedium,
		TypeRoadHazard:       SeverityMedium,
		TypeWeather:          SeverityLow,
		TypeUnknown:          SeverityLow,
	}
	require.Len(t, want, len(Types))
	for typ, sev := range want {
		assert.Equal(t, sev, BaseSeverity(typ), "type %s", typ)
	}
}

func TestAssessSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      Type
		visible  bool
		distance float64
		speed    float64
		want     Severity
	}{
		{"hidden accident is low", TypeAccident, false, 10, 0, SeverityLow},
		{"police close escalates", TypePolice, true, 30, 60, SeverityMedium},
		{"police mid range unchanged", TypePolice, true, 100, 60, SeverityLow},
		{"police far stays low", TypePolice, true, 600, 60, SeverityLow},
		{"construction close", TypeConstruction, true, 20, 40, SeverityHigh},
		{"construction far stays medium", TypeConstruction, true, 250, 40, SeverityMedium},
		{"construction far crawling", TypeConstruction, true, 250, 2, SeverityHigh},
		{"traffic jam far stays medium", TypeTrafficJam, true, 1000, 60, SeverityMedium},
		{"accident close stays high", TypeAccident, true, 40, 60, SeverityHigh},
		{"accident close crawling", TypeAccident, true, 40, 3, SeverityCritical},
		{"accident at 200 de-escalates", TypeAccident, true, 200, 60, SeverityMedium},
		{"accident at 199.9 unchanged", TypeAccident, true, 199.9, 60, SeverityHigh},
		{"accident at 50 unchanged", TypeAccident, true, 50, 60, SeverityHigh},
		{"low never crawl-escalates", TypeUnknown, true, 100, 0, SeverityLow},
		{"medium crawl", TypeRoadHazard, true, 100, 4.9, SeverityHigh},
		{"speed exactly 5 no crawl", TypeRoadHazard, true, 100, 5, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessSeverity(tt.typ, tt.visible, tt.distance, tt.speed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssessSeverity_HiddenAlwaysLow(t *testing.T) {
	t.Parallel()

	for _, typ := range Types {
		for _, d := range []float64{0, 10, 49.9, 50, 150, 200, 1000} {
			for _, v := range []float64{0, 2, 5, 30, 120} {
				assert.Equal(t, SeverityLow, AssessSeverity(typ, false, d, v), "%s d=%v v=%v", typ, d, v)
			}
		}
	}
}

func TestAssessSeverity_FarHighNeverCritical(t *testing.T) {
	t.Parallel()

	for _, d := range []float64{200, 250, 500, 5000} {
		for _, v := range []float64{0, 1, 4.9, 5, 60} {
			got := AssessSeverity(TypeAccident, true, d, v)
			assert.NotEqual(t, SeverityCritical, got, "d=%v v=%v", d, v)
			assert.LessOrEqual(t, got, SeverityHigh)
		}
	}
}

func TestAssessSeverity_InRange(t *testing.T) {
	t.Parallel()

	for _, typ := range Types {
		for _, d := range []float64{0, 49, 50, 199, 200, 900} {
			for _, v := range []float64{0, 4, 5, 80} {
				got := AssessSeverity(typ, true, d, v)
				require.True(t, got.Valid(), "%s d=%v v=%v gave %d", typ, d, v, got)
				// at most one step from base per adjustment, two in total
				diff := int(got) - int(BaseSeverity(typ))
				assert.LessOrEqual(t, diff, 2)
				assert.GreaterOrEqual(t, diff, -1)
			}
		}
	}
}

func TestShouldReroute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sev      Severity
		distance float64
		want     bool
	}{
		{SeverityCritical, 101, true},
		{SeverityCritical, 100, false},
		{SeverityHigh, 600, true},
		{SeverityHigh, 50, false},
		{SeverityMedium, 501, true},
		{SeverityMedium, 500, false},
		{SeverityMedium, 300, false},
		{SeverityLow, 5000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldReroute(tt.sev, tt.distance), "%s at %v", tt.sev, tt.distance)
	}
}

func TestShouldSuggestAlternativesAndDelay(t *testing.T) {
	t.Parallel()

	wantSuggest := []bool{false, false, true, true}
	wantDelay := []int{5, 15, 30, 60}
	for i, sev := range allSeverities {
		assert.Equal(t, wantSuggest[i], ShouldSuggestAlternatives(sev), sev.String())
		assert.Equal(t, wantDelay[i], EstimateDelayMinutes(sev), sev.String())
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	typ, ok := ParseType(" Accident ")
	assert.True(t, ok)
	assert.Equal(t, TypeAccident, typ)

	typ, ok = ParseType("meteor")
	assert.False(t, ok)
	assert.Equal(t, TypeUnknown, typ)

	sev, ok := ParseSeverity("CRITICAL")
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)

	sev, ok = ParseSeverity("apocalyptic")
	assert.False(t, ok)
	assert.Equal(t, SeverityLow, sev)
}

func TestSeverityJSON(t *testing.T) {
	t.Parallel()

	c := Assess("accident", true, 40, 3)
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hazard_type":"accident","severity":"critical","is_visible":true,"distance_m":40}`, string(b))

	var back Classification
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, c, back)

	_, err = json.Marshal(Severity(0))
	assert.Error(t, err)
}

func TestDisplayMappings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "critical", SeverityCritical.AlertLevel())
	assert.Equal(t, "warning", SeverityHigh.AlertLevel())
	assert.Equal(t, "info", SeverityMedium.AlertLevel())
	assert.Equal(t, "info", SeverityLow.AlertLevel())

	seen := map[string]bool{}
	for _, typ := range Types {
		icon := typ.Icon()
		assert.NotEmpty(t, icon)
		assert.NotEmpty(t, typ.Title())
		seen[icon] = true
	}
	assert.Len(t, seen, len(Types))
}
