package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/handoff"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/tracker"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"track_events", "decisions", "autonomous_sessions"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDB_FileReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordDecision(decision.Decision{
		Action: decision.ActionNoAction, VehicleState: decision.StateUnaffected,
		Reasoning: "clear", Confidence: 0.9, At: t0,
	}))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.RecentDecisions(0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='decisions'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='decisions'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTrackEvents_NewestFirst(t *testing.T) {
	db := openTestDB(t)

	track := tracker.Track{
		ID: "trk_001", ActorTag: "police", LastLocation: geo.Pt(10, 5, 0),
		FirstSeen: t0, LastSeen: t0, StillNear: true, Sightings: 1,
	}
	require.NoError(t, db.RecordTrackDelta(tracker.Delta{Kind: tracker.Created, Track: track}))

	track.LastSeen = t0.Add(2 * time.Second)
	track.Sightings = 2
	require.NoError(t, db.RecordTrackDelta(tracker.Delta{Kind: tracker.Closed, Track: track}))

	events, err := db.TrackEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, tracker.Closed, events[0].Kind)
	assert.Equal(t, "trk_001", events[0].TrackID)
	assert.Equal(t, "police", events[0].ActorTag)
	assert.Equal(t, geo.Pt(10, 5, 0), events[0].Location)
	assert.Equal(t, 2, events[0].Sightings)
	assert.True(t, events[0].LastSeen.Equal(t0.Add(2*time.Second)))
	assert.Equal(t, tracker.Created, events[1].Kind)

	limited, err := db.TrackEvents(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecentDecisions_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	in := decision.Decision{
		Action:           decision.ActionReroute,
		VehicleState:     decision.StateRerouting,
		Reasoning:        "alternative saves 12 minutes",
		RerouteAvailable: true,
		TimeSavedMinutes: 12,
		Confidence:       0.85,
		HazardType:       hazard.TypeAccident,
		Severity:         hazard.SeverityHigh,
		At:               t0,
	}
	require.NoError(t, db.RecordDecision(in))
	require.NoError(t, db.RecordDecision(decision.Decision{
		Action: decision.ActionNoAction, VehicleState: decision.StateUnaffected,
		Reasoning: "no hazard", Confidence: 0.9, At: t0.Add(time.Second),
	}))

	got, err := db.RecentDecisions(0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, decision.ActionNoAction, got[0].Action)
	assert.Equal(t, hazard.Severity(0), got[0].Severity)
	assert.Equal(t, in.Action, got[1].Action)
	assert.Equal(t, in.VehicleState, got[1].VehicleState)
	assert.Equal(t, in.Reasoning, got[1].Reasoning)
	assert.True(t, got[1].RerouteAvailable)
	assert.Equal(t, 12, got[1].TimeSavedMinutes)
	assert.InDelta(t, 0.85, got[1].Confidence, 1e-9)
	assert.Equal(t, hazard.TypeAccident, got[1].HazardType)
	assert.Equal(t, hazard.SeverityHigh, got[1].Severity)
	assert.True(t, got[1].At.Equal(t0))
}

func TestRecordSession_Upserts(t *testing.T) {
	db := openTestDB(t)

	s := handoff.Session{
		ID:                     "auto_001",
		VehicleID:              "veh-1",
		StartTime:              t0,
		StartLocation:          geo.Pt(0, 0, 0),
		TargetLocation:         geo.Pt(3000, 4000, 0),
		Mode:                   handoff.ModeContinueToDestination,
		Status:                 handoff.StatusAutonomousDriving,
		PassengerTransportMode: "walk",
		EstimatedArrival:       t0.Add(10 * time.Minute),
	}
	require.NoError(t, db.RecordSession(s))

	s.Status = handoff.StatusParked
	s.EndTime = t0.Add(11 * time.Minute)
	require.NoError(t, db.RecordSession(s))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM autonomous_sessions`).Scan(&n))
	assert.Equal(t, 1, n)

	got, err := db.Session("auto_001")
	require.NoError(t, err)
	assert.Equal(t, handoff.StatusParked, got.Status)
	assert.Equal(t, handoff.ModeContinueToDestination, got.Mode)
	assert.Equal(t, "walk", got.PassengerTransportMode)
	assert.Equal(t, 3000.0, got.TargetLocation.X)
	assert.True(t, got.EstimatedArrival.Equal(t0.Add(10*time.Minute)))
	assert.True(t, got.EndTime.Equal(t0.Add(11*time.Minute)))
}

func TestSession_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Session("nope")
	assert.Error(t, err)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tailsql")
}
