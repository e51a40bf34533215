package tracker

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/ident"
	"github.com/banshee-data/faslit/internal/monitoring"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

func newTestTracker() *Tracker {
	return New(WithIDSource(&ident.Sequence{}))
}

func obs(tag string, visible bool, x, y float64, sec int) Observation {
	return Observation{
		ActorTag:  tag,
		Visible:   visible,
		Location:  geo.Pt(x, y, 0),
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
	}
}

func mustObserve(t *testing.T, tr *Tracker, o Observation) []Delta {
	t.Helper()
	d, err := tr.Observe(o)
	require.NoError(t, err)
	return d
}

func TestObserve_DedupWithinRadius(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	first := mustObserve(t, tr, obs("police", true, 0, 0, 0))
	require.Len(t, first, 1)
	assert.Equal(t, Created, first[0].Kind)
	assert.Equal(t, "trk_001", first[0].Track.ID)
	assert.True(t, first[0].Track.StillNear)

	second := mustObserve(t, tr, obs("police", true, 30, 0, 1))
	require.Len(t, second, 1)
	assert.Equal(t, StillActive, second[0].Kind)
	assert.Equal(t, "trk_001", second[0].Track.ID)
	assert.Equal(t, geo.Pt(30, 0, 0), second[0].Track.LastLocation)
	assert.Equal(t, t0.Add(time.Second), second[0].Track.LastSeen)
	assert.Equal(t, t0, second[0].Track.FirstSeen)
	assert.Equal(t, 2, second[0].Track.Sightings)

	assert.Equal(t, 1, tr.Len())
}

func TestObserve_SeparateBeyondRadius(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	a := mustObserve(t, tr, obs("police", true, 0, 0, 0))
	b := mustObserve(t, tr, obs("police", true, 80, 0, 1))

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, Created, a[0].Kind)
	assert.Equal(t, Created, b[0].Kind)
	assert.NotEqual(t, a[0].Track.ID, b[0].Track.ID)
	assert.Equal(t, 2, tr.Len())
}

func TestObserve_BoundaryIsInclusive(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("debris", true, 0, 0, 0))
	d := mustObserve(t, tr, obs("debris", true, 30, 40, 1)) // exactly 50 m
	assert.Equal(t, StillActive, d[0].Kind)
}

func TestObserve_TagsAreIndependent(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 0))
	d := mustObserve(t, tr, obs("ambulance", true, 5, 0, 1))
	assert.Equal(t, Created, d[0].Kind)
	assert.Equal(t, 2, tr.Len())
}

func TestObserve_NearestTrackWins(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 0))  // trk_001
	mustObserve(t, tr, obs("police", true, 60, 0, 1)) // trk_002
	d := mustObserve(t, tr, obs("police", true, 40, 0, 2))
	require.Len(t, d, 1)
	assert.Equal(t, "trk_002", d[0].Track.ID)
}

func TestObserve_ZDoesNotAffectClustering(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 0))
	o := obs("police", true, 10, 0, 1)
	o.Location.Z = 500
	d := mustObserve(t, tr, o)
	assert.Equal(t, StillActive, d[0].Kind)
}

func TestObserve_CloseLifecycle(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("accident", true, 0, 0, 0))

	// Vehicle still near: not-visible does not close.
	d := mustObserve(t, tr, obs("accident", false, 10, 0, 1))
	assert.Empty(t, d)
	assert.Equal(t, 1, tr.Len())

	// Vehicle drives away, clearing StillNear.
	tr.UpdateVehicleLocation(geo.Pt(120, 0, 0))
	got, ok := tr.Track("trk_001")
	require.True(t, ok)
	assert.False(t, got.StillNear)

	// Back within range and the actor is gone.
	d = mustObserve(t, tr, obs("accident", false, 20, 0, 3))
	require.Len(t, d, 1)
	assert.Equal(t, Closed, d[0].Kind)
	assert.Equal(t, "trk_001", d[0].Track.ID)
	assert.Equal(t, 0, tr.Len())

	_, ok = tr.Track("trk_001")
	assert.False(t, ok)
}

func TestObserve_StillNearIsPerTrack(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 0))   // trk_001
	mustObserve(t, tr, obs("police", true, 500, 0, 1)) // trk_002
	tr.UpdateVehicleLocation(geo.Pt(500, 0, 0))

	one, _ := tr.Track("trk_001")
	two, _ := tr.Track("trk_002")
	assert.False(t, one.StillNear)
	assert.True(t, two.StillNear)

	// Not-visible near trk_002 while the vehicle never left it: no-op.
	d := mustObserve(t, tr, obs("police", false, 500, 0, 2))
	assert.Empty(t, d)
	assert.Equal(t, 2, tr.Len())

	// Not-visible near trk_001 closes it; trk_002 stays live.
	d = mustObserve(t, tr, obs("police", false, 10, 0, 3))
	require.Len(t, d, 1)
	assert.Equal(t, "trk_001", d[0].Track.ID)
	_, ok := tr.Track("trk_002")
	assert.True(t, ok)
}

func TestObserve_SightingsDoNotMoveVehicle(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	tr.UpdateVehicleLocation(geo.Pt(0, 0, 0))
	mustObserve(t, tr, obs("police", true, 10, 0, 0))

	// A distant construction sighting is the actor's position, not ours.
	mustObserve(t, tr, obs("construction", true, 200, 0, 1))
	tr.UpdateVehicleLocation(geo.Pt(0, 0, 0))

	police, ok := tr.Track("trk_001")
	require.True(t, ok)
	assert.True(t, police.StillNear)

	d := mustObserve(t, tr, obs("police", false, 10, 0, 2))
	assert.Empty(t, d)
	_, ok = tr.Track("trk_001")
	assert.True(t, ok)

	// A far not-visible report does not move the vehicle either.
	mustObserve(t, tr, obs("debris", false, 900, 0, 3))
	d = mustObserve(t, tr, obs("police", false, 10, 0, 4))
	assert.Empty(t, d)
	assert.Equal(t, 2, tr.Len())
}

func TestObserve_NotVisibleClosesAllInRange(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("debris", true, 0, 0, 0))
	mustObserve(t, tr, obs("debris", true, 0, 60, 1))
	tr.UpdateVehicleLocation(geo.Pt(1000, 1000, 0))

	d := mustObserve(t, tr, obs("debris", false, 0, 30, 2))
	require.Len(t, d, 2)
	assert.Equal(t, "trk_001", d[0].Track.ID)
	assert.Equal(t, "trk_002", d[1].Track.ID)
	for _, delta := range d {
		assert.Equal(t, Closed, delta.Kind)
	}
}

func TestObserve_NotVisibleNoTracksIsNoop(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	d := mustObserve(t, tr, obs("police", false, 0, 0, 0))
	assert.Empty(t, d)
	assert.Equal(t, 0, tr.Len())
}

func TestObserve_Validation(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	_, err := tr.Observe(obs("  ", true, 0, 0, 0))
	assert.ErrorIs(t, err, ErrEmptyActorTag)

	_, err = tr.Observe(obs("police", true, math.NaN(), 0, 0))
	assert.ErrorIs(t, err, geo.ErrNonFinite)

	_, err = tr.Observe(obs("police", true, 0, math.Inf(1), 0))
	assert.ErrorIs(t, err, geo.ErrNonFinite)

	assert.Equal(t, 0, tr.Len())
}

func TestObserve_OutOfOrder(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 10))
	_, err := tr.Observe(obs("police", true, 5, 0, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	got, _ := tr.Track("trk_001")
	assert.Equal(t, geo.Pt(0, 0, 0), got.LastLocation)
	assert.Equal(t, 1, got.Sightings)

	// Equal timestamps are fine.
	d := mustObserve(t, tr, obs("police", true, 5, 0, 10))
	assert.Equal(t, StillActive, d[0].Kind)
}

func TestTracks_OrderAndCopies(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()

	mustObserve(t, tr, obs("police", true, 0, 0, 2))
	mustObserve(t, tr, obs("accident", true, 300, 0, 1))
	mustObserve(t, tr, obs("debris", true, 600, 0, 1))

	tracks := tr.Tracks()
	require.Len(t, tracks, 3)
	assert.Equal(t, []string{"trk_002", "trk_003", "trk_001"},
		[]string{tracks[0].ID, tracks[1].ID, tracks[2].ID})

	tracks[0].ActorTag = "mutated"
	again, _ := tr.Track("trk_002")
	assert.Equal(t, "accident", again.ActorTag)
}

func TestWithClusterRadius(t *testing.T) {
	t.Parallel()
	tr := New(WithIDSource(&ident.Sequence{}), WithClusterRadius(100))
	assert.Equal(t, 100.0, tr.ClusterRadius())

	mustObserve(t, tr, obs("police", true, 0, 0, 0))
	d := mustObserve(t, tr, obs("police", true, 80, 0, 1))
	assert.Equal(t, StillActive, d[0].Kind)

	// Non-positive values keep the default.
	assert.Equal(t, DefaultClusterRadiusM, New(WithClusterRadius(0)).ClusterRadius())
}

func TestNew_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()
	tr := New()

	a := mustObserve(t, tr, obs("police", true, 0, 0, 0))
	b := mustObserve(t, tr, obs("police", true, 500, 0, 1))
	assert.NotEqual(t, a[0].Track.ID, b[0].Track.ID)
	assert.Contains(t, a[0].Track.ID, "trk_")
}
