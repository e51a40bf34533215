// Package tracker deduplicates repeated actor detections into hazard tracks.
//
// A track is one spatially distinct instance of an actor tag: sightings of
// the same tag within the cluster radius of an existing track update it,
// sightings further away start a new one. A track is closed when the actor
// is reported not visible from within the radius after the vehicle has
// left the track's neighbourhood at least once.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/ident"
	"github.com/banshee-data/faslit/internal/monitoring"
)

// DefaultClusterRadiusM is the distance within which sightings of one tag
// are treated as the same hazard.
const DefaultClusterRadiusM = 50.0

var (
	// ErrEmptyActorTag rejects observations without a tag.
	ErrEmptyActorTag = errors.New("empty actor tag")
	// ErrOutOfOrder rejects an observation older than the track it matches.
	ErrOutOfOrder = errors.New("observation older than track")
)

var logf = monitoring.Prefixed("tracker")

// Observation is one perception sample.
type Observation struct {
	ActorTag  string    `json:"actor_tag"`
	Visible   bool      `json:"is_visible"`
	Location  geo.Point `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the observation at the ingress boundary.
func (o Observation) Validate() error {
	if strings.TrimSpace(o.ActorTag) == "" {
		return ErrEmptyActorTag
	}
	return o.Location.Validate()
}

// Track is a deduplicated, ongoing hazard sighting.
type Track struct {
	ID           string    `json:"track_id"`
	ActorTag     string    `json:"actor_tag"`
	LastLocation geo.Point `json:"last_location"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	// StillNear is true until the vehicle is first seen beyond the cluster
	// radius of this track. Tracks cannot close while it is set.
	StillNear bool `json:"still_near"`
	Sightings int  `json:"sightings"`
}

// DeltaKind describes what an observation did to a track.
type DeltaKind string

const (
	Created     DeltaKind = "created"
	StillActive DeltaKind = "still_active"
	Closed      DeltaKind = "closed"
)

// Delta reports one track change. Track is a copy.
type Delta struct {
	Kind  DeltaKind `json:"kind"`
	Track Track     `json:"track"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClusterRadius overrides DefaultClusterRadiusM.
func WithClusterRadius(m float64) Option {
	return func(t *Tracker) {
		if m > 0 {
			t.radius = m
		}
	}
}

// WithIDSource injects the id generator (tests use ident.Sequence).
func WithIDSource(s ident.Source) Option {
	return func(t *Tracker) { t.ids = ident.OrUUID(s) }
}

// Tracker owns the live track set. It is not safe for concurrent use; the
// navigator loop is its only caller.
type Tracker struct {
	radius float64
	ids    ident.Source
	tracks map[string]*Track
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		radius: DefaultClusterRadiusM,
		ids:    ident.UUIDSource{},
		tracks: make(map[string]*Track),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClusterRadius returns the dedup radius in metres.
func (t *Tracker) ClusterRadius() float64 {
	return t.radius
}

// Observe applies one observation. Visible observations yield exactly one
// Created or StillActive delta. Not-visible observations yield one Closed
// delta per track they close, possibly none.
//
// The observation's location is the actor's, not the vehicle's: only
// UpdateVehicleLocation clears StillNear.
func (t *Tracker) Observe(obs Observation) ([]Delta, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	if !obs.Visible {
		return t.closeNear(obs), nil
	}

	if nearest := t.nearest(obs.ActorTag, obs.Location); nearest != nil {
		if obs.Timestamp.Before(nearest.LastSeen) {
			return nil, fmt.Errorf("%w: %s at %s, last seen %s", ErrOutOfOrder,
				nearest.ID, obs.Timestamp.Format(time.RFC3339Nano), nearest.LastSeen.Format(time.RFC3339Nano))
		}
		nearest.LastLocation = obs.Location
		nearest.LastSeen = obs.Timestamp
		nearest.Sightings++
		return []Delta{{Kind: StillActive, Track: *nearest}}, nil
	}

	tr := &Track{
		ID:           t.ids.NewID("trk"),
		ActorTag:     obs.ActorTag,
		LastLocation: obs.Location,
		FirstSeen:    obs.Timestamp,
		LastSeen:     obs.Timestamp,
		StillNear:    true,
		Sightings:    1,
	}
	t.tracks[tr.ID] = tr
	logf("created %s for %q at %v", tr.ID, tr.ActorTag, tr.LastLocation)
	return []Delta{{Kind: Created, Track: *tr}}, nil
}

// UpdateVehicleLocation clears StillNear on every track further than the
// cluster radius from p. Non-finite positions are ignored.
func (t *Tracker) UpdateVehicleLocation(p geo.Point) {
	if p.Validate() != nil {
		return
	}
	for _, tr := range t.tracks {
		if tr.StillNear && !geo.Within(tr.LastLocation, p, t.radius) {
			tr.StillNear = false
		}
	}
}

// nearest returns the closest same-tag track within the cluster radius.
// Ties go to the earliest created track so results do not depend on map
// iteration order.
func (t *Tracker) nearest(tag string, p geo.Point) *Track {
	var best *Track
	bestDist := 0.0
	for _, tr := range t.tracks {
		if tr.ActorTag != tag {
			continue
		}
		d := geo.PlanarDistance(tr.LastLocation, p)
		if d > t.radius {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && less(tr, best)) {
			best, bestDist = tr, d
		}
	}
	return best
}

func (t *Tracker) closeNear(obs Observation) []Delta {
	var closed []*Track
	for _, tr := range t.tracks {
		if tr.ActorTag != obs.ActorTag || tr.StillNear {
			continue
		}
		if geo.Within(tr.LastLocation, obs.Location, t.radius) {
			closed = append(closed, tr)
		}
	}
	if len(closed) == 0 {
		return nil
	}

	sortTracks(closed)
	deltas := make([]Delta, 0, len(closed))
	for _, tr := range closed {
		delete(t.tracks, tr.ID)
		logf("closed %s for %q after %d sightings", tr.ID, tr.ActorTag, tr.Sightings)
		deltas = append(deltas, Delta{Kind: Closed, Track: *tr})
	}
	return deltas
}

// Track returns a copy of the track with the given id.
func (t *Tracker) Track(id string) (Track, bool) {
	tr, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Tracks returns copies of all live tracks ordered by FirstSeen then id.
func (t *Tracker) Tracks() []Track {
	ptrs := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		ptrs = append(ptrs, tr)
	}
	sortTracks(ptrs)
	out := make([]Track, len(ptrs))
	for i, tr := range ptrs {
		out[i] = *tr
	}
	return out
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

func less(a, b *Track) bool {
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return a.ID < b.ID
}

func sortTracks(ts []*Track) {
	sort.Slice(ts, func(i, j int) bool { return less(ts[i], ts[j]) })
}
