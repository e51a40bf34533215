package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/handoff"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/tracker"
)

// TrackEvent is one journaled track delta.
type TrackEvent struct {
	EventID   int64             `json:"event_id"`
	TrackID   string            `json:"track_id"`
	Kind      tracker.DeltaKind `json:"kind"`
	ActorTag  string            `json:"actor_tag"`
	Location  geo.Point         `json:"location"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Sightings int               `json:"sightings"`
}

// RecordTrackDelta journals a tracker delta.
func (db *DB) RecordTrackDelta(d tracker.Delta) error {
	tr := d.Track
	_, err := db.Exec(`
		INSERT INTO track_events (
			track_id, kind, actor_tag, x, y, z,
			first_seen_unix_nanos, last_seen_unix_nanos, sightings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, string(d.Kind), tr.ActorTag,
		tr.LastLocation.X, tr.LastLocation.Y, tr.LastLocation.Z,
		tr.FirstSeen.UnixNano(), tr.LastSeen.UnixNano(), tr.Sightings,
	)
	if err != nil {
		return fmt.Errorf("failed to record track event %s: %w", tr.ID, err)
	}
	return nil
}

// TrackEvents returns up to limit events, newest first. A non-positive
// limit returns all of them.
func (db *DB) TrackEvents(limit int) ([]TrackEvent, error) {
	rows, err := db.Query(`
		SELECT event_id, track_id, kind, actor_tag, x, y, z,
			first_seen_unix_nanos, last_seen_unix_nanos, sightings
		FROM track_events
		ORDER BY event_id DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackEvent
	for rows.Next() {
		var (
			ev          TrackEvent
			kind        string
			first, last int64
		)
		if err := rows.Scan(&ev.EventID, &ev.TrackID, &kind, &ev.ActorTag,
			&ev.Location.X, &ev.Location.Y, &ev.Location.Z,
			&first, &last, &ev.Sightings); err != nil {
			return nil, err
		}
		ev.Kind = tracker.DeltaKind(kind)
		ev.FirstSeen = time.Unix(0, first).UTC()
		ev.LastSeen = time.Unix(0, last).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordDecision journals a navigation decision.
func (db *DB) RecordDecision(d decision.Decision) error {
	var sev sql.NullString
	if d.Severity.Valid() {
		sev = sql.NullString{String: d.Severity.String(), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO decisions (
			action, vehicle_state, reasoning, reroute_available,
			time_saved_minutes, confidence, hazard_type, severity, decided_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.Action), string(d.VehicleState), d.Reasoning, d.RerouteAvailable,
		d.TimeSavedMinutes, d.Confidence, string(d.HazardType), sev, d.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (db *DB) RecentDecisions(limit int) ([]decision.Decision, error) {
	rows, err := db.Query(`
		SELECT action, vehicle_state, reasoning, reroute_available,
			time_saved_minutes, confidence, hazard_type, severity, decided_unix_nanos
		FROM decisions
		ORDER BY decision_id DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decision.Decision
	for rows.Next() {
		var (
			d             decision.Decision
			action, state string
			hazardType    sql.NullString
			sev           sql.NullString
			decidedNanos  int64
		)
		if err := rows.Scan(&action, &state, &d.Reasoning, &d.RerouteAvailable,
			&d.TimeSavedMinutes, &d.Confidence, &hazardType, &sev, &decidedNanos); err != nil {
			return nil, err
		}
		d.Action = decision.Action(action)
		d.VehicleState = decision.VehicleState(state)
		d.HazardType = hazard.Type(hazardType.String)
		if sev.Valid {
			if s, ok := hazard.ParseSeverity(sev.String); ok {
				d.Severity = s
			}
		}
		d.At = time.Unix(0, decidedNanos).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordSession inserts or updates an autonomous session.
func (db *DB) RecordSession(s handoff.Session) error {
	_, err := db.Exec(`
		INSERT INTO autonomous_sessions (
			session_id, vehicle_id, mode, status, transport_mode,
			start_x, start_y, target_x, target_y,
			start_unix_nanos, eta_unix_nanos, end_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			eta_unix_nanos = excluded.eta_unix_nanos,
			end_unix_nanos = excluded.end_unix_nanos`,
		s.ID, s.VehicleID, string(s.Mode), string(s.Status), s.PassengerTransportMode,
		s.StartLocation.X, s.StartLocation.Y, s.TargetLocation.X, s.TargetLocation.Y,
		s.StartTime.UnixNano(), nullNanos(s.EstimatedArrival), nullNanos(s.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// Session loads a journaled session by ID.
func (db *DB) Session(id string) (*handoff.Session, error) {
	var (
		s            handoff.Session
		mode, status string
		transport    sql.NullString
		start        int64
		eta, end     sql.NullInt64
	)
	err := db.QueryRow(`
		SELECT session_id, vehicle_id, mode, status, transport_mode,
			start_x, start_y, target_x, target_y,
			start_unix_nanos, eta_unix_nanos, end_unix_nanos
		FROM autonomous_sessions
		WHERE session_id = ?`, id).Scan(
		&s.ID, &s.VehicleID, &mode, &status, &transport,
		&s.StartLocation.X, &s.StartLocation.Y, &s.TargetLocation.X, &s.TargetLocation.Y,
		&start, &eta, &end,
	)
	if err != nil {
		return nil, err
	}
	s.Mode = handoff.Mode(mode)
	s.Status = handoff.Status(status)
	s.PassengerTransportMode = transport.String
	s.StartTime = time.Unix(0, start).UTC()
	if eta.Valid {
		s.EstimatedArrival = time.Unix(0, eta.Int64).UTC()
	}
	if end.Valid {
		s.EndTime = time.Unix(0, end.Int64).UTC()
	}
	return &s, nil
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// sqlLimit maps non-positive limits to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
