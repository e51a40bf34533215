package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/faslit/internal/contracts"
	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/handoff"
	"github.com/banshee-data/faslit/internal/httputil"
	"github.com/banshee-data/faslit/internal/navigator"
	"github.com/banshee-data/faslit/internal/route"
	"github.com/banshee-data/faslit/internal/tracker"
	"github.com/banshee-data/faslit/internal/v2v"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 1000
	defaultQRSize        = 256
	minQRSize            = 64
	maxQRSize            = 1024
)

type observationRequest struct {
	ActorTag  string     `json:"actor_tag"`
	IsVisible *bool      `json:"is_visible"`
	Location  []float64  `json:"location"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type telemetryRequest struct {
	Location     []float64 `json:"location"`
	SpeedKmph    float64   `json:"speed_kmh"`
	HasPassenger *bool     `json:"has_passenger,omitempty"`
}

type destinationRequest struct {
	Start       []float64 `json:"start,omitempty"`
	Destination []float64 `json:"destination"`
}

type actionRequest struct {
	Action string `json:"action"`
	Data   struct {
		TransportMode  string `json:"transport_mode"`
		AutonomousMode string `json:"autonomous_mode"`
		Status         string `json:"status"`
	} `json:"data"`
}

type decisionsResponse struct {
	Source    string              `json:"source"`
	Decisions []decision.Decision `json:"decisions"`
}

// writeError maps pipeline errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var rej *handoff.RejectionError
	switch {
	case errors.As(err, &rej), errors.Is(err, handoff.ErrNoDestination):
		httputil.UnprocessableEntity(w, err.Error())
	case errors.Is(err, tracker.ErrOutOfOrder),
		errors.Is(err, handoff.ErrSessionActive),
		errors.Is(err, handoff.ErrNoSession):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, tracker.ErrEmptyActorTag),
		errors.Is(err, geo.ErrNonFinite),
		errors.Is(err, route.ErrInvalidRadius),
		errors.Is(err, handoff.ErrInvalidStatus),
		errors.Is(err, navigator.ErrUnknownAction),
		errors.Is(err, navigator.ErrUnknownMode):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, navigator.ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		logf("request failed: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}

// submit runs ev on the loop and replies 202 once it has been handled.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, ev navigator.Event) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.nav.Do(ctx, ev); err != nil {
		writeError(w, err)
		return
	}
	httputil.Accepted(w)
}

func (s *Server) postObservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req observationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	loc, err := geo.FromSlice(req.Location)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	obs := tracker.Observation{
		ActorTag:  req.ActorTag,
		Visible:   req.IsVisible == nil || *req.IsVisible,
		Location:  loc,
		Timestamp: s.clock.Now(),
	}
	if req.Timestamp != nil {
		obs.Timestamp = *req.Timestamp
	}
	if err := obs.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.submit(w, r, navigator.ObservationEvent{Observation: obs})
}

func (s *Server) postTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req telemetryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	loc, err := geo.FromSlice(req.Location)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.SpeedKmph < 0 {
		httputil.BadRequest(w, "speed_kmh must not be negative")
		return
	}
	s.submit(w, r, navigator.TelemetryEvent{
		Location:     loc,
		SpeedKmph:    req.SpeedKmph,
		HasPassenger: req.HasPassenger,
	})
}

func (s *Server) postDestination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req destinationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	dest, err := geo.FromSlice(req.Destination)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ev := navigator.DestinationEvent{Destination: dest}
	if req.Start != nil {
		start, err := geo.FromSlice(req.Start)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		ev.Start = &start
	}
	s.submit(w, r, ev)
}

func (s *Server) postSharedHazard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req contracts.SharedHazard
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	zone, err := v2v.ZoneFromShared(req, s.sharedRadius)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.submit(w, r, navigator.SharedHazardEvent{VehicleID: req.VehicleID, Zone: zone})
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req actionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Action == "" {
		httputil.BadRequest(w, "missing action")
		return
	}
	s.submit(w, r, navigator.UserActionEvent{
		Action:         req.Action,
		TransportMode:  req.Data.TransportMode,
		AutonomousMode: req.Data.AutonomousMode,
		Status:         req.Data.Status,
	})
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	st, err := s.nav.Snapshot(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

// listDecisions serves the in-memory history, oldest first, or with
// source=journal the persisted decisions, newest first.
func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := defaultDecisionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	switch src := r.URL.Query().Get("source"); src {
	case "journal":
		if s.journal == nil {
			httputil.NotFound(w, "decision journal not configured")
			return
		}
		ds, err := s.journal.RecentDecisions(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, decisionsResponse{Source: src, Decisions: ds})
	case "", "memory":
		ctx, cancel := s.requestContext(r)
		defer cancel()
		ds, err := s.nav.History(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(ds) > limit {
			ds = ds[len(ds)-limit:]
		}
		if ds == nil {
			ds = []decision.Decision{}
		}
		httputil.WriteJSONOK(w, decisionsResponse{Source: "memory", Decisions: ds})
	default:
		httputil.BadRequest(w, "source must be memory or journal")
	}
}

func (s *Server) sessionQRCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minQRSize || n > maxQRSize {
			httputil.BadRequest(w, "size must be between 64 and 1024")
			return
		}
		size = n
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	png, err := s.nav.TrackingQRCode(ctx, size)
	if errors.Is(err, handoff.ErrNoSession) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

// AttachAdminRoutes mounts an SVG of the current corridor under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("corridor.svg", "route corridor and hazard zones", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		st, err := s.nav.Snapshot(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		buf := bytes.NewBuffer(nil)
		if err := route.PlotCorridor(buf, st.Corridor, st.Hazards); err != nil {
			http.Error(w, "Failed to plot corridor", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		buf.WriteTo(w)
	})
}
