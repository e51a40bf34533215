package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/faslit/internal/decision"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/navigator"
	"github.com/banshee-data/faslit/internal/timeutil"
	"github.com/banshee-data/faslit/internal/v2v"
)

var logf = monitoring.Prefixed("api")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Pipeline is the part of the navigator the handlers drive.
type Pipeline interface {
	Do(ctx context.Context, ev navigator.Event) error
	Snapshot(ctx context.Context) (navigator.State, error)
	History(ctx context.Context) ([]decision.Decision, error)
	TrackingQRCode(ctx context.Context, size int) ([]byte, error)
}

// DecisionStore serves journaled decisions.
type DecisionStore interface {
	RecentDecisions(limit int) ([]decision.Decision, error)
}

// Server exposes the navigator over HTTP.
type Server struct {
	nav          Pipeline
	journal      DecisionStore
	stream       http.Handler
	clock        timeutil.Clock
	sharedRadius float64
	timeout      time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithJournal lets /api/decisions?source=journal read from the journal.
func WithJournal(j DecisionStore) Option {
	return func(s *Server) { s.journal = j }
}

// WithDisplayStream mounts h at /api/display/stream.
func WithDisplayStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithClock stamps observations that arrive without a timestamp.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithSharedRadius sets the radius given to shared hazards that omit one.
func WithSharedRadius(m float64) Option {
	return func(s *Server) { s.sharedRadius = m }
}

func NewServer(nav Pipeline, opts ...Option) *Server {
	s := &Server{
		nav:          nav,
		clock:        timeutil.RealClock{},
		sharedRadius: v2v.DefaultSharedRadiusM,
		timeout:      5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.clock = timeutil.OrReal(s.clock)
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/observations", s.postObservation)
	mux.HandleFunc("/api/telemetry", s.postTelemetry)
	mux.HandleFunc("/api/destination", s.postDestination)
	mux.HandleFunc("/api/hazards/shared", s.postSharedHazard)
	mux.HandleFunc("/api/actions", s.postAction)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/decisions", s.listDecisions)
	mux.HandleFunc("/api/session/qr", s.sessionQRCode)
	if s.stream != nil {
		mux.Handle("/api/display/stream", s.stream)
	}
	return mux
}

// requestContext bounds how long a handler waits on the loop.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}
