package v2v

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/faslit/internal/contracts"
	"github.com/banshee-data/faslit/internal/geo"
	"github.com/banshee-data/faslit/internal/hazard"
	"github.com/banshee-data/faslit/internal/monitoring"
	"github.com/banshee-data/faslit/internal/route"
)

var logf = monitoring.Prefixed("v2v")

// DefaultSharedRadiusM is used for shared hazards that carry no radius.
const DefaultSharedRadiusM = 150.0

// outbound is one queued broadcast.
type outbound struct {
	writer  MessageWriter
	topic   string
	key     string
	payload any
}

// Broadcaster queues V2V messages and writes them from its own goroutine so
// the decision loop never waits on the network. When the queue is full the
// message is dropped and logged.
type Broadcaster struct {
	vehicleID string
	hazards   MessageWriter
	exits     MessageWriter
	queue     chan outbound
	dropped   atomic.Int64
	sent      atomic.Int64
}

// NewBroadcaster creates a Broadcaster. Either writer may be nil to disable
// that topic.
func NewBroadcaster(vehicleID string, hazards, exits MessageWriter, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broadcaster{
		vehicleID: vehicleID,
		hazards:   hazards,
		exits:     exits,
		queue:     make(chan outbound, queueSize),
	}
}

func (b *Broadcaster) enqueue(o outbound) {
	if o.writer == nil {
		return
	}
	select {
	case b.queue <- o:
	default:
		b.dropped.Add(1)
		logf("queue full, dropped %s message %s", o.topic, o.key)
	}
}

// BroadcastHazard queues a hazard for other vehicles.
func (b *Broadcaster) BroadcastHazard(h contracts.SharedHazard) {
	if h.VehicleID == "" {
		h.VehicleID = b.vehicleID
	}
	b.enqueue(outbound{writer: b.hazards, topic: "hazards", key: h.EventID, payload: h})
}

// BroadcastExit queues a passenger-exit report.
func (b *Broadcaster) BroadcastExit(e contracts.PassengerExit) {
	if e.VehicleID == "" {
		e.VehicleID = b.vehicleID
	}
	b.enqueue(outbound{writer: b.exits, topic: "exits", key: e.SessionID, payload: e})
}

// Stats returns sent and dropped message counts.
func (b *Broadcaster) Stats() (sent, dropped int64) {
	return b.sent.Load(), b.dropped.Load()
}

// Run writes queued messages until ctx is done. Write errors are logged and
// the message is discarded.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-b.queue:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := PublishJSON(wctx, o.writer, o.key, o.payload)
			cancel()
			if err != nil {
				var temporary kafka.Error
				if errors.As(err, &temporary) && temporary.Temporary() {
					logf("%s publish temporary error: %v", o.topic, temporary)
				} else {
					logf("%s publish error: %v", o.topic, err)
				}
				continue
			}
			b.sent.Add(1)
		}
	}
}

// Listener consumes the shared hazard topic.
type Listener struct {
	vehicleID     string
	reader        MessageReader
	defaultRadius float64
	retryDelay    time.Duration
}

// NewListener creates a Listener that ignores messages from vehicleID.
func NewListener(vehicleID string, reader MessageReader, defaultRadius float64) *Listener {
	if defaultRadius <= 0 {
		defaultRadius = DefaultSharedRadiusM
	}
	return &Listener{
		vehicleID:     vehicleID,
		reader:        reader,
		defaultRadius: defaultRadius,
		retryDelay:    500 * time.Millisecond,
	}
}

// Run reads hazards until ctx is cancelled, handing each foreign hazard to
// handle. Undecodable messages are logged and skipped.
func (l *Listener) Run(ctx context.Context, handle func(context.Context, SharedZone) error) error {
	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logf("read error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.retryDelay):
			}
			continue
		}

		shared, err := ParseMessageJSON[contracts.SharedHazard](msg)
		if err != nil {
			logf("decode shared hazard error: %v", err)
			continue
		}
		if shared.VehicleID == l.vehicleID {
			continue
		}
		zone, err := ZoneFromShared(shared, l.defaultRadius)
		if err != nil {
			logf("invalid shared hazard %s from %s: %v", shared.EventID, shared.VehicleID, err)
			continue
		}
		if err := handle(ctx, SharedZone{VehicleID: shared.VehicleID, Zone: zone}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logf("handle shared hazard %s: %v", shared.EventID, err)
		}
	}
}

// SharedZone is a hazard zone received from another vehicle.
type SharedZone struct {
	VehicleID string
	Zone      route.HazardZone
}

// ZoneFromShared converts a broadcast into a hazard zone. Unknown severity
// or type text becomes low / unknown; a missing radius becomes
// defaultRadius.
func ZoneFromShared(h contracts.SharedHazard, defaultRadius float64) (route.HazardZone, error) {
	center, err := geo.FromSlice(h.Center)
	if err != nil {
		return route.HazardZone{}, err
	}
	radius := h.RadiusMeters
	if radius == 0 {
		radius = defaultRadius
	}
	sev, _ := hazard.ParseSeverity(h.Severity)
	typ, _ := hazard.ParseType(h.HazardType)

	id := h.EventID
	if id == "" {
		id = fmt.Sprintf("%s@%.0f,%.0f", h.VehicleID, center.X, center.Y)
	}
	z := route.HazardZone{
		ID:           "v2v_" + id,
		Center:       center,
		RadiusMeters: radius,
		Severity:     sev,
		Type:         typ,
		Source:       route.SourceV2V,
		ReportedAt:   h.ReportedAt,
		ExpiresAt:    h.ExpiresAt,
	}
	if err := z.Validate(); err != nil {
		return route.HazardZone{}, err
	}
	return z, nil
}

// SharedFromZone builds the broadcast for one of this vehicle's zones.
func SharedFromZone(vehicleID, actorTag string, z route.HazardZone) contracts.SharedHazard {
	return contracts.SharedHazard{
		EventID:      z.ID,
		VehicleID:    vehicleID,
		Center:       z.Center.Slice(),
		RadiusMeters: z.RadiusMeters,
		Severity:     z.Severity.String(),
		HazardType:   string(z.Type),
		ActorTag:     actorTag,
		ReportedAt:   z.ReportedAt,
		ExpiresAt:    z.ExpiresAt,
	}
}
