// Package metrics exposes Prometheus collectors for the room hub and the
// room registry.
//
// All methods are safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes used for the status label.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusUnknown = "unknown"
)

// UnknownEvent is the event label shared by every event name the hub does
// not handle.
const UnknownEvent = "unknown"

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "easel").
	Namespace string

	// Buckets are the histogram buckets for event handling duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is where collectors are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Metrics struct {
	eventsTotal       *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	deliveriesTotal   *prometheus.CounterVec
	droppedClients    prometheus.Counter
	rateLimited       prometheus.Counter
	activeConnections prometheus.Gauge
	residentRooms     prometheus.Gauge
	roomsCreated      *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
}

func New(config Config) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "easel"
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "events_total",
			Help:      "Client events processed, by event name and status",
		}, []string{"event", "status"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling a client event",
			Buckets:   config.Buckets,
		}, []string{"event"}),

		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "deliveries_total",
			Help:      "Server events enqueued to connections, by event name",
		}, []string{"event"}),

		droppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "dropped_clients_total",
			Help:      "Connections dropped because their send buffer was full",
		}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "rate_limited_frames_total",
			Help:      "Frames discarded by the per-connection rate limiter",
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_connections",
			Help:      "Open websocket connections",
		}),

		residentRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "resident_rooms",
			Help:      "Rooms held in memory by the registry",
		}),

		roomsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms brought into memory, by origin (new or archive)",
		}, []string{"origin"}),

		evictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "room_evictions_total",
			Help:      "Rooms evicted from memory, by reason",
		}, []string{"reason"}),
	}
}

// ObserveEvent records one handled client event. Events with StatusUnknown
// are counted under UnknownEvent whatever name the client sent.
func (m *Metrics) ObserveEvent(event, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if status == StatusUnknown {
		event = UnknownEvent
	}
	m.eventsTotal.WithLabelValues(event, status).Inc()
	if status == StatusOK {
		m.eventDuration.WithLabelValues(event).Observe(elapsed.Seconds())
	}
}

// Delivered records n enqueued copies of a server event.
func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveriesTotal.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) ClientDropped() {
	if m == nil {
		return
	}
	m.droppedClients.Inc()
}

func (m *Metrics) FrameRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RoomCreated implements room.Observer.
func (m *Metrics) RoomCreated(restored bool) {
	if m == nil {
		return
	}
	origin := "new"
	if restored {
		origin = "archive"
	}
	m.roomsCreated.WithLabelValues(origin).Inc()
}

// RoomEvicted implements room.Observer.
func (m *Metrics) RoomEvicted(reason string) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(reason).Inc()
}

// ResidentRooms implements room.Observer.
func (m *Metrics) ResidentRooms(n int) {
	if m == nil {
		return
	}
	m.residentRooms.Set(float64(n))
}
