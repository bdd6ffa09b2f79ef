package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonorpan/iot-fe/internal/socket"
)

// Namespace prefixes every metric name.
const Namespace = "sensorlink"

var phases = []socket.Phase{
	socket.PhaseConnecting,
	socket.PhaseOpen,
	socket.PhaseClosing,
	socket.PhaseClosed,
}

// Collector owns the sensorlink metrics and the registry they live on.
//
// It implements socket.Metrics so the connection manager can report
// directly into it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	phase            *prometheus.GaugeVec
	reconnects       prometheus.Counter
	framesReceived   prometheus.Counter
	framesDropped    prometheus.Counter
	commandsSent     prometheus.Counter
	commandsDropped  prometheus.Counter
	upserts          *prometheus.CounterVec
	sensorsKnown     prometheus.Gauge
	sensorsConnected prometheus.Gauge
	mirrorFailures   prometheus.Counter
}

// New creates a Collector on a fresh registry. Go runtime and process
// collectors are registered alongside.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "phase",
			Help:      "1 for the current connection phase of the sensor feed, 0 otherwise.",
		}, []string{"phase"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled after an unintentional close.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded and delivered.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they failed to decode or validate.",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "commands_sent_total",
			Help:      "Commands written to the open connection.",
		}),
		commandsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "socket",
			Name:      "commands_dropped_total",
			Help:      "Commands discarded because the connection was not open.",
		}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "upserts_total",
			Help:      "Sensor records offered to the store, by whether they changed state.",
		}, []string{"result"}),
		sensorsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "sensors",
			Help:      "Sensors currently held in the store.",
		}),
		sensorsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "sensors_connected",
			Help:      "Sensors in the store whose connected flag is true.",
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "mirror_failures_total",
			Help:      "Sensor state publishes to the MQTT broker that failed or were shed by the breaker.",
		}),
	}

	c.registry.MustRegister(
		c.phase,
		c.reconnects,
		c.framesReceived,
		c.framesDropped,
		c.commandsSent,
		c.commandsDropped,
		c.upserts,
		c.sensorsKnown,
		c.sensorsConnected,
		c.mirrorFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.PhaseChanged(socket.PhaseClosed)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// PhaseChanged sets the phase gauge so exactly one phase reads 1.
func (c *Collector) PhaseChanged(current socket.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		c.phase.WithLabelValues(string(p)).Set(v)
	}
}

func (c *Collector) Reconnecting()   { c.reconnects.Inc() }
func (c *Collector) FrameReceived()  { c.framesReceived.Inc() }
func (c *Collector) FrameDropped()   { c.framesDropped.Inc() }
func (c *Collector) CommandSent()    { c.commandsSent.Inc() }
func (c *Collector) CommandDropped() { c.commandsDropped.Inc() }

// UpsertApplied counts an offered record, labelled "applied" or "unchanged".
func (c *Collector) UpsertApplied(changed bool) {
	result := "unchanged"
	if changed {
		result = "applied"
	}
	c.upserts.WithLabelValues(result).Inc()
}

// ObserveStore records the store's current size and connected count.
func (c *Collector) ObserveStore(total, connected int) {
	c.sensorsKnown.Set(float64(total))
	c.sensorsConnected.Set(float64(connected))
}

// MirrorFailed counts a failed MQTT mirror publish.
func (c *Collector) MirrorFailed() { c.mirrorFailures.Inc() }

var _ socket.Metrics = (*Collector)(nil)
