package router

import (
	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the router's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	TransportEvents   *prometheus.CounterVec
	Delivered         *prometheus.CounterVec
	Dropped           prometheus.Counter
	Writes            *prometheus.CounterVec
	SubscribeFailures *prometheus.CounterVec
	OpenPorts         *prometheus.GaugeVec
	BoundPorts        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransportEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "midiroute",
				Subsystem: "transport",
				Name:      "events_total",
				Help:      "Transport events read by the dispatch loop",
			},
			[]string{"type"},
		),
		Delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "delivered_total",
				Help:      "Events handed to processors, per input port",
			},
			[]string{"port"},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "dropped_total",
				Help:      "Events from sources not bound to any input port",
			},
		),
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "writes_total",
				Help:      "Output writes by status (ok, unavailable, error)",
			},
			[]string{"status"},
		),
		SubscribeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "subscribe_failures_total",
				Help:      "Failed transport subscriptions",
			},
			[]string{"direction"},
		),
		OpenPorts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "open_ports",
				Help:      "Live logical ports",
			},
			[]string{"direction"},
		),
		BoundPorts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "midiroute",
				Subsystem: "router",
				Name:      "bound_ports",
				Help:      "Logical ports currently bound to a device",
			},
			[]string{"direction"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TransportEvents,
			m.Delivered,
			m.Dropped,
			m.Writes,
			m.SubscribeFailures,
			m.OpenPorts,
			m.BoundPorts,
		)
	}
	return m
}

func (m *Metrics) event(t driver.EventType) {
	if m == nil {
		return
	}
	m.TransportEvents.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) delivered(port string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(port).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) write(status string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(status).Inc()
}

func (m *Metrics) subscribeFailed(dir direction) {
	if m == nil {
		return
	}
	m.SubscribeFailures.WithLabelValues(dir.String()).Inc()
}

func (m *Metrics) ports(reg *registry) {
	if m == nil {
		return
	}
	for _, d := range directions {
		var bound int
		for _, h := range reg.handles[d] {
			if h.addr != nil {
				bound++
			}
		}
		m.OpenPorts.WithLabelValues(d.String()).Set(float64(len(reg.handles[d])))
		m.BoundPorts.WithLabelValues(d.String()).Set(float64(bound))
	}
}
