// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatrelay"

// Recorder - relay collectors. The nil *Recorder is valid and records nothing.
type Recorder struct {
	connections    prometheus.Gauge
	users          prometheus.Gauge
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	evictions      prometheus.Counter
	disconnects    *prometheus.CounterVec
}

// New - builds Recorder and registers its collectors on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open client connections, registered or not.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_users",
			Help:      "Number of identities in the registry.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Count of decoded frames received from registered clients.",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Count of frames written to client connections.",
		}, []string{"type"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Count of registry entries removed after a failed write.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Count of closed client connections by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{
		r.connections, r.users, r.framesReceived, r.framesSent, r.evictions, r.disconnects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ConnectionOpened - records accepted connection.
func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connections.Inc()
}

// ConnectionClosed - records closed connection and the reason it was closed for.
func (r *Recorder) ConnectionClosed(reason string) {
	if r == nil {
		return
	}
	r.connections.Dec()
	r.disconnects.WithLabelValues(reason).Inc()
}

// SetUsers - records current registry size.
func (r *Recorder) SetUsers(n int) {
	if r == nil {
		return
	}
	r.users.Set(float64(n))
}

// FrameReceived - records one inbound frame of type t.
func (r *Recorder) FrameReceived(t string) {
	if r == nil {
		return
	}
	r.framesReceived.WithLabelValues(t).Inc()
}

// FramesSent - records n outbound frames of type t.
func (r *Recorder) FramesSent(t string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.framesSent.WithLabelValues(t).Add(float64(n))
}

// Evicted - records n lazily evicted registry entries.
func (r *Recorder) Evicted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evictions.Add(float64(n))
}
