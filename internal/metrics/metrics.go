// Package metrics exposes Prometheus metrics for the gateway
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eneverre"

// Metrics collects relay, control and auth outcomes. It satisfies the
// observer interfaces of the relay, control and auth packages.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests *prometheus.CounterVec
	relayDuration *prometheus.HistogramVec
	controlCalls  *prometheus.CounterVec
	controlTime   *prometheus.HistogramVec
	authCallbacks *prometheus.CounterVec
	cameras       prometheus.Gauge
}

// New creates the metrics on a private registry together with the
// standard process and Go collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{
		registry: reg,
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Playback requests forwarded to the relay, by operation and outcome.",
		}, []string{"op", "outcome"}),
		relayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Time until the relay answered a playback request.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
		controlCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "calls_total",
			Help:      "Control agent invocations, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		controlTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "call_duration_seconds",
			Help:      "Control agent run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		authCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "callbacks_total",
			Help:      "Relay authentication callbacks, by result.",
		}, []string{"result"}),
		cameras: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cameras",
			Help:      "Number of registered cameras.",
		}),
	}

	reg.MustRegister(m.relayRequests, m.relayDuration, m.controlCalls, m.controlTime, m.authCallbacks, m.cameras)
	return m
}

// ObserveRelay records a relay call
func (m *Metrics) ObserveRelay(op, outcome string, elapsed time.Duration) {
	m.relayRequests.WithLabelValues(op, outcome).Inc()
	m.relayDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveControl records a control agent call
func (m *Metrics) ObserveControl(kind, outcome string, elapsed time.Duration) {
	m.controlCalls.WithLabelValues(kind, outcome).Inc()
	m.controlTime.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveAuth records a relay authentication callback
func (m *Metrics) ObserveAuth(result string) {
	m.authCallbacks.WithLabelValues(result).Inc()
}

// SetCameras records the registry size
func (m *Metrics) SetCameras(n int) {
	m.cameras.Set(float64(n))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
