// Package metrics holds the Prometheus collectors for the relay. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	// Relay metrics
	RelayCalls    *prometheus.CounterVec
	RelayDuration *prometheus.HistogramVec
	InFlight      prometheus.Gauge
	Dropped       *prometheus.CounterVec

	// Bridge metrics
	BridgeUp       prometheus.Gauge
	BridgeRequests *prometheus.CounterVec

	// Capture metrics
	TokensCaptured *prometheus.CounterVec
	CaptureErrors  prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := factory{reg}

	m := &Metrics{
		Registry: reg,
		RelayCalls: f.counterVec(prometheus.CounterOpts{
			Name: "pagerelay_relay_calls_total",
			Help: "Relay calls by operation and outcome",
		}, "op", "outcome"),
		RelayDuration: f.histogramVec(prometheus.HistogramOpts{
			Name:    "pagerelay_relay_call_duration_seconds",
			Help:    "Relay call latency",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, "op"),
		InFlight: f.gauge(prometheus.GaugeOpts{
			Name: "pagerelay_relay_in_flight",
			Help: "Fetches waiting for a bridge result",
		}),
		Dropped: f.counterVec(prometheus.CounterOpts{
			Name: "pagerelay_relay_dropped_messages_total",
			Help: "Inbound messages ignored by the relay",
		}, "reason"),
		BridgeUp: f.gauge(prometheus.GaugeOpts{
			Name: "pagerelay_bridge_up",
			Help: "1 when the last liveness probe was answered",
		}),
		BridgeRequests: f.counterVec(prometheus.CounterOpts{
			Name: "pagerelay_bridge_requests_total",
			Help: "Requests executed by the page bridge",
		}, "status_class"),
		TokensCaptured: f.counterVec(prometheus.CounterOpts{
			Name: "pagerelay_tokens_captured_total",
			Help: "Bearer tokens accepted by the capture path",
		}, "source"),
		CaptureErrors: f.counter(prometheus.CounterOpts{
			Name: "pagerelay_capture_errors_total",
			Help: "Capture path failures that were swallowed",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveCall records one relay operation.
func (m *Metrics) ObserveCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RelayCalls.WithLabelValues(op, outcome).Inc()
	m.RelayDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetInFlight records the size of the correlation table.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// Drop counts an ignored inbound message.
func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// SetBridgeUp records the result of a liveness probe.
func (m *Metrics) SetBridgeUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BridgeUp.Set(1)
	} else {
		m.BridgeUp.Set(0)
	}
}

// BridgeRequest counts a request executed by the bridge.
func (m *Metrics) BridgeRequest(status int) {
	if m == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = fmt.Sprintf("%dxx", status/100)
	}
	m.BridgeRequests.WithLabelValues(class).Inc()
}

// TokenCaptured counts an accepted token.
func (m *Metrics) TokenCaptured(source string) {
	if m == nil {
		return
	}
	m.TokensCaptured.WithLabelValues(source).Inc()
}

// CaptureError counts a swallowed capture failure.
func (m *Metrics) CaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

type factory struct{ reg prometheus.Registerer }

func (f factory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}

func (f factory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	f.reg.MustRegister(g)
	return g
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}
