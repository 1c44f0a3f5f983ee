// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Push results
const (
	PushOK       = "ok"
	PushRejected = "rejected"
	PushFailed   = "error"
)

// Registry holds all gateway metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// HTTP front-end
	Requests          *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
	RateLimited       prometheus.Counter
	ActiveConnections prometheus.Gauge

	// Decisions
	Decisions *prometheus.CounterVec
	Strikes   prometheus.Counter
	Blocks    prometheus.Counter
	Grants    *prometheus.CounterVec

	// Device pushes
	Pushes       *prometheus.CounterVec
	PushDuration *prometheus.HistogramVec

	// State
	Addresses *prometheus.GaugeVec
	Users     prometheus.Gauge

	// System
	Uptime       prometheus.Gauge
	ConfigReload *prometheus.CounterVec
	BuildInfo    *prometheus.GaugeVec
}

// Get returns the process-wide registry, creating it on first use. It is
// backed by its own prometheus.Registry rather than the global default.
func Get() *Registry {
	once.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = NewRegistry(reg, reg)
	})
	return registry
}

// NewRegistry registers all metrics with reg. Tests pass a fresh
// prometheus.Registry for both arguments.
func NewRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	f := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.Requests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockgate_requests_total",
		Help: "Knock requests by outcome",
	}, []string{"outcome"})

	r.RequestLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knockgate_request_duration_seconds",
		Help:    "Knock request latency, including the device push",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	r.RateLimited = f.NewCounter(prometheus.CounterOpts{
		Name: "knockgate_rate_limited_total",
		Help: "Requests refused by the per-address rate limit",
	})

	r.ActiveConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockgate_active_connections",
		Help: "Open connections on the knock listener",
	})

	r.Decisions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockgate_decisions_total",
		Help: "Engine decisions by behavior and resulting status",
	}, []string{"behavior", "status"})

	r.Strikes = f.NewCounter(prometheus.CounterOpts{
		Name: "knockgate_strikes_total",
		Help: "Strikes recorded against untrusted addresses",
	})

	r.Blocks = f.NewCounter(prometheus.CounterOpts{
		Name: "knockgate_blocks_total",
		Help: "Addresses sent to the black list",
	})

	r.Grants = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockgate_grants_total",
		Help: "Accepted passcodes by grant kind",
	}, []string{"kind"})

	r.Pushes = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockgate_device_pushes_total",
		Help: "Address-list pushes by list and result",
	}, []string{"list", "result"})

	r.PushDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knockgate_device_push_duration_seconds",
		Help:    "Address-list push latency",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"list"})

	r.Addresses = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "knockgate_addresses",
		Help: "Known source addresses by status",
	}, []string{"status"})

	r.Users = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockgate_users",
		Help: "Configured users",
	})

	r.Uptime = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockgate_uptime_seconds",
		Help: "Gateway uptime in seconds",
	})

	r.ConfigReload = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockgate_config_reloads_total",
		Help: "Configuration reloads by status",
	}, []string{"status"})

	r.BuildInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "knockgate_build_info",
		Help: "Build information",
	}, []string{"version"})

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest records one finished knock request.
func (r *Registry) RecordRequest(outcome string, duration time.Duration) {
	r.Requests.WithLabelValues(outcome).Inc()
	r.RequestLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDecision records one applied engine decision.
func (r *Registry) RecordDecision(behavior, status string) {
	r.Decisions.WithLabelValues(behavior, status).Inc()
}

// RecordPush records one address-list push.
func (r *Registry) RecordPush(list, result string, duration time.Duration) {
	r.Pushes.WithLabelValues(list, result).Inc()
	r.PushDuration.WithLabelValues(list).Observe(duration.Seconds())
}

// RecordReload records a configuration reload attempt.
func (r *Registry) RecordReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	r.ConfigReload.WithLabelValues(status).Inc()
}

// SetVersion publishes the build version.
func (r *Registry) SetVersion(version string) {
	r.BuildInfo.Reset()
	r.BuildInfo.WithLabelValues(version).Set(1)
}
