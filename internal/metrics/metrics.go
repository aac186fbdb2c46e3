package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chaintracker"

// Registry holds the tracker's Prometheus collectors. A nil *Registry is a
// valid no-op recorder.
type Registry struct {
	reg *prometheus.Registry

	PullsTotal      *prometheus.CounterVec
	PullDuration    *prometheus.HistogramVec
	LayerStatus     *prometheus.GaugeVec
	Generations     *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	LastGeneratedAt prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go and
// process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		PullsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_pulls_total",
				Help:      "Source pulls by source and resulting payload status",
			},
			[]string{"source", "status"},
		),
		PullDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_pull_duration_seconds",
				Help:      "Duration of one source pull including persistence",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
			},
			[]string{"source"},
		),
		LayerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "layer_status",
				Help:      "Latest layer status (0=neutral, 1=elevated, 2=stressed)",
			},
			[]string{"layer"},
		),
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Daily package generations by result",
			},
			[]string{"result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Digest notifications by result",
			},
			[]string{"result"},
		),
		LastGeneratedAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_generation_timestamp_seconds",
				Help:      "Unix time of the last successful generation",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.PullsTotal,
		r.PullDuration,
		r.LayerStatus,
		r.Generations,
		r.Notifications,
		r.LastGeneratedAt,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{Registry: r.reg})
}

// ObservePull records one source pull.
func (r *Registry) ObservePull(sourceID, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.PullsTotal.WithLabelValues(sourceID, status).Inc()
	r.PullDuration.WithLabelValues(sourceID).Observe(elapsed.Seconds())
}

// SetLayer stores a layer's status rank.
func (r *Registry) SetLayer(name string, rank int) {
	if r == nil {
		return
	}
	r.LayerStatus.WithLabelValues(name).Set(float64(rank))
}

// ObserveGeneration counts a generation; successful ones also stamp the time.
func (r *Registry) ObserveGeneration(err error, at time.Time) {
	if r == nil {
		return
	}
	if err != nil {
		r.Generations.WithLabelValues("error").Inc()
		return
	}
	r.Generations.WithLabelValues("ok").Inc()
	r.LastGeneratedAt.Set(float64(at.Unix()))
}

// ObserveNotification counts a notification attempt.
func (r *Registry) ObserveNotification(err error) {
	if r == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	r.Notifications.WithLabelValues(result).Inc()
}
