package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	previewStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "preview",
			Name:      "starts_total",
			Help:      "Number of successful preview starts.",
		}, []string{"mode"},
	)
	previewStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "preview",
			Name:      "stops_total",
			Help:      "Number of previews stopped (explicit or reclaimed).",
		},
	)
	launchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "launch",
			Name:      "retries_total",
			Help:      "Number of launch pipeline retries.",
		},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "launch",
			Name:      "failures_total",
			Help:      "Number of launches that exhausted all retries.",
		},
	)
	reclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "preview",
			Name:      "reclaimed_total",
			Help:      "Number of previews reclaimed, by reason.",
		}, []string{"reason"},
	)
	runningPreviews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "previewd",
			Subsystem: "preview",
			Name:      "running",
			Help:      "Current number of tracked previews.",
		},
	)
	allocatedPorts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "previewd",
			Subsystem: "ports",
			Name:      "allocated",
			Help:      "Current number of allocated ports.",
		},
	)
	launchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "previewd",
			Subsystem: "launch",
			Name:      "duration_seconds",
			Help:      "Wall time from start request to ready, including retries.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 240, 480},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		previewStarts, previewStops, launchRetries, launchFailures,
		reclaimed, runningPreviews, allocatedPorts, launchDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(mode string) {
	if regOK.Load() {
		previewStarts.WithLabelValues(mode).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		previewStops.Inc()
	}
}

func IncRetry() {
	if regOK.Load() {
		launchRetries.Inc()
	}
}

func IncLaunchFailure() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}

func IncReclaimed(reason string) {
	if regOK.Load() {
		reclaimed.WithLabelValues(reason).Inc()
	}
}

func SetRunningPreviews(n int) {
	if regOK.Load() {
		runningPreviews.Set(float64(n))
	}
}

func SetAllocatedPorts(n int) {
	if regOK.Load() {
		allocatedPorts.Set(float64(n))
	}
}

func ObserveLaunchDuration(seconds float64) {
	if regOK.Load() {
		launchDuration.Observe(seconds)
	}
}
