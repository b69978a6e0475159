// Package observability owns the Prometheus registry, the HTTP
// instrumentation middleware and the warehouse domain counters.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal   *prometheus.CounterVec
	rejectionsTotal  prometheus.Counter
	formulaFailures  prometheus.Counter
	reconcileDrift   prometheus.Gauge
	overdueShipments prometheus.Counter
}

// NewMetrics initialises the registry with the HTTP and domain metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockyard_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockyard_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockyard_movements_total",
		Help: "Committed stock movements by kind.",
	}, []string{"kind"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_stock_rejections_total",
		Help: "Movements rejected for insufficient available stock.",
	})
	formulaFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_formula_failures_total",
		Help: "Volume formula evaluations that failed.",
	})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockyard_reconcile_drift_buckets",
		Help: "Buckets whose journal sum disagreed with the stored balance at last reconciliation.",
	})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockyard_overdue_shipments_total",
		Help: "Shipments flagged overdue by the background scan.",
	})
	registry.MustRegister(requests, duration, movements, rejections, formulaFailures, drift, overdue)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		movementsTotal:   movements,
		rejectionsTotal:  rejections,
		formulaFailures:  formulaFailures,
		reconcileDrift:   drift,
		overdueShipments: overdue,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementPosted counts one committed movement of the given kind.
func (m *Metrics) MovementPosted(kind string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(kind).Inc()
}

// StockRejected counts one insufficient-stock rejection.
func (m *Metrics) StockRejected() {
	if m == nil {
		return
	}
	m.rejectionsTotal.Inc()
}

// FormulaFailure counts one failed volume formula evaluation.
func (m *Metrics) FormulaFailure() {
	if m == nil {
		return
	}
	m.formulaFailures.Inc()
}

// ReconcileDrift records how many buckets drifted at the last reconciliation.
func (m *Metrics) ReconcileDrift(buckets int) {
	if m == nil {
		return
	}
	m.reconcileDrift.Set(float64(buckets))
}

// ShipmentOverdue counts one shipment flagged overdue.
func (m *Metrics) ShipmentOverdue() {
	if m == nil {
		return
	}
	m.overdueShipments.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
